// ABOUTME: Go client for the gateway's envelope endpoint with retry-with-backoff.
// ABOUTME: Retries transport failures and gateway-unavailable statuses, never protocol errors.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/protocol"
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultBaseURL         = "http://localhost:8080"
	DefaultTimeout         = 60 * time.Second
	DefaultMaxElapsed      = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond
)

// ErrUnavailable wraps failures where the gateway could not be reached or
// reported itself unavailable for the whole retry window.
var ErrUnavailable = errors.New("gateway unavailable")

// errTransportOutcome marks a resources.call outcome worth retrying.
var errTransportOutcome = errors.New("resource call hit a transport error")

// Config holds client options.
type Config struct {
	BaseURL string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxElapsed bounds the total time spent retrying one call.
	MaxElapsed time.Duration

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	Logger *slog.Logger
}

// Client talks to a gateway's /mcp endpoint.
type Client struct {
	http            *resty.Client
	maxElapsed      time.Duration
	initialInterval time.Duration
	logger          *slog.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = DefaultInitialInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:            httpClient,
		maxElapsed:      maxElapsed,
		initialInterval: initial,
		logger:          logger.With("component", "client"),
	}
}

// BaseURL returns the gateway URL this client targets.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// StatusError is a non-2xx HTTP answer from the gateway.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %s", e.Status)
}

// retryableStatus reports whether the gateway (or a proxy in front of it)
// signalled a transient condition.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxElapsedTime = c.maxElapsed
	return backoff.WithContext(bo, ctx)
}

// attempt posts one envelope. Errors wrapped with backoff.Permanent stop retries.
func (c *Client) attempt(ctx context.Context, env protocol.Envelope) (*protocol.Envelope, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(env).
		Post("/mcp")
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode() == http.StatusAccepted {
		return nil, nil
	}
	if !resp.IsSuccess() {
		statusErr := &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
		if retryableStatus(resp.StatusCode()) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, statusErr)
		}
		return nil, backoff.Permanent(statusErr)
	}

	var out protocol.Envelope
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding response envelope: %w", err))
	}
	return &out, nil
}

// Call sends a request envelope and returns the response envelope, which may
// carry a protocol error. Connection failures and 502/503/504 answers are
// retried with exponential backoff; a decoded envelope is never retried.
func (c *Client) Call(ctx context.Context, method string, params any) (*protocol.Envelope, error) {
	env, err := protocol.NewRequest(uuid.New().String(), method, params)
	if err != nil {
		return nil, err
	}

	var resp *protocol.Envelope
	err = backoff.RetryNotify(func() error {
		var attemptErr error
		resp, attemptErr = c.attempt(ctx, env)
		return attemptErr
	}, c.newBackOff(ctx), c.notify(method))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("gateway accepted %s without a response", method)
	}
	return resp, nil
}

// Notify sends a notification envelope. The gateway acknowledges without a body.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	env, err := protocol.NewRequest("", method, params)
	if err != nil {
		return err
	}
	env.Kind = protocol.KindNotification

	return backoff.RetryNotify(func() error {
		_, err := c.attempt(ctx, env)
		return err
	}, c.newBackOff(ctx), c.notify(method))
}

func (c *Client) notify(method string) backoff.Notify {
	return func(err error, wait time.Duration) {
		c.logger.Debug("retrying gateway call", "method", method, "wait", wait, "error", err)
	}
}

// do calls method and decodes a successful result into dst. A protocol
// error is returned as *protocol.Error.
func (c *Client) do(ctx context.Context, method string, params, dst any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return resp.DecodeResult(dst)
}

// ListResources returns every resource known to the gateway.
func (c *Client) ListResources(ctx context.Context) ([]broker.ResourceInfo, error) {
	var out protocol.ResourcesListResult
	if err := c.do(ctx, protocol.MethodResourcesList, nil, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// QueryResources returns the callable resources matching q.
func (c *Client) QueryResources(ctx context.Context, q broker.Query) ([]broker.ResourceSummary, error) {
	var out protocol.ResourcesQueryResult
	params := protocol.ResourcesQueryParams{
		Capability: q.Capability,
		Type:       string(q.Type),
		Provider:   q.Provider,
	}
	if err := c.do(ctx, protocol.MethodResourcesQuery, params, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// AutoSelect asks the gateway to choose a resource for task.
func (c *Client) AutoSelect(ctx context.Context, task string) (*protocol.AutoSelectResult, error) {
	var out protocol.AutoSelectResult
	if err := c.do(ctx, protocol.MethodAgentAutoSelect, protocol.AutoSelectParams{Task: task}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCredential stores a credential on the gateway.
func (c *Client) AddCredential(ctx context.Context, p protocol.CredentialsAddParams) (*protocol.CredentialsAddResult, error) {
	var out protocol.CredentialsAddResult
	if err := c.do(ctx, protocol.MethodCredentialsAdd, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCredentials returns the gateway's credentials with values masked.
func (c *Client) ListCredentials(ctx context.Context) ([]broker.CredentialInfo, error) {
	var out protocol.CredentialsListResult
	if err := c.do(ctx, protocol.MethodCredentialsList, nil, &out); err != nil {
		return nil, err
	}
	return out.Credentials, nil
}

// CallResource executes a resource through the gateway. Besides the
// transport retries of Call, it retries when the outcome reports a
// TransportError between the gateway and the provider. UpstreamError and
// every other failure kind are returned on the first attempt. When retries
// run out the last outcome is returned.
func (c *Client) CallResource(ctx context.Context, resourceID string, params map[string]any) (broker.Outcome, error) {
	env, err := protocol.NewRequest(uuid.New().String(), protocol.MethodResourcesCall, protocol.ResourcesCallParams{
		ResourceID: resourceID,
		Params:     params,
	})
	if err != nil {
		return broker.Outcome{}, err
	}

	// The id stays fixed while the gateway is unreachable so a replayed
	// response can answer a retry whose first reply was lost. A transport
	// failure outcome is a completed call, so the next attempt is new.
	var last broker.Outcome
	regenerate := false
	op := func() error {
		if regenerate {
			env.ID = uuid.New().String()
			regenerate = false
		}
		resp, err := c.attempt(ctx, env)
		if err != nil {
			return err
		}
		if resp == nil {
			return backoff.Permanent(errors.New("gateway accepted resources.call without a response"))
		}
		if err := resp.DecodeResult(&last); err != nil {
			return backoff.Permanent(err)
		}
		if !last.Success && last.Kind == broker.KindTransport {
			regenerate = true
			return errTransportOutcome
		}
		return nil
	}

	err = backoff.RetryNotify(op, c.newBackOff(ctx), c.notify(protocol.MethodResourcesCall))
	if errors.Is(err, errTransportOutcome) {
		return last, nil
	}
	if err != nil {
		return broker.Outcome{}, err
	}
	return last, nil
}
