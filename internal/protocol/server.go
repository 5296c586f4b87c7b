// ABOUTME: Envelope dispatcher that exposes broker operations as protocol methods.
// ABOUTME: Routes by method name, validates params, and maps failures onto protocol error codes.

package protocol

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/store"
)

// Method names.
const (
	MethodResourcesList   = "resources.list"
	MethodResourcesQuery  = "resources.query"
	MethodResourcesCall   = "resources.call"
	MethodAgentAutoSelect = "agent.autoSelect"
	MethodCredentialsAdd  = "credentials.add"
	MethodCredentialsList = "credentials.list"
)

// methodAliases maps the slash-style names some front-ends send.
var methodAliases = map[string]string{
	"resources/list":    MethodResourcesList,
	"resources/query":   MethodResourcesQuery,
	"resources/call":    MethodResourcesCall,
	"agent/auto-select": MethodAgentAutoSelect,
	"keys/add":          MethodCredentialsAdd,
	"keys/list":         MethodCredentialsList,
}

// Broker is the subset of *broker.Broker the server depends on.
type Broker interface {
	ListResources() []broker.ResourceInfo
	FindAllResources(q broker.Query) []broker.Resource
	AutoSelect(task string) (broker.Resource, bool)
	Execute(ctx context.Context, resourceID string, params map[string]any) (*broker.Result, error)
	AddCredential(cred broker.Credential) (broker.AddCredentialResult, error)
	ListCredentials() []broker.CredentialInfo
}

// CallRecorder receives one record per completed resources.call.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec *store.CallRecord) error
}

// ReplayCache remembers resources.call outcomes by request so a retried
// envelope is answered without calling the upstream again.
type ReplayCache interface {
	Get(key string) (broker.Outcome, bool)
	Put(key string, outcome broker.Outcome)
}

// Config holds configuration for the protocol server.
type Config struct {
	Broker   Broker
	Recorder CallRecorder // optional
	Replay   ReplayCache  // optional
	Logger   *slog.Logger
	Version  string
}

// Server dispatches envelopes to broker operations.
type Server struct {
	broker   Broker
	recorder CallRecorder
	replay   ReplayCache
	logger   *slog.Logger
	version  string
	methods  map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, env *Envelope) (any, *Error)

// NewServer creates a new protocol server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		broker:   cfg.Broker,
		recorder: cfg.Recorder,
		replay:   cfg.Replay,
		logger:   logger,
		version:  version,
	}
	s.methods = map[string]handlerFunc{
		MethodResourcesList:   s.handleResourcesList,
		MethodResourcesQuery:  s.handleResourcesQuery,
		MethodResourcesCall:   s.handleResourcesCall,
		MethodAgentAutoSelect: s.handleAutoSelect,
		MethodCredentialsAdd:  s.handleCredentialsAdd,
		MethodCredentialsList: s.handleCredentialsList,
	}
	return s, nil
}

// Methods returns the canonical method names, sorted.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handle processes one inbound envelope. It returns nil for notifications,
// which never receive a response. A request without an id is given a
// generated one so the response can still be correlated.
func (s *Server) Handle(ctx context.Context, env Envelope) *Envelope {
	if env.Kind == "" {
		env.Kind = KindRequest
	}

	switch env.Kind {
	case KindRequest, KindNotification:
	default:
		return errorResponse(env.ID, CodeInvalidRequest, fmt.Sprintf("unexpected envelope kind %q", env.Kind))
	}

	isNotification := env.Kind == KindNotification
	if !isNotification && env.ID == "" {
		env.ID = uuid.New().String()
	}

	if env.Method == "" {
		if isNotification {
			s.logger.Warn("dropping notification without method")
			return nil
		}
		return errorResponse(env.ID, CodeInvalidRequest, "method is required")
	}

	method := env.Method
	if canonical, ok := methodAliases[method]; ok {
		method = canonical
	}

	handler, ok := s.methods[method]
	if !ok {
		if isNotification {
			s.logger.Warn("dropping notification for unknown method", "method", env.Method)
			return nil
		}
		return errorResponse(env.ID, CodeMethodNotFound, "method not found: "+env.Method)
	}

	s.logger.Debug("→ dispatching",
		"id", env.ID,
		"method", method,
		"notification", isNotification,
	)

	result, perr := s.invoke(ctx, handler, &env)

	if isNotification {
		if perr != nil {
			s.logger.Warn("notification failed", "method", method, "code", perr.Code, "error", perr.Message)
		}
		return nil
	}

	if perr != nil {
		s.logger.Debug("← error", "id", env.ID, "method", method, "code", perr.Code)
		return &Envelope{ID: env.ID, Kind: KindResponse, Error: perr}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode result", "id", env.ID, "method", method, "error", err)
		return errorResponse(env.ID, CodeInternalError, "failed to encode result")
	}

	s.logger.Debug("← responded", "id", env.ID, "method", method)
	return &Envelope{ID: env.ID, Kind: KindResponse, Result: raw}
}

// invoke runs a handler, converting a panic into an internal error.
func (s *Server) invoke(ctx context.Context, h handlerFunc, env *Envelope) (result any, perr *Error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"id", env.ID,
				"method", env.Method,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result = nil
			perr = &Error{Code: CodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return h(ctx, env)
}

// decodeParams unmarshals params into dst. Absent or null params leave dst
// untouched. Numbers are kept as json.Number so large integers reach the
// upstream unchanged.
func decodeParams(raw json.RawMessage, dst any) *Error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + describeDecodeError(err)}
	}
	if dec.More() {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: params must be a single JSON value"}
	}
	return nil
}

// describeDecodeError reports where decoding failed without echoing input values.
func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("field %q must be %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Sprintf("params must be %s", typeErr.Type)
	}
	return "params must be a JSON object"
}

func missingParams(names ...string) *Error {
	return &Error{
		Code:    CodeInvalidParams,
		Message: "missing required parameter: " + strings.Join(names, ", "),
	}
}

func (s *Server) handleResourcesList(_ context.Context, _ *Envelope) (any, *Error) {
	return ResourcesListResult{Resources: s.broker.ListResources()}, nil
}

func (s *Server) handleResourcesQuery(_ context.Context, env *Envelope) (any, *Error) {
	var p ResourcesQueryParams
	if perr := decodeParams(env.Params, &p); perr != nil {
		return nil, perr
	}
	if p.Capability == "" {
		return nil, missingParams("capability")
	}

	matches := s.broker.FindAllResources(broker.Query{
		Capability: p.Capability,
		Type:       broker.ResourceType(p.Type),
		Provider:   p.Provider,
	})

	summaries := make([]broker.ResourceSummary, 0, len(matches))
	for _, res := range matches {
		summaries = append(summaries, res.Summary())
	}
	return ResourcesQueryResult{Resources: summaries, Count: len(summaries)}, nil
}

func (s *Server) handleResourcesCall(ctx context.Context, env *Envelope) (any, *Error) {
	var p ResourcesCallParams
	if perr := decodeParams(env.Params, &p); perr != nil {
		return nil, perr
	}
	if p.ResourceID == "" {
		return nil, missingParams("resourceId")
	}

	var key string
	if s.replay != nil && env.ID != "" {
		key = replayKey(env.ID, env.Params)
		if cached, ok := s.replay.Get(key); ok {
			s.logger.Info("replaying resources.call", "id", env.ID, "resource_id", p.ResourceID)
			return cached, nil
		}
	}

	start := time.Now()
	result, err := s.broker.Execute(ctx, p.ResourceID, p.Params)
	elapsed := time.Since(start)

	outcome, err := broker.OutcomeOf(result, err)
	if err != nil {
		s.logger.Error("resource call failed unexpectedly", "resource_id", p.ResourceID, "error", err)
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	if key != "" && reachedUpstream(outcome) {
		s.replay.Put(key, outcome)
	}

	s.record(ctx, env.ID, p.ResourceID, outcome, elapsed)
	return outcome, nil
}

// reachedUpstream reports whether the provider answered. Only those outcomes
// are replayed; a transport failure or a failed precondition such as a
// missing credential must be re-evaluated on retry.
func reachedUpstream(outcome broker.Outcome) bool {
	return outcome.Success || outcome.Kind == broker.KindUpstream
}

// replayKey binds an envelope id to its exact params, so a reused id with
// different params is executed rather than answered from the cache.
func replayKey(id string, params json.RawMessage) string {
	sum := sha256.Sum256(params)
	return id + ":" + hex.EncodeToString(sum[:])
}

// record writes a ledger entry when a recorder is configured. Failures are
// logged and never affect the response.
func (s *Server) record(ctx context.Context, envelopeID, resourceID string, outcome broker.Outcome, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	rec := &store.CallRecord{
		EnvelopeID: envelopeID,
		ResourceID: resourceID,
		Success:    outcome.Success,
		Kind:       string(outcome.Kind),
		StatusCode: outcome.StatusCode,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := s.recorder.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record call", "resource_id", resourceID, "error", err)
	}
}

func (s *Server) handleAutoSelect(_ context.Context, env *Envelope) (any, *Error) {
	var p AutoSelectParams
	if perr := decodeParams(env.Params, &p); perr != nil {
		return nil, perr
	}
	if p.Task == "" {
		return nil, missingParams("task")
	}

	capability := broker.SelectCapability(p.Task)
	res, ok := s.broker.AutoSelect(p.Task)
	if !ok {
		return AutoSelectResult{
			Capability: capability,
			Suggestion: fmt.Sprintf("No callable resource offers %s. Add a credential for a provider that does.", capability),
		}, nil
	}

	summary := res.Summary()
	return AutoSelectResult{
		Resource:   &summary,
		Capability: capability,
		Suggestion: fmt.Sprintf("Use %s for %s", res.Name, capability),
	}, nil
}

func (s *Server) handleCredentialsAdd(_ context.Context, env *Envelope) (any, *Error) {
	var p CredentialsAddParams
	if perr := decodeParams(env.Params, &p); perr != nil {
		return nil, perr
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", p.Name},
		{"value", p.Value},
		{"provider", p.Provider},
		{"type", p.Type},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, missingParams(missing...)
	}

	added, err := s.broker.AddCredential(broker.Credential{
		Name:     p.Name,
		Provider: p.Provider,
		Type:     p.Type,
		Value:    p.Value,
	})
	if err != nil {
		msg := strings.ReplaceAll(err.Error(), p.Value, broker.MaskedValue)
		s.logger.Error("failed to add credential", "provider", p.Provider, "error", msg)
		return nil, &Error{Code: CodeInternalError, Message: "failed to add credential: " + msg}
	}

	return CredentialsAddResult{
		Success:         true,
		Message:         fmt.Sprintf("Credential %s added for %s", p.Name, p.Provider),
		CredentialID:    added.CredentialID,
		LinkedResources: added.LinkedResources,
	}, nil
}

func (s *Server) handleCredentialsList(_ context.Context, _ *Envelope) (any, *Error) {
	return CredentialsListResult{Credentials: s.broker.ListCredentials()}, nil
}
