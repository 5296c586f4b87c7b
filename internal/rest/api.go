// ABOUTME: Plain HTTP JSON API over the broker: resources, keys, agent selection, and the call ledger.
// ABOUTME: Shares the broker and outcome shapes with the envelope protocol.

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Broker is the subset of *broker.Broker the API depends on.
type Broker interface {
	ListResources() []broker.ResourceInfo
	FindAllResources(q broker.Query) []broker.Resource
	AutoSelect(task string) (broker.Resource, bool)
	Execute(ctx context.Context, resourceID string, params map[string]any) (*broker.Result, error)
	AddCredential(cred broker.Credential) (broker.AddCredentialResult, error)
	ListCredentials() []broker.CredentialInfo
}

// Config holds configuration for the REST API.
type Config struct {
	Broker Broker
	Ledger store.CallStore // optional; ledger routes answer 404 when nil
	Logger *slog.Logger
}

// API serves the /api routes.
type API struct {
	broker Broker
	ledger store.CallStore
	logger *slog.Logger
}

// New creates a REST API.
func New(cfg Config) (*API, error) {
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		broker: cfg.Broker,
		ledger: cfg.Ledger,
		logger: logger,
	}, nil
}

// RegisterRoutes registers the API endpoints on the given ServeMux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/resources", a.handleResources)
	mux.HandleFunc("/api/keys", a.handleKeys)
	mux.HandleFunc("/api/agent", a.handleAgent)
	mux.HandleFunc("/api/calls", a.handleCalls)
	mux.HandleFunc("/api/calls/stats", a.handleCallStats)
}

// Request and response types

// ResourcesResponse is returned by GET /api/resources.
type ResourcesResponse struct {
	Resources any `json:"resources"`
}

// ExecuteRequest is the body of POST /api/resources.
type ExecuteRequest struct {
	ResourceID string         `json:"resourceId"`
	Params     map[string]any `json:"params"`
}

// KeysResponse is returned by GET /api/keys.
type KeysResponse struct {
	Keys []broker.CredentialInfo `json:"keys"`
}

// AddKeyRequest is the body of POST /api/keys.
type AddKeyRequest struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Provider string `json:"provider"`
	Type     string `json:"type"`
}

// AddKeyResponse is returned by POST /api/keys.
type AddKeyResponse struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	CredentialID    string   `json:"credentialId"`
	LinkedResources []string `json:"linkedResources"`
}

// AgentRequest is the body of POST /api/agent.
type AgentRequest struct {
	Task        string         `json:"task"`
	AutoExecute bool           `json:"autoExecute"`
	Params      map[string]any `json:"params"`
}

// AgentResponse is returned by POST /api/agent.
type AgentResponse struct {
	Success          bool                    `json:"success"`
	SelectedResource *broker.ResourceSummary `json:"selectedResource,omitempty"`
	Suggestion       string                  `json:"suggestion,omitempty"`
	Execution        *broker.Outcome         `json:"execution,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Suggestions      []string                `json:"suggestions,omitempty"`
}

// CallsResponse is returned by GET /api/calls.
type CallsResponse struct {
	Calls []store.CallRecord `json:"calls"`
}

// CallStatsResponse is returned by GET /api/calls/stats.
type CallStatsResponse struct {
	Stats []store.CallStats `json:"stats"`
}

// handleResources routes resource requests by HTTP method.
func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleListResources(w, r)
	case http.MethodPost:
		a.handleExecute(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListResources handles GET /api/resources.
// With a capability query param the result is the callable matches only.
func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capability := q.Get("capability")

	if capability == "" {
		a.sendJSON(w, http.StatusOK, ResourcesResponse{Resources: a.broker.ListResources()})
		return
	}

	matches := a.broker.FindAllResources(broker.Query{
		Capability: capability,
		Type:       broker.ResourceType(q.Get("type")),
		Provider:   q.Get("provider"),
	})
	summaries := make([]broker.ResourceSummary, 0, len(matches))
	for _, res := range matches {
		summaries = append(summaries, res.Summary())
	}
	a.sendJSON(w, http.StatusOK, ResourcesResponse{Resources: summaries})
}

// handleExecute handles POST /api/resources.
func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResourceID == "" {
		a.sendJSONError(w, http.StatusBadRequest, "resourceId is required")
		return
	}

	outcome, err := a.execute(r.Context(), req.ResourceID, req.Params)
	if err != nil {
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.sendJSON(w, http.StatusOK, outcome)
}

// execute runs a broker call, converts it to an Outcome, and records it.
func (a *API) execute(ctx context.Context, resourceID string, params map[string]any) (broker.Outcome, error) {
	start := time.Now()
	result, err := a.broker.Execute(ctx, resourceID, params)
	elapsed := time.Since(start)

	outcome, err := broker.OutcomeOf(result, err)
	if err != nil {
		a.logger.Error("resource call failed unexpectedly", "resource_id", resourceID, "error", err)
		return broker.Outcome{}, err
	}

	if a.ledger != nil {
		rec := &store.CallRecord{
			EnvelopeID: "rest-" + uuid.New().String(),
			ResourceID: resourceID,
			Success:    outcome.Success,
			Kind:       string(outcome.Kind),
			StatusCode: outcome.StatusCode,
			DurationMs: elapsed.Milliseconds(),
		}
		if err := a.ledger.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
			a.logger.Warn("failed to record call", "resource_id", resourceID, "error", err)
		}
	}
	return outcome, nil
}

// handleKeys routes key requests by HTTP method.
func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.sendJSON(w, http.StatusOK, KeysResponse{Keys: a.broker.ListCredentials()})
	case http.MethodPost:
		a.handleAddKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAddKey handles POST /api/keys.
func (a *API) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Value == "" || req.Provider == "" || req.Type == "" {
		a.sendJSONError(w, http.StatusBadRequest, "Missing required fields: name, value, provider, type")
		return
	}

	added, err := a.broker.AddCredential(broker.Credential{
		Name:     req.Name,
		Provider: req.Provider,
		Type:     req.Type,
		Value:    req.Value,
	})
	if err != nil {
		a.logger.Error("failed to add credential", "provider", req.Provider, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	a.sendJSON(w, http.StatusOK, AddKeyResponse{
		Success:         true,
		Message:         fmt.Sprintf("API key for %s added successfully", req.Provider),
		CredentialID:    added.CredentialID,
		LinkedResources: added.LinkedResources,
	})
}

// handleAgent handles POST /api/agent: pick a resource for a task and
// optionally run it.
func (a *API) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AgentRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Task == "" {
		a.sendJSONError(w, http.StatusBadRequest, "Task description is required")
		return
	}

	res, ok := a.broker.AutoSelect(req.Task)
	if !ok {
		a.sendJSON(w, http.StatusOK, AgentResponse{
			Success: false,
			Error:   "No suitable resource found for this task",
			Suggestions: []string{
				"Try adding API keys for AI providers",
				"Check if the task description matches available capabilities",
			},
		})
		return
	}

	summary := res.Summary()
	resp := AgentResponse{
		Success:          true,
		SelectedResource: &summary,
		Suggestion:       fmt.Sprintf("Selected %s for: %s", res.Name, req.Task),
	}

	if req.AutoExecute {
		outcome, err := a.execute(r.Context(), res.ID, req.Params)
		if err != nil {
			a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp.Execution = &outcome
	}

	a.sendJSON(w, http.StatusOK, resp)
}

// handleCalls handles GET /api/calls?limit=N&resource=ID.
func (a *API) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.ledger == nil {
		a.sendJSONError(w, http.StatusNotFound, "call ledger is disabled")
		return
	}

	filter := store.CallFilter{ResourceID: r.URL.Query().Get("resource")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			a.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	calls, err := a.ledger.ListCalls(r.Context(), filter)
	if err != nil {
		a.logger.Error("failed to list calls", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.sendJSON(w, http.StatusOK, CallsResponse{Calls: calls})
}

// handleCallStats handles GET /api/calls/stats.
func (a *API) handleCallStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.ledger == nil {
		a.sendJSONError(w, http.StatusNotFound, "call ledger is disabled")
		return
	}

	stats, err := a.ledger.CallStats(r.Context())
	if err != nil {
		a.logger.Error("failed to compute call stats", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.sendJSON(w, http.StatusOK, CallStatsResponse{Stats: stats})
}

// decodeBody parses a size-limited JSON body into dst. Numbers are kept as
// json.Number so call params are forwarded without float rounding.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func (a *API) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.sendJSON(w, status, map[string]string{"error": message})
}
