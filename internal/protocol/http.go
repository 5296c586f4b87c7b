// ABOUTME: HTTP transport for the envelope protocol: POST carries envelopes, GET reports server info.
// ABOUTME: Notifications are acknowledged with 202 and no body.

package protocol

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ServerName is reported by the info endpoint.
const ServerName = "trellis-gateway"

// InfoResponse is returned by GET /mcp.
type InfoResponse struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Methods []string `json:"methods"`
	Status  string   `json:"status"`
}

// RegisterRoutes registers the protocol endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleHTTP)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleInfo(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost decodes one envelope from the body and writes the response envelope.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeEnvelope(w, errorResponse("", CodeParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeEnvelope(w, errorResponse("", CodeInvalidRequest, "request body too large"))
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.writeEnvelope(w, errorResponse("", CodeParseError, "invalid JSON"))
		return
	}

	resp := s.Handle(r.Context(), env)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeEnvelope(w, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := InfoResponse{
		Name:    ServerName,
		Version: s.version,
		Methods: s.Methods(),
		Status:  "ready",
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.logger.Warn("failed to encode info response", "error", err)
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("failed to encode response envelope", "error", err)
	}
}
