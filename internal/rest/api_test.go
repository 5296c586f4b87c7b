// ABOUTME: Tests for the REST API routes over a real broker.
// ABOUTME: Uses httptest recorders and a stub upstream; the ledger is an in-memory store.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mux    *http.ServeMux
	broker *broker.Broker
	ledger *store.MockStore
}

func newFixture(t *testing.T, withLedger bool, resources ...broker.Resource) *fixture {
	t.Helper()
	b, err := broker.New(broker.Config{Resources: resources, Logger: testLogger()})
	require.NoError(t, err)

	f := &fixture{mux: http.NewServeMux(), broker: b}
	cfg := Config{Broker: b, Logger: testLogger()}
	if withLedger {
		f.ledger = store.NewMockStore()
		cfg.Ledger = f.ledger
	}

	api, err := New(cfg)
	require.NoError(t, err)
	api.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func stubUpstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func localResource(endpoint string) broker.Resource {
	return broker.Resource{
		ID: "local", Name: "Local Model", Type: broker.ResourceTypeModel, Provider: "local",
		Endpoint: endpoint, Capabilities: []string{broker.CapabilityTextGeneration},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestListResources(t *testing.T) {
	f := newFixture(t, false, broker.DefaultCatalog()...)

	t.Run("all resources", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/resources", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Resources []broker.ResourceInfo `json:"resources"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Len(t, resp.Resources, len(broker.DefaultCatalog()))
	})

	t.Run("capability filter returns callable matches only", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/resources?capability=text-generation", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Resources []broker.ResourceSummary `json:"resources"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Resources, 1)
		assert.Equal(t, "local-llama", resp.Resources[0].ID)
	})

	t.Run("provider filter", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/resources?capability=text-generation&provider=openai", "")
		var resp struct {
			Resources []broker.ResourceSummary `json:"resources"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Empty(t, resp.Resources)
	})
}

func TestExecute(t *testing.T) {
	up := stubUpstream(t, http.StatusOK, `{"choices":[]}`)
	f := newFixture(t, true, localResource(up.URL))

	t.Run("success", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/resources", `{"resourceId":"local","params":{"prompt":"hi"}}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var out broker.Outcome
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
		assert.True(t, out.Success)
		assert.JSONEq(t, `{"choices":[]}`, string(out.Data))
		assert.Equal(t, "Local Model", out.ResourceUsed)
	})

	t.Run("unknown resource is an outcome", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/resources", `{"resourceId":"ghost"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var out broker.Outcome
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
		assert.False(t, out.Success)
		assert.Equal(t, broker.KindResourceNotFound, out.Kind)
	})

	t.Run("missing resourceId", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/resources", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/resources", `{`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("calls are recorded", func(t *testing.T) {
		calls, err := f.ledger.ListCalls(context.Background(), store.CallFilter{})
		require.NoError(t, err)
		assert.Len(t, calls, 2)
		for _, c := range calls {
			assert.True(t, strings.HasPrefix(c.EnvelopeID, "rest-"))
		}
	})
}

func TestExecuteKeepsLargeIntegers(t *testing.T) {
	var got atomic.Value
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		got.Store(string(raw))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(up.Close)
	f := newFixture(t, false, localResource(up.URL))

	rr := f.do(t, http.MethodPost, "/api/resources", `{"resourceId":"local","params":{"seed":9007199254740993}}`)
	require.Equal(t, http.StatusOK, rr.Code)

	body, _ := got.Load().(string)
	assert.Contains(t, body, `"seed":9007199254740993`)
}

func TestExecuteUpstreamFailure(t *testing.T) {
	up := stubUpstream(t, http.StatusServiceUnavailable, `{"error":"overloaded"}`)
	f := newFixture(t, false, localResource(up.URL))

	rr := f.do(t, http.MethodPost, "/api/resources", `{"resourceId":"local"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var out broker.Outcome
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, broker.KindUpstream, out.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode)
}

func TestKeys(t *testing.T) {
	f := newFixture(t, false, broker.DefaultCatalog()...)

	t.Run("add links resources", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/keys", `{"name":"main","value":"sk-live","provider":"openai","type":"api_key"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AddKeyResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.CredentialID)
		assert.ElementsMatch(t, []string{"openai-gpt4", "openai-whisper", "openai-tts"}, resp.LinkedResources)
	})

	t.Run("list masks values", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/keys", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "sk-live")

		var resp KeysResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Keys, 1)
		assert.Equal(t, broker.MaskedValue, resp.Keys[0].Value)
	})

	t.Run("missing field", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/keys", `{"name":"main","value":"sk-live"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NotContains(t, rr.Body.String(), "sk-live")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rr := f.do(t, http.MethodDelete, "/api/keys", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestAgent(t *testing.T) {
	up := stubUpstream(t, http.StatusOK, `{"text":"done"}`)
	f := newFixture(t, false, localResource(up.URL))

	t.Run("select only", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/agent", `{"task":"write a scope of work"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AgentResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.SelectedResource)
		assert.Equal(t, "local", resp.SelectedResource.ID)
		assert.Nil(t, resp.Execution)
	})

	t.Run("select and execute", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/agent", `{"task":"write a scope of work","autoExecute":true,"params":{"prompt":"x"}}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AgentResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.NotNil(t, resp.Execution)
		assert.True(t, resp.Execution.Success)
		assert.JSONEq(t, `{"text":"done"}`, string(resp.Execution.Data))
	})

	t.Run("no suitable resource", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/agent", `{"task":"transcribe the site walk"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AgentResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "No suitable resource found for this task", resp.Error)
		assert.NotEmpty(t, resp.Suggestions)
	})

	t.Run("missing task", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/agent", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCalls(t *testing.T) {
	t.Run("disabled ledger", func(t *testing.T) {
		f := newFixture(t, false)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/calls", "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/calls/stats", "").Code)
	})

	t.Run("lists and aggregates", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		require.NoError(t, f.ledger.RecordCall(ctx, &store.CallRecord{ResourceID: "a", Success: true}))
		require.NoError(t, f.ledger.RecordCall(ctx, &store.CallRecord{ResourceID: "a", Success: false, Kind: "TransportError"}))
		require.NoError(t, f.ledger.RecordCall(ctx, &store.CallRecord{ResourceID: "b", Success: true}))

		rr := f.do(t, http.MethodGet, "/api/calls?limit=2", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var calls CallsResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&calls))
		assert.Len(t, calls.Calls, 2)

		rr = f.do(t, http.MethodGet, "/api/calls?resource=b", "")
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&calls))
		require.Len(t, calls.Calls, 1)
		assert.Equal(t, "b", calls.Calls[0].ResourceID)

		rr = f.do(t, http.MethodGet, "/api/calls/stats", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var stats CallStatsResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
		assert.Equal(t, []store.CallStats{
			{ResourceID: "a", Total: 2, Failures: 1},
			{ResourceID: "b", Total: 1, Failures: 0},
		}, stats.Stats)
	})

	t.Run("bad limit", func(t *testing.T) {
		f := newFixture(t, true)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/calls?limit=lots", "").Code)
	})
}
