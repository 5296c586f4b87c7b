// ABOUTME: Tests for outbound execution against stub upstream servers.
// ABOUTME: Covers auth framing, param merging, and every typed failure kind.

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest records what a stub upstream received.
type capturedRequest struct {
	header http.Header
	body   map[string]any
}

func stubUpstream(t *testing.T, status int, contentType, body string) (*httptest.Server, *capturedRequest, *atomic.Int32) {
	t.Helper()
	captured := &capturedRequest{}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		captured.header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, captured, &hits
}

func resourceAt(id, provider, endpoint string, requiresAuth bool) Resource {
	return Resource{
		ID:           id,
		Name:         id + " display",
		Type:         ResourceTypeModel,
		Provider:     provider,
		Endpoint:     endpoint,
		RequiresAuth: requiresAuth,
		Capabilities: []string{CapabilityTextGeneration},
		Config:       map[string]any{"model": "default-model", "temperature": 0.2},
	}
}

func TestExecuteSuccess(t *testing.T) {
	srv, captured, _ := stubUpstream(t, http.StatusOK, "application/json", `{"ok":true}`)
	b := newTestBroker(t, resourceAt("gpt", "openai", srv.URL, true))
	_, err := b.AddCredential(Credential{Provider: "openai", Value: "sk-test"})
	require.NoError(t, err)

	result, err := b.Execute(context.Background(), "gpt", map[string]any{"model": "override", "prompt": "hi"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(result.Payload))
	assert.Equal(t, "gpt display", result.ResourceName)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	assert.Equal(t, "Bearer sk-test", captured.header.Get("Authorization"))
	assert.Equal(t, "application/json", captured.header.Get("Content-Type"))
	assert.Equal(t, "override", captured.body["model"], "caller params win")
	assert.Equal(t, 0.2, captured.body["temperature"], "config defaults fill the rest")
	assert.Equal(t, "hi", captured.body["prompt"])
}

func TestExecuteDoesNotMutateResourceConfig(t *testing.T) {
	srv, _, _ := stubUpstream(t, http.StatusOK, "application/json", `{}`)
	b := newTestBroker(t, resourceAt("local", "local", srv.URL, false))

	_, err := b.Execute(context.Background(), "local", map[string]any{"model": "other"})
	require.NoError(t, err)

	res, ok := b.FindResource(Query{Capability: CapabilityTextGeneration})
	require.True(t, ok)
	assert.Equal(t, "default-model", res.Config["model"])
}

func TestExecuteProviderAuthFraming(t *testing.T) {
	tests := []struct {
		provider string
		check    func(t *testing.T, h http.Header)
	}{
		{
			provider: "openai",
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "Bearer secret", h.Get("Authorization"))
			},
		},
		{
			provider: "openrouter",
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "Bearer secret", h.Get("Authorization"))
			},
		},
		{
			provider: "anthropic",
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "secret", h.Get("x-api-key"))
				assert.Equal(t, AnthropicVersion, h.Get("anthropic-version"))
				assert.Empty(t, h.Get("Authorization"))
			},
		},
		{
			provider: "mystery",
			check: func(t *testing.T, h http.Header) {
				assert.Empty(t, h.Get("Authorization"))
				assert.Empty(t, h.Get("x-api-key"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			srv, captured, _ := stubUpstream(t, http.StatusOK, "application/json", `{}`)
			b := newTestBroker(t, resourceAt("r", tt.provider, srv.URL, true))
			_, err := b.AddCredential(Credential{Provider: tt.provider, Value: "secret"})
			require.NoError(t, err)

			_, err = b.Execute(context.Background(), "r", nil)
			require.NoError(t, err)
			tt.check(t, captured.header)
		})
	}
}

func TestExecuteCustomAuthenticator(t *testing.T) {
	srv, captured, _ := stubUpstream(t, http.StatusOK, "application/json", `{}`)
	b, err := New(Config{
		Resources: []Resource{resourceAt("r", "acme", srv.URL, true)},
		Authenticators: map[string]Authenticator{
			"acme": HeaderAuth("X-Acme-Key", "", ""),
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)
	_, err = b.AddCredential(Credential{Provider: "acme", Value: "acme-secret"})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "acme-secret", captured.header.Get("X-Acme-Key"))
}

func TestExecuteResourceNotFound(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Execute(context.Background(), "nope", nil)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, KindResourceNotFound, callErr.Kind)
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestExecuteCredentialMissingNeverTouchesNetwork(t *testing.T) {
	srv, _, hits := stubUpstream(t, http.StatusOK, "application/json", `{}`)

	for _, value := range []string{"", "<no credential>"} {
		b := newTestBroker(t, resourceAt("gpt", "openai", srv.URL, true))
		if value == "" {
			_, err := b.AddCredential(Credential{Provider: "openai"})
			require.NoError(t, err)
		}

		_, err := b.Execute(context.Background(), "gpt", map[string]any{"prompt": "x"})

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindCredentialMissing, callErr.Kind)
		assert.Contains(t, callErr.Suggestion, "openai")
		assert.False(t, callErr.Retryable())
	}
	assert.Zero(t, hits.Load())
}

func TestExecuteEndpointMissing(t *testing.T) {
	b := newTestBroker(t, resourceAt("offline", "local", "", false))
	_, err := b.Execute(context.Background(), "offline", nil)
	assert.ErrorIs(t, err, ErrEndpointMissing)
}

func TestExecuteUpstreamError(t *testing.T) {
	srv, _, hits := stubUpstream(t, http.StatusInternalServerError, "application/json", `{"error":"boom"}`)
	b := newTestBroker(t, resourceAt("local", "local", srv.URL, false))

	_, err := b.Execute(context.Background(), "local", nil)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, KindUpstream, callErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, callErr.StatusCode)
	assert.Contains(t, callErr.Status, "500")
	assert.False(t, callErr.Retryable())
	assert.Equal(t, int32(1), hits.Load(), "no automatic retry")
}

func TestExecuteTransportError(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		b := newTestBroker(t, resourceAt("local", "local", url, false))
		_, err := b.Execute(context.Background(), "local", nil)

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, KindTransport, callErr.Kind)
		assert.True(t, callErr.Retryable())
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		b, err := New(Config{
			Resources: []Resource{resourceAt("slow", "local", srv.URL, false)},
			Timeout:   50 * time.Millisecond,
			Logger:    testLogger(),
		})
		require.NoError(t, err)

		start := time.Now()
		_, err = b.Execute(context.Background(), "slow", nil)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The server only observes client disconnects once the body is consumed.
			_, _ = io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}))
		t.Cleanup(srv.Close)

		b := newTestBroker(t, resourceAt("slow", "local", srv.URL, false))
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := b.Execute(ctx, "slow", nil)
		assert.ErrorIs(t, err, ErrTransport)
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrTransport))
	})
}

func TestExecuteNonJSONPayload(t *testing.T) {
	srv, _, _ := stubUpstream(t, http.StatusOK, "audio/mpeg", "ID3\x00\x01binary")
	b := newTestBroker(t, resourceAt("tts", "local", srv.URL, false))

	result, err := b.Execute(context.Background(), "tts", nil)
	require.NoError(t, err)

	var wrapped binaryPayload
	require.NoError(t, json.Unmarshal(result.Payload, &wrapped))
	assert.Equal(t, "audio/mpeg", wrapped.ContentType)
	assert.Equal(t, "base64", wrapped.Encoding)
	assert.NotEmpty(t, wrapped.Body)
}

func TestExecuteDoesNotHoldLockDuringCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	b := newTestBroker(t, resourceAt("slow", "local", srv.URL, false))

	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(context.Background(), "slow", nil)
		done <- err
	}()

	<-entered
	// The write lock must be obtainable while the call is in flight.
	_, err := b.AddCredential(Credential{Provider: "openai", Value: "sk"})
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-done)
}

func TestExecuteUsesInjectedClient(t *testing.T) {
	srv, captured, _ := stubUpstream(t, http.StatusOK, "application/json", `{}`)
	client := resty.New().SetHeader("X-Trace", "abc")

	b, err := New(Config{
		Resources:  []Resource{resourceAt("local", "local", srv.URL, false)},
		HTTPClient: client,
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), "local", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", captured.header.Get("X-Trace"))
}

func TestOutcomeOf(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		out, err := OutcomeOf(&Result{ResourceName: "GPT", Payload: json.RawMessage(`{"ok":true}`)}, nil)
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.JSONEq(t, `{"ok":true}`, string(out.Data))
		assert.Equal(t, "GPT", out.ResourceUsed)
	})

	t.Run("typed failure", func(t *testing.T) {
		out, err := OutcomeOf(nil, &CallError{
			Kind: KindCredentialMissing, ResourceName: "GPT", Provider: "openai",
			Suggestion: "Please add a openai credential",
		})
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Equal(t, KindCredentialMissing, out.Kind)
		assert.Equal(t, []string{"Please add a openai credential"}, out.Suggestions)
	})

	t.Run("untyped error passes through", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := OutcomeOf(nil, boom)
		assert.ErrorIs(t, err, boom)
	})
}
