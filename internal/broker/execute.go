// ABOUTME: Credential-gated outbound execution against a catalog resource.
// ABOUTME: One bounded attempt per call; failures come back as *CallError.

package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"maps"
	"time"
)

// Execute calls the resource identified by resourceID. The resource config is
// merged under params (params win key by key), provider auth framing is
// applied, and a single POST is sent. The catalog lock is released before any
// network I/O.
func (b *Broker) Execute(ctx context.Context, resourceID string, params map[string]any) (*Result, error) {
	b.mu.RLock()
	stored, ok := b.index[resourceID]
	if !ok {
		b.mu.RUnlock()
		return nil, &CallError{Kind: KindResourceNotFound, ResourceID: resourceID}
	}
	res := stored.clone()
	cred, hasCred := b.credentialLocked(stored)
	b.mu.RUnlock()

	if res.RequiresAuth && !hasCred {
		return nil, &CallError{
			Kind:         KindCredentialMissing,
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Provider:     res.Provider,
			Suggestion:   "Please add a " + res.Provider + " credential",
		}
	}

	if res.Endpoint == "" {
		return nil, &CallError{
			Kind:         KindEndpointMissing,
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Provider:     res.Provider,
		}
	}

	body := make(map[string]any, len(res.Config)+len(params))
	maps.Copy(body, res.Config)
	maps.Copy(body, params)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := b.http.R().
		SetContext(ctx).
		SetBody(body)

	if hasCred {
		if authenticate, ok := b.auth[res.Provider]; ok {
			authenticate(cred, req)
		} else {
			b.logger.Warn("no auth strategy for provider, sending without credentials",
				"provider", res.Provider,
				"resource_id", res.ID,
			)
		}
	}

	b.logger.Info("→ calling resource",
		"resource_id", res.ID,
		"provider", res.Provider,
	)

	start := time.Now()
	resp, err := req.Post(res.Endpoint)
	if err != nil {
		b.logger.Warn("resource call got no response",
			"resource_id", res.ID,
			"duration", time.Since(start),
			"error", err,
		)
		return nil, &CallError{
			Kind:         KindTransport,
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Provider:     res.Provider,
			Err:          err,
		}
	}

	if !resp.IsSuccess() {
		b.logger.Warn("resource call rejected upstream",
			"resource_id", res.ID,
			"status", resp.Status(),
			"duration", time.Since(start),
		)
		return nil, &CallError{
			Kind:         KindUpstream,
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Provider:     res.Provider,
			StatusCode:   resp.StatusCode(),
			Status:       resp.Status(),
		}
	}

	contentType := resp.Header().Get("Content-Type")

	b.logger.Info("← resource responded",
		"resource_id", res.ID,
		"status", resp.StatusCode(),
		"duration", time.Since(start),
	)

	return &Result{
		ResourceID:   res.ID,
		ResourceName: res.Name,
		Provider:     res.Provider,
		StatusCode:   resp.StatusCode(),
		ContentType:  contentType,
		Payload:      opaquePayload(contentType, resp.Body()),
	}, nil
}

// binaryPayload wraps upstream bodies that are not JSON, such as synthesized audio.
type binaryPayload struct {
	ContentType string `json:"contentType"`
	Encoding    string `json:"encoding"`
	Body        string `json:"body"`
}

// opaquePayload returns body unchanged when it is valid JSON, otherwise a
// base64 wrapper. An empty body becomes JSON null.
func opaquePayload(contentType string, body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(append([]byte(nil), body...))
	}
	wrapped, err := json.Marshal(binaryPayload{
		ContentType: contentType,
		Encoding:    "base64",
		Body:        base64.StdEncoding.EncodeToString(body),
	})
	if err != nil {
		return json.RawMessage("null")
	}
	return wrapped
}
