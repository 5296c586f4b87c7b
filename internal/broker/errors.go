// ABOUTME: Typed call failures returned by Execute and the application-level outcome shape.
// ABOUTME: Both transports render success and failure through OutcomeOf.

package broker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrResourceNotFound indicates no resource is registered under the requested id.
var ErrResourceNotFound = errors.New("resource not found")

// ErrCredentialMissing indicates an auth-required resource has no usable credential.
var ErrCredentialMissing = errors.New("credential missing")

// ErrEndpointMissing indicates the resource has no outbound endpoint configured.
var ErrEndpointMissing = errors.New("endpoint missing")

// ErrUpstream indicates the provider answered with a non-success status.
var ErrUpstream = errors.New("upstream error")

// ErrTransport indicates no response was received from the provider, including timeouts.
var ErrTransport = errors.New("transport error")

// ErrDuplicateResource indicates two catalog entries share an id.
var ErrDuplicateResource = errors.New("duplicate resource id")

// ErrDuplicateCredential indicates a credential id is already stored.
var ErrDuplicateCredential = errors.New("duplicate credential id")

// ErrorKind names a call failure in the application-level outcome.
type ErrorKind string

const (
	KindResourceNotFound  ErrorKind = "ResourceNotFound"
	KindCredentialMissing ErrorKind = "CredentialMissing"
	KindEndpointMissing   ErrorKind = "EndpointMissing"
	KindUpstream          ErrorKind = "UpstreamError"
	KindTransport         ErrorKind = "TransportError"
)

var kindSentinels = map[ErrorKind]error{
	KindResourceNotFound:  ErrResourceNotFound,
	KindCredentialMissing: ErrCredentialMissing,
	KindEndpointMissing:   ErrEndpointMissing,
	KindUpstream:          ErrUpstream,
	KindTransport:         ErrTransport,
}

// CallError is the typed failure returned by Execute.
type CallError struct {
	Kind         ErrorKind
	ResourceID   string
	ResourceName string
	Provider     string

	// StatusCode and Status are set for UpstreamError.
	StatusCode int
	Status     string

	// Suggestion is a remediation hint, set for CredentialMissing.
	Suggestion string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindResourceNotFound:
		return fmt.Sprintf("resource %s not found", e.ResourceID)
	case KindCredentialMissing:
		return fmt.Sprintf("no valid credential found for %s", e.ResourceName)
	case KindEndpointMissing:
		return fmt.Sprintf("no endpoint configured for %s", e.ResourceName)
	case KindUpstream:
		return fmt.Sprintf("upstream call to %s failed: %s", e.ResourceName, e.Status)
	case KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("no response from %s: %v", e.ResourceName, e.Err)
		}
		return fmt.Sprintf("no response from %s", e.ResourceName)
	}
	return fmt.Sprintf("call to %s failed", e.ResourceID)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *CallError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// Retryable reports whether repeating the call is sensible. Only transport
// failures qualify; an upstream rejection is returned as-is.
func (e *CallError) Retryable() bool {
	return e.Kind == KindTransport
}

// Result is a successful upstream call.
type Result struct {
	ResourceID   string
	ResourceName string
	Provider     string
	StatusCode   int
	ContentType  string

	// Payload is the upstream body: raw JSON when the provider answered with
	// JSON, otherwise a {contentType, encoding, body} wrapper.
	Payload json.RawMessage
}

// Outcome is the application-level result of a resource call. Failures are
// reported here with Success=false, never as protocol errors.
type Outcome struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Kind         ErrorKind       `json:"kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	Suggestions  []string        `json:"suggestions,omitempty"`
	ResourceUsed string          `json:"resourceUsed,omitempty"`
	StatusCode   int             `json:"statusCode,omitempty"`
}

// OutcomeOf converts an Execute return into an Outcome. Errors that are not
// a *CallError are returned unchanged for the caller to treat as internal.
func OutcomeOf(result *Result, err error) (Outcome, error) {
	if err == nil {
		if result == nil {
			return Outcome{}, errors.New("execute returned neither result nor error")
		}
		return Outcome{
			Success:      true,
			Data:         result.Payload,
			ResourceUsed: result.ResourceName,
		}, nil
	}

	var callErr *CallError
	if !errors.As(err, &callErr) {
		return Outcome{}, err
	}

	out := Outcome{
		Success:      false,
		Kind:         callErr.Kind,
		Error:        callErr.Error(),
		ResourceUsed: callErr.ResourceName,
		StatusCode:   callErr.StatusCode,
	}
	if callErr.Suggestion != "" {
		out.Suggestions = []string{callErr.Suggestion}
	}
	return out, nil
}
