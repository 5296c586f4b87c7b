// ABOUTME: Envelope wire types and the protocol error-code taxonomy.
// ABOUTME: One envelope per exchange; responses carry exactly one of result or error.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind distinguishes requests, responses and notifications.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
)

// Envelope is the unit of exchange with the front-end.
type Envelope struct {
	ID     string          `json:"id"`
	Kind   Kind            `json:"kind"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a protocol-level failure. Application failures such as a missing
// credential are reported inside Result instead.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Protocol error codes, following the JSON-RPC convention.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewRequest builds a request envelope with params marshaled to JSON.
func NewRequest(id, method string, params any) (Envelope, error) {
	env := Envelope{ID: id, Kind: KindRequest, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshaling params: %w", err)
		}
		env.Params = raw
	}
	return env, nil
}

// DecodeResult unmarshals the envelope result into dst. It returns the
// envelope error when one is present.
func (e *Envelope) DecodeResult(dst any) error {
	if e.Error != nil {
		return e.Error
	}
	if len(e.Result) == 0 {
		return fmt.Errorf("envelope %s has neither result nor error", e.ID)
	}
	return json.Unmarshal(e.Result, dst)
}

func errorResponse(id string, code int, message string) *Envelope {
	return &Envelope{
		ID:    id,
		Kind:  KindResponse,
		Error: &Error{Code: code, Message: message},
	}
}
