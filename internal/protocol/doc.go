// Package protocol implements the envelope front-end that exposes the broker
// to agents and other clients.
//
// # Envelopes
//
// Every exchange is a single JSON envelope:
//
//	{"id": "req-1", "kind": "request", "method": "resources.query",
//	 "params": {"capability": "text-generation"}}
//
// A response echoes the request id and carries exactly one of result or
// error. Envelopes with kind "notification" are executed but never answered.
// An envelope without a kind is treated as a request; a request without an id
// is assigned a generated one.
//
// # Methods
//
//   - resources.list: every resource with a hasValidCredential flag
//   - resources.query: callable resources for a capability, optional type/provider
//   - resources.call: execute a resource through the broker
//   - agent.autoSelect: choose a resource from a free-text task
//   - credentials.add: store a credential and auto-link it
//   - credentials.list: stored credentials with values masked
//
// Slash-style aliases (resources/list, keys/add, agent/auto-select, ...) are
// accepted and routed to the same handlers.
//
// # Errors
//
// Protocol errors use JSON-RPC codes: -32700 parse error, -32600 invalid
// request, -32601 unknown method, -32602 invalid or missing params, -32603
// internal error (including recovered panics).
//
// Failures of the call itself (unknown resource, missing credential, upstream
// non-2xx, transport failure) are not protocol errors. resources.call always
// returns a result for those, shaped as:
//
//	{"success": false, "kind": "CredentialMissing",
//	 "error": "...", "suggestions": ["Please add a openai credential"]}
//
// # Transport
//
// RegisterRoutes mounts the HTTP transport at /mcp. POST carries one envelope
// per request (bodies over 1MB are rejected) and GET returns server info and
// the method list. Notifications are acknowledged with 202 Accepted.
//
// # Call Ledger
//
// When Config.Recorder is set, every completed resources.call is recorded
// with its envelope id, resource, outcome kind, status code, and duration.
// Recording failures are logged and never change the response.
package protocol
