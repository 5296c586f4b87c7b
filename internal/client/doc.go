// Package client is a Go client for a running gateway. It speaks the
// envelope protocol over POST /mcp and retries with exponential backoff
// when the gateway is unreachable or answers 502, 503 or 504.
//
// A decoded response envelope is never retried, whether it carries a
// result or a protocol error. CallResource additionally retries outcomes
// whose kind is TransportError, since those describe a failed hop between
// the gateway and the provider; UpstreamError outcomes are returned as-is.
// The envelope id is kept while the gateway is unreachable, so a gateway
// with a replay cache answers a resent call instead of running it twice.
package client
