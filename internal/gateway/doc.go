// Package gateway orchestrates the trellis-gateway server components.
//
// # Overview
//
// The gateway owns the broker, both front-ends over it, the optional call
// ledger and the HTTP server. New builds everything from a *config.Config;
// Run listens and blocks until its context is canceled.
//
// # Construction
//
// New performs, in order:
//
//  1. broker.New with the built-in catalog followed by config resources
//  2. AddCredential for every configured credential that has a value
//  3. the SQLite call ledger, when ledger.enabled is set
//  4. the resources.call replay cache, when broker.replay_ttl is positive
//  5. the envelope protocol server (recording calls into the ledger)
//  6. the REST API
//
// # HTTP Routes
//
//	GET  /health          liveness, always "OK"
//	GET  /health/ready    200 with the number of callable resources, 503 when none
//	POST /mcp             one protocol envelope per request
//	GET  /mcp             server name, version and method list
//	     /api/...         REST routes, see package rest
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With
// tailscale.enabled a tsnet node is started instead and the server listens
// on the tailnet: plain HTTP on :80, HTTPS with Tailscale certificates on
// :443 when tailscale.https is set, or a public Funnel listener when
// tailscale.funnel is set. The auth key comes from tailscale.auth_key or
// TS_AUTHKEY.
//
// # Shutdown
//
// When Run's context is canceled the HTTP server is drained with a five
// second deadline, then the tsnet node, the ledger and the replay cache are
// closed. Shutdown
// may be called more than once.
package gateway
