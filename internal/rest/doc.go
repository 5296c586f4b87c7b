// Package rest exposes the broker over plain HTTP verbs for clients that do
// not speak the envelope protocol.
//
// # Routes
//
//   - GET  /api/resources            every resource with hasValidCredential
//   - GET  /api/resources?capability=X[&type=Y&provider=Z]  callable matches
//   - POST /api/resources            {resourceId, params} → call outcome
//   - GET  /api/keys                 stored credentials, values masked
//   - POST /api/keys                 {name, value, provider, type} → credential id and linked resources
//   - POST /api/agent                {task, autoExecute, params} → selection, optional execution
//   - GET  /api/calls?limit=N&resource=ID  recent call ledger rows
//   - GET  /api/calls/stats          per-resource call totals
//
// Call outcomes use the same shape as the envelope protocol's resources.call
// result, so an upstream failure is a 200 with success=false rather than an
// HTTP error. Validation failures answer 400 with {"error": "..."}. The
// ledger routes answer 404 when no ledger is configured.
package rest
