// Package broker owns the catalog of invocable AI resources and the credentials
// that unlock them.
//
// # Overview
//
// A Resource is an endpoint backed by a provider (openai, anthropic,
// openrouter, local) that advertises a set of capability tags such as
// "text-generation" or "speech-to-text". Callers never pick a provider
// directly: they query by capability, or hand the broker a free-text task
// description and let it choose.
//
// # Catalog
//
// The catalog is built once from a fixed seed (see DefaultCatalog) plus any
// extra resources from configuration. Resources are never removed and keep
// their registration order, which is also the order FindResource scans them.
//
// # Credentials
//
// AddCredential stores a secret and links it to every resource of the same
// provider that has no credential yet. The first credential per provider wins;
// later ones are stored but never relink. Listing operations mask values.
//
// # Matching
//
// A resource matches a Query when it has the capability, passes the optional
// type and provider filters, and is callable: it either does not require auth
// or its linked credential has a non-empty value.
//
// # Execution
//
// Execute copies what it needs out of the catalog under the read lock, then
// performs a single outbound POST with the resource config merged under the
// caller params and provider-specific auth framing applied:
//
//	openai, openrouter   Authorization: Bearer <value>
//	anthropic            x-api-key: <value>, anthropic-version: 2023-06-01
//	local                (none)
//
// Failures are returned as *CallError with one of the kinds ResourceNotFound,
// CredentialMissing, EndpointMissing, UpstreamError or TransportError. There is
// no retry inside the broker.
//
// # Usage
//
//	b, err := broker.New(broker.Config{
//	    Resources: broker.DefaultCatalog(),
//	    Logger:    logger,
//	})
//	b.AddCredential(broker.Credential{Name: "OpenAI", Provider: "openai", Type: "api-key", Value: key})
//	res, ok := b.AutoSelect("Please transcribe this voicemail")
//	result, err := b.Execute(ctx, res.ID, map[string]any{"file": "..."})
package broker
