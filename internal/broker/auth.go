// ABOUTME: Provider authentication strategies applied to outbound requests.
// ABOUTME: A table keyed by provider id so adding a provider never touches Execute.

package broker

import (
	"github.com/go-resty/resty/v2"
)

// Authenticator frames an outbound request with a credential.
type Authenticator func(cred Credential, req *resty.Request)

// AnthropicVersion is the API version header value sent to Anthropic.
const AnthropicVersion = "2023-06-01"

// BearerAuth sends the credential as an Authorization bearer token.
func BearerAuth() Authenticator {
	return func(cred Credential, req *resty.Request) {
		req.SetAuthToken(cred.Value)
	}
}

// HeaderAuth sends the credential in a custom header. When versionHeader is
// non-empty, version is sent alongside it.
func HeaderAuth(header, versionHeader, version string) Authenticator {
	return func(cred Credential, req *resty.Request) {
		req.SetHeader(header, cred.Value)
		if versionHeader != "" {
			req.SetHeader(versionHeader, version)
		}
	}
}

// NoAuth leaves the request untouched.
func NoAuth() Authenticator {
	return func(Credential, *resty.Request) {}
}

// DefaultAuthenticators returns the built-in provider table.
func DefaultAuthenticators() map[string]Authenticator {
	return map[string]Authenticator{
		"openai":     BearerAuth(),
		"openrouter": BearerAuth(),
		"anthropic":  HeaderAuth("x-api-key", "anthropic-version", AnthropicVersion),
		"local":      NoAuth(),
	}
}
