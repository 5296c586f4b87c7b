// ABOUTME: Params and result types for each protocol method.
// ABOUTME: Shared by the server handlers and the Go client.

package protocol

import "github.com/2389/trellis-gateway/internal/broker"

// ResourcesListResult is the result of resources.list.
type ResourcesListResult struct {
	Resources []broker.ResourceInfo `json:"resources"`
}

// ResourcesQueryParams are the params for resources.query.
type ResourcesQueryParams struct {
	Capability string `json:"capability"`
	Type       string `json:"type,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// ResourcesQueryResult is the result of resources.query.
type ResourcesQueryResult struct {
	Resources []broker.ResourceSummary `json:"resources"`
	Count     int                      `json:"count"`
}

// ResourcesCallParams are the params for resources.call. The result is a broker.Outcome.
type ResourcesCallParams struct {
	ResourceID string         `json:"resourceId"`
	Params     map[string]any `json:"params,omitempty"`
}

// AutoSelectParams are the params for agent.autoSelect.
type AutoSelectParams struct {
	Task string `json:"task"`
}

// AutoSelectResult is the result of agent.autoSelect. Resource is nil when
// nothing callable offers the inferred capability.
type AutoSelectResult struct {
	Resource   *broker.ResourceSummary `json:"resource"`
	Capability string                  `json:"capability"`
	Suggestion string                  `json:"suggestion"`
}

// CredentialsAddParams are the params for credentials.add. All fields are required.
type CredentialsAddParams struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Provider string `json:"provider"`
	Type     string `json:"type"`
}

// CredentialsAddResult is the result of credentials.add.
type CredentialsAddResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	CredentialID    string   `json:"credentialId"`
	LinkedResources []string `json:"linkedResources"`
}

// CredentialsListResult is the result of credentials.list.
type CredentialsListResult struct {
	Credentials []broker.CredentialInfo `json:"credentials"`
}
