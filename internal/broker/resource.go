// ABOUTME: Resource, credential, and query types held by the broker catalog.
// ABOUTME: Includes the built-in resource seed and the read-only views handed to callers.

package broker

import (
	"maps"
	"slices"
	"time"
)

// ResourceType classifies a resource.
type ResourceType string

const (
	ResourceTypeModel   ResourceType = "model"
	ResourceTypeAPI     ResourceType = "api"
	ResourceTypeService ResourceType = "service"
)

// Valid reports whether t is one of the known resource types.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeModel, ResourceTypeAPI, ResourceTypeService:
		return true
	}
	return false
}

// Capability tags used by auto-selection.
const (
	CapabilityTextGeneration = "text-generation"
	CapabilitySpeechToText   = "speech-to-text"
	CapabilityTextToSpeech   = "text-to-speech"
	CapabilityConversation   = "conversation"
	CapabilityAnalysis       = "analysis"
)

// Resource is an invocable capability endpoint.
type Resource struct {
	ID           string         `json:"id" yaml:"id" toml:"id"`
	Name         string         `json:"name" yaml:"name" toml:"name"`
	Type         ResourceType   `json:"type" yaml:"type" toml:"type"`
	Provider     string         `json:"provider" yaml:"provider" toml:"provider"`
	Endpoint     string         `json:"endpoint,omitempty" yaml:"endpoint" toml:"endpoint"`
	RequiresAuth bool           `json:"requiresAuth" yaml:"requires_auth" toml:"requires_auth"`
	Capabilities []string       `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	Config       map[string]any `json:"config,omitempty" yaml:"config" toml:"config"`

	// CredentialID is set at most once, by the auto-link pass in AddCredential.
	CredentialID string `json:"credentialId,omitempty" yaml:"-" toml:"-"`
}

// HasCapability reports whether the resource advertises capability.
func (r *Resource) HasCapability(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

// clone returns a copy that shares no mutable state with r.
func (r *Resource) clone() Resource {
	c := *r
	c.Capabilities = slices.Clone(r.Capabilities)
	c.Config = maps.Clone(r.Config)
	return c
}

// ResourceSummary is the short form of a resource used in query and
// selection results.
type ResourceSummary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         ResourceType `json:"type"`
	Provider     string       `json:"provider"`
	Capabilities []string     `json:"capabilities"`
}

// Summary returns the short form of r.
func (r Resource) Summary() ResourceSummary {
	return ResourceSummary{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		Provider:     r.Provider,
		Capabilities: slices.Clone(r.Capabilities),
	}
}

// Credential is a stored provider secret.
type Credential struct {
	ID            string
	Name          string
	Provider      string
	Type          string
	Value         string
	LastValidated time.Time
}

// Query filters the catalog. Capability is required; Type and Provider are
// ignored when empty.
type Query struct {
	Capability string       `json:"capability"`
	Type       ResourceType `json:"type,omitempty"`
	Provider   string       `json:"provider,omitempty"`
}

// ResourceInfo is the caller-facing view of a resource. It never carries
// credential material, only whether a usable credential is linked.
type ResourceInfo struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Type               ResourceType `json:"type"`
	Provider           string       `json:"provider"`
	Capabilities       []string     `json:"capabilities"`
	RequiresAuth       bool         `json:"requiresAuth"`
	HasValidCredential bool         `json:"hasValidCredential"`
}

// Callable reports whether Execute would get past the credential gate.
func (i ResourceInfo) Callable() bool {
	return !i.RequiresAuth || i.HasValidCredential
}

// MaskedValue replaces a non-empty credential value in listings.
const MaskedValue = "***"

// Credential listing statuses.
const (
	CredentialStatusConfigured = "configured"
	CredentialStatusMissing    = "missing"
)

// CredentialInfo is a credential with its secret masked.
type CredentialInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Provider      string    `json:"provider"`
	Type          string    `json:"type"`
	Value         string    `json:"value"`
	HasValue      bool      `json:"hasValue"`
	Status        string    `json:"status"`
	LastValidated time.Time `json:"lastValidated"`
}

// DefaultCatalog returns the built-in resource seed in registration order.
func DefaultCatalog() []Resource {
	return []Resource{
		{
			ID:           "openai-gpt4",
			Name:         "OpenAI GPT-4",
			Type:         ResourceTypeModel,
			Provider:     "openai",
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			RequiresAuth: true,
			Capabilities: []string{CapabilityTextGeneration, CapabilityConversation, CapabilityAnalysis},
			Config:       map[string]any{"model": "gpt-4"},
		},
		{
			ID:           "openai-whisper",
			Name:         "OpenAI Whisper",
			Type:         ResourceTypeModel,
			Provider:     "openai",
			Endpoint:     "https://api.openai.com/v1/audio/transcriptions",
			RequiresAuth: true,
			Capabilities: []string{CapabilitySpeechToText, "transcription"},
			Config:       map[string]any{"model": "whisper-1"},
		},
		{
			ID:           "openai-tts",
			Name:         "OpenAI Text-to-Speech",
			Type:         ResourceTypeModel,
			Provider:     "openai",
			Endpoint:     "https://api.openai.com/v1/audio/speech",
			RequiresAuth: true,
			Capabilities: []string{CapabilityTextToSpeech, "voice-generation"},
			Config:       map[string]any{"model": "tts-1"},
		},
		{
			ID:           "anthropic-claude",
			Name:         "Anthropic Claude",
			Type:         ResourceTypeModel,
			Provider:     "anthropic",
			Endpoint:     "https://api.anthropic.com/v1/messages",
			RequiresAuth: true,
			Capabilities: []string{CapabilityTextGeneration, CapabilityConversation, CapabilityAnalysis},
			Config:       map[string]any{"model": "claude-3-opus-20240229", "max_tokens": 1024},
		},
		{
			ID:           "openrouter-auto",
			Name:         "OpenRouter Auto",
			Type:         ResourceTypeAPI,
			Provider:     "openrouter",
			Endpoint:     "https://openrouter.ai/api/v1/chat/completions",
			RequiresAuth: true,
			Capabilities: []string{CapabilityTextGeneration, CapabilityConversation},
			Config:       map[string]any{"model": "openrouter/auto"},
		},
		{
			ID:           "local-llama",
			Name:         "Local Llama",
			Type:         ResourceTypeModel,
			Provider:     "local",
			Endpoint:     "http://localhost:11434/v1/chat/completions",
			RequiresAuth: false,
			Capabilities: []string{CapabilityTextGeneration, CapabilityConversation, CapabilityAnalysis},
			Config:       map[string]any{"model": "llama3"},
		},
	}
}
