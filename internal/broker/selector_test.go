// ABOUTME: Tests for keyword-based auto-selection of resources.
// ABOUTME: Pins the rule priority order and the empty result when nothing is callable.

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectCapability(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"Please transcribe this voicemail", CapabilitySpeechToText},
		{"Convert the AUDIO from the site walk", CapabilitySpeechToText},
		{"speech notes from the foreman", CapabilitySpeechToText},
		{"Read this back in a friendly voice", CapabilityTextToSpeech},
		{"speak the estimate aloud", CapabilityTextToSpeech},
		{"Chat with the homeowner", CapabilityConversation},
		{"have a conversation about tile", CapabilityConversation},
		{"talk me through the permit", CapabilityConversation},
		{"Analyze the bid", CapabilityAnalysis},
		{"analysis of the change order", CapabilityAnalysis},
		{"review this contract", CapabilityAnalysis},
		{"examine the drywall takeoff", CapabilityAnalysis},
		{"examine the invoice", CapabilityTextToSpeech}, // "invoice" contains "voice"
		{"Write a project summary", CapabilityTextGeneration},
		{"", CapabilityTextGeneration},
		// earlier rules win over later ones
		{"transcribe the voice memo", CapabilitySpeechToText},
		{"chat to review the plan", CapabilityConversation},
	}

	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectCapability(tt.task))
		})
	}
}

func TestAutoSelect(t *testing.T) {
	catalog := []Resource{
		{ID: "gpt", Type: ResourceTypeModel, Provider: "openai", RequiresAuth: true,
			Capabilities: []string{CapabilityTextGeneration, CapabilityConversation}},
		{ID: "whisper", Type: ResourceTypeModel, Provider: "openai", RequiresAuth: true,
			Capabilities: []string{CapabilitySpeechToText}},
		{ID: "llama", Type: ResourceTypeModel, Provider: "local",
			Capabilities: []string{CapabilityTextGeneration}},
	}

	t.Run("empty when the matching resource is not credentialed", func(t *testing.T) {
		b := newTestBroker(t, catalog...)
		_, ok := b.AutoSelect("Please transcribe this voicemail")
		assert.False(t, ok)
	})

	t.Run("resolves once credentialed", func(t *testing.T) {
		b := newTestBroker(t, catalog...)
		_, err := b.AddCredential(Credential{Provider: "openai", Value: "sk"})
		require.NoError(t, err)

		res, ok := b.AutoSelect("Please transcribe this voicemail")
		require.True(t, ok)
		assert.Equal(t, "whisper", res.ID)
		assert.True(t, res.HasCapability(CapabilitySpeechToText))
	})

	t.Run("does not fall through to a later rule", func(t *testing.T) {
		b := newTestBroker(t, catalog...)
		// conversation resolves to gpt only, which is uncredentialed; llama has
		// text-generation but is not a candidate for this rule.
		_, ok := b.AutoSelect("let's chat")
		assert.False(t, ok)
	})

	t.Run("default rule uses first callable text generator", func(t *testing.T) {
		b := newTestBroker(t, catalog...)
		res, ok := b.AutoSelect("draft a punch list")
		require.True(t, ok)
		assert.Equal(t, "llama", res.ID)
	})
}
