// ABOUTME: Keyword rules that map a free-text task description to a capability.
// ABOUTME: Evaluated in order; the first rule with a matching keyword decides.

package broker

import "strings"

type selectionRule struct {
	keywords   []string
	capability string
}

// selectionRules is a priority chain. Order matters: "transcribe this
// voicemail" must resolve to speech-to-text, not text-to-speech.
var selectionRules = []selectionRule{
	{keywords: []string{"transcrib", "speech", "audio"}, capability: CapabilitySpeechToText},
	{keywords: []string{"voice", "speak"}, capability: CapabilityTextToSpeech},
	{keywords: []string{"chat", "conversation", "talk"}, capability: CapabilityConversation},
	{keywords: []string{"analy", "review", "examin"}, capability: CapabilityAnalysis},
}

// SelectCapability returns the capability a task description resolves to.
// Descriptions that match no rule resolve to text-generation.
func SelectCapability(task string) string {
	lower := strings.ToLower(task)
	for _, rule := range selectionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.capability
			}
		}
	}
	return CapabilityTextGeneration
}

// AutoSelect picks the first callable resource for the capability derived
// from task. It reports false when nothing suitable is registered and
// credentialed; the chain does not fall through to later rules.
func (b *Broker) AutoSelect(task string) (Resource, bool) {
	capability := SelectCapability(task)
	res, ok := b.FindResource(Query{Capability: capability})

	b.logger.Debug("auto-selected resource",
		"capability", capability,
		"resource_id", res.ID,
		"found", ok,
	)
	return res, ok
}
