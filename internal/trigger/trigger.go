// Package trigger detects escalation signals in dialogue-engine replies.
//
// The dialogue engine emits plain reply text with no structured handoff
// event, so the participant client falls back to matching a fixed phrase
// list. Phrase matching on free text is brittle; the long-term fix is a
// structured escalation event from the engine.
package trigger

import "strings"

// phrases the dialogue engine emits when it escalates a conversation.
// Matching is case-insensitive substring.
var phrases = []string{
	"connecting you to a human operator",
	"escalation created",
	"waiting for operator assignment",
	"speak with an emergency operator",
}

// Detect reports whether reply text signals that the conversation has been
// escalated to a human operator.
func Detect(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
