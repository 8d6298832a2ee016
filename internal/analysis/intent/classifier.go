package intent

import "strings"

// Intent tags the workflow an incoming user turn should dispatch to.
type Intent string

const (
	Chat      Intent = "chat"
	Recommend Intent = "recommend"
)

// triggerPhrases route a turn to the recommendation workflow when any of
// them appears in the normalized text. Substring match, case-insensitive.
var triggerPhrases = []string{
	"recommend",
	"find",
	"search for",
	"show me",
}

// Classify maps a raw user message to a workflow intent. The rule is a
// fixed keyword policy rather than a model decision so routing stays
// deterministic and testable.
func Classify(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Chat
	}

	for _, phrase := range triggerPhrases {
		if strings.Contains(normalized, phrase) {
			return Recommend
		}
	}
	return Chat
}
