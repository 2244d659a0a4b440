package turn

import "strings"

// Fixed utterances spec.md §4.6 names without giving every exact literal;
// these follow the one literal the spec does give verbatim (the closing
// question) and match its tone for the others.
const (
	GreetingText           = "Thank you for calling. How can I help you today?"
	EmptyTranscriptionText = "Sorry, I couldn't catch that. Could you repeat?"
	ClosingQuestionText    = "Anything else? If not, you may hang up."
	FarewellText           = "Thank you for calling. Goodbye!"
	TakeMessagePromptText  = "I'd be happy to take a message. Could you tell me your name, a callback number, and the details you'd like me to pass along?"

	// ConversationalSystemPrompt instructs the reply LLM per spec.md §4.6
	// step 5: short, spoken-friendly replies.
	ConversationalSystemPrompt = "You are a helpful phone assistant. Keep replies to one or two short sentences suitable for being spoken aloud."
)

// nothingFurtherPhrases are the fixed "no more requests" phrasings that,
// once closing_asked is true, route a normal-looking reply to farewell
// instead (spec.md §4.6 step 5).
var nothingFurtherPhrases = []string{
	"no that's all",
	"nothing else",
	"that's it",
	"no thank you",
	"nothing further",
	"that's all thanks",
	"no thanks",
	"that'll be all",
}

// matchesNothingFurther reports whether msg contains any of the fixed
// "nothing further" phrasings, case-insensitively.
func matchesNothingFurther(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range nothingFurtherPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Truncate implements MAX_RESPONSE_CHARS truncation with an ellipsis on
// overflow (spec.md §4.6 step 5).
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
