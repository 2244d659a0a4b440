package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// Action is the intent classifier's strict output (spec.md §4.6 step 4).
type Action string

const (
	ActionNormal      Action = "normal"
	ActionTakeMessage Action = "take_message"
	ActionClosing     Action = "closing"
	ActionFarewell    Action = "farewell"
)

func (a Action) valid() bool {
	switch a {
	case ActionNormal, ActionTakeMessage, ActionClosing, ActionFarewell:
		return true
	}
	return false
}

// ClassifierResult is the parsed (or defaulted) classifier output.
type ClassifierResult struct {
	Action Action
	Reason string
}

const classifierSystemPrompt = `You classify one caller utterance in an ongoing phone call. ` +
	`Respond with nothing but a single JSON object of the exact shape ` +
	`{"action":"<action>","reason":"<short reason>"}. ` +
	`<action> must be exactly one of: normal, take_message, closing, farewell. ` +
	`Use "farewell" only when the caller is clearly ending the call. ` +
	`Use "closing" when the caller's message gives you enough information that ` +
	`their purpose for calling has been captured and it's reasonable to ask if ` +
	`there's anything else. Use "take_message" when the caller explicitly asks ` +
	`to leave a message. Use "normal" otherwise.`

// Classifier runs the constrained-JSON intent classification LLM call.
// Any parse failure or invalid action falls back to ActionNormal, per
// spec.md §4.6 step 4 — the classifier never fails a turn outright.
type Classifier struct {
	llm contracts.LLMProvider
}

// NewClassifier builds a Classifier over llm.
func NewClassifier(llm contracts.LLMProvider) *Classifier {
	return &Classifier{llm: llm}
}

// Classify returns the route for one caller utterance, given whether
// closing has already been asked this call.
func (c *Classifier) Classify(ctx context.Context, closingAsked bool, userMessage string) ClassifierResult {
	prompt := fmt.Sprintf("closing_asked=%v\nuser_message=%q", closingAsked, userMessage)
	messages := []contracts.Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: prompt},
	}

	text, err := c.llm.Complete(ctx, messages, contracts.LLMOptions{Temperature: 0, MaxTokens: 60})
	if err != nil {
		return ClassifierResult{Action: ActionNormal, Reason: "classifier call failed, falling back to normal"}
	}

	var parsed struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &parsed); err != nil {
		return ClassifierResult{Action: ActionNormal, Reason: "unparseable classifier output, falling back to normal"}
	}

	action := Action(parsed.Action)
	if !action.valid() {
		action = ActionNormal
	}
	return ClassifierResult{Action: action, Reason: parsed.Reason}
}

// extractJSONObject trims any surrounding prose/code-fence text an LLM adds
// around the JSON object it was asked to return verbatim, keeping the span
// from the first '{' through the last '}' (s unchanged if there is none).
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
