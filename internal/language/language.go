// Package language classifies text as English or Indonesian and
// enforces a target output language on agent answers.
package language

import (
	"context"
	"fmt"
	"strings"
)

// Language identifies an output language supported by the agent.
type Language string

const (
	// English is the default output language.
	English Language = "en"
	// Indonesian is Bahasa Indonesia.
	Indonesian Language = "id"
)

// Parse maps a user-facing language name or code to a Language.
func Parse(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english", "":
		return English, nil
	case "id", "indonesian", "bahasa", "bahasa indonesia":
		return Indonesian, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// String returns the ISO 639-1 code.
func (l Language) String() string {
	return string(l)
}

// DisplayName returns the English name of the language, suitable for
// inclusion in a prompt.
func (l Language) DisplayName() string {
	switch l {
	case Indonesian:
		return "Indonesian"
	default:
		return "English"
	}
}

// Translator rewrites text into a target language while preserving its
// meaning, formatting, and any numbers or identifiers it contains.
type Translator interface {
	Translate(ctx context.Context, text string, target Language) (string, error)
}

// Policy enforces a target output language on generated text. Detection
// is deterministic, so enforcing twice with the same target returns the
// same text as enforcing once.
type Policy struct {
	translator Translator
}

// NewPolicy creates a Policy backed by the given translator.
func NewPolicy(t Translator) *Policy {
	return &Policy{translator: t}
}

// Enforce returns text in the target language. Text already classified
// as the target passes through unchanged; anything else is rewritten by
// the translator. The conversation history and reasoning trace are
// never touched, only the outgoing text.
func (p *Policy) Enforce(ctx context.Context, text string, target Language) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if Detect(text) == target {
		return text, nil
	}
	out, err := p.translator.Translate(ctx, text, target)
	if err != nil {
		return "", fmt.Errorf("translate to %s: %w", target, err)
	}
	return out, nil
}
