// Package session manages conversational agent sessions: the
// append-only turn log, the live database connection, and the reset
// semantics around both.
package session

import (
	"time"

	"github.com/insightsql-dev/insightsql/internal/agent"
	"github.com/insightsql-dev/insightsql/internal/language"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a question asked by the user.
	RoleUser Role = "user"
	// RoleAssistant marks an answer produced by the agent.
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation log. Turns are append-only and
// immutable once written.
type Turn struct {
	// ID is the unique identifier for this turn.
	ID string `json:"id"`
	// Role indicates who produced the turn.
	Role Role `json:"role"`
	// Content is the question or the final answer text.
	Content string `json:"content"`
	// Steps is the reasoning trace behind an assistant turn.
	Steps []agent.Step `json:"steps,omitempty"`
	// Failed marks assistant turns whose reasoning loop did not
	// produce an answer.
	Failed bool `json:"failed,omitempty"`
	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata holds session summary information, stored separately from
// the turn log for quick listing.
type Metadata struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// DatabaseURI is the URI of the connected database (empty before
	// the first successful connect).
	DatabaseURI string `json:"databaseUri,omitempty"`
	// Language is the configured output language.
	Language language.Language `json:"language"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session last recorded a turn.
	UpdatedAt time.Time `json:"updatedAt"`
	// TurnCount is the number of turns in the log.
	TurnCount int `json:"turnCount"`
}
