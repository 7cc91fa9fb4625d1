// Package agent implements the self-correcting reasoning loop at the
// heart of InsightSQL: an explicit PLAN/ACT/OBSERVE/SYNTHESIZE state
// machine that plans SQL statements, executes them through the SQL
// tool, and revises failing statements using the observed error.
package agent

import (
	"time"

	"github.com/insightsql-dev/insightsql/internal/db"
)

// StepKind identifies one phase of the reasoning trace.
type StepKind string

const (
	// StepPlan records a planning decision: a statement to run or the
	// decision that enough information exists to answer.
	StepPlan StepKind = "plan"
	// StepAction records a SQL tool invocation.
	StepAction StepKind = "action"
	// StepObservation records the tool outcome, rows or error.
	StepObservation StepKind = "observation"
	// StepFinal records the synthesized answer draft.
	StepFinal StepKind = "final"
)

// ToolInvocation pairs a statement with its outcome. It is owned
// exclusively by the step that produced it.
type ToolInvocation struct {
	Statement string   `json:"statement"`
	Rows      *db.Rows `json:"rows,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Step is one iteration of the reasoning loop, recorded in order
// within a turn. The ordered steps form the transparency trace.
type Step struct {
	Kind       StepKind        `json:"kind"`
	Content    string          `json:"content,omitempty"`
	Invocation *ToolInvocation `json:"invocation,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// State is a reasoning loop state.
type State int

const (
	StatePlan State = iota
	StateAct
	StateObserve
	StateSynthesize
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePlan:
		return "plan"
	case StateAct:
		return "act"
	case StateObserve:
		return "observe"
	case StateSynthesize:
		return "synthesize"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one reasoning loop run.
type Result struct {
	// Answer is the natural-language draft (before language
	// enforcement). Empty when State is StateFailed.
	Answer string

	// Steps is the ordered transparency trace of the turn.
	Steps []Step

	// State is StateDone or StateFailed.
	State State

	// Err carries the terminal error when State is StateFailed:
	// *RetryExhausted, *db.PolicyViolation or *LoopInternalError.
	Err error
}
