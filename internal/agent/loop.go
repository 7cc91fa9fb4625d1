package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/insightsql-dev/insightsql/internal/db"
	"github.com/insightsql-dev/insightsql/internal/llm/provider"
	"github.com/insightsql-dev/insightsql/internal/observability"
	pkgobs "github.com/insightsql-dev/insightsql/pkg/observability"
)

// DefaultMaxRetries is the retry ceiling per turn. Exceeding it ends
// the turn in RetryExhausted rather than looping indefinitely.
const DefaultMaxRetries = 3

// Observations rendered into prompts and traces are capped so a huge
// result set cannot flood the context window.
const traceRenderLimit = 1000

// SQLRunner is the tool boundary the loop acts through.
type SQLRunner interface {
	Execute(ctx context.Context, statement string) (*db.Rows, error)
}

// Loop drives one conversational turn to completion through the
// PLAN → ACT → OBSERVE → {PLAN | SYNTHESIZE} → DONE state machine.
// The loop itself understands no SQL semantics; it sequences the
// capability and the tool, carries context, and bounds iteration.
type Loop struct {
	capability Capability
	runner     SQLRunner
	schema     string
	maxRetries int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// NewLoop creates a reasoning loop bound to a capability, a SQL
// runner and a rendered schema description.
func NewLoop(capability Capability, runner SQLRunner, schema string, opts ...LoopOption) *Loop {
	l := &Loop{
		capability: capability,
		runner:     runner,
		schema:     schema,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// turnState is the mutable state threaded through one run.
type turnState struct {
	question string
	history  []provider.Message
	steps    []Step

	pending  string // statement produced by PLAN, consumed by ACT
	draft    string // answer draft from PLAN, consumed by SYNTHESIZE
	attempts int    // ACT executions so far this turn
	lastErr  error  // last observed tool error
	termErr  error  // terminal error for FAILED
	answer   string
}

func (s *turnState) record(step Step) {
	step.Timestamp = time.Now().UTC()
	s.steps = append(s.steps, step)
}

// Run executes one turn to DONE or FAILED. It is strictly sequential:
// each state's input depends on the prior state's output. Ctx
// cancellation (e.g. a hard reset) aborts between states so a stale
// result is never produced.
func (l *Loop) Run(ctx context.Context, question string, history []provider.Message) (*Result, error) {
	st := &turnState{question: question, history: history}
	state := StatePlan

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pkgobs.RecordLoopIteration(state.String())

		var next State
		switch state {
		case StatePlan:
			next = l.plan(ctx, st)
		case StateAct:
			next = l.act(ctx, st)
		case StateObserve:
			next = l.observe(st)
		case StateSynthesize:
			next = l.synthesize(ctx, st)
		case StateDone:
			return &Result{Answer: st.answer, Steps: st.steps, State: StateDone}, nil
		case StateFailed:
			return &Result{Steps: st.steps, State: StateFailed, Err: st.termErr}, nil
		}
		state = next
	}
}

func (l *Loop) plan(ctx context.Context, st *turnState) State {
	spanCtx, span := observability.StartSpan(ctx, "loop.plan", map[string]any{
		"attempts": st.attempts,
	})
	decision, err := l.capability.Plan(spanCtx, PlanInput{
		Question: st.question,
		Schema:   l.schema,
		History:  st.history,
		Trace:    st.steps,
	})
	span.SetError(err)
	span.End()
	if err != nil {
		st.termErr = &LoopInternalError{Phase: "plan", Err: err}
		return StateFailed
	}

	if decision.Statement != "" {
		// The retry ceiling bounds PLAN→ACT→OBSERVE cycles per turn.
		if st.attempts >= l.maxRetries {
			if st.lastErr == nil {
				st.lastErr = errors.New("query budget for this turn is spent")
			}
			st.termErr = &RetryExhausted{Attempts: st.attempts, LastErr: st.lastErr}
			return StateFailed
		}
		st.record(Step{Kind: StepPlan, Content: "execute: " + decision.Statement})
		st.pending = decision.Statement
		return StateAct
	}

	st.record(Step{Kind: StepPlan, Content: "sufficient information to answer"})
	st.draft = decision.Answer
	return StateSynthesize
}

func (l *Loop) act(ctx context.Context, st *turnState) State {
	statement := st.pending
	st.pending = ""
	st.attempts++

	spanCtx, span := observability.StartSpan(ctx, "loop.act", map[string]any{
		"statement": statement,
	})
	start := time.Now()
	rows, err := l.runner.Execute(spanCtx, statement)
	span.SetError(err)
	span.End()

	inv := &ToolInvocation{Statement: statement, Rows: rows}
	if err != nil {
		inv.Error = err.Error()
		st.lastErr = err
	} else {
		st.lastErr = nil
	}
	st.record(Step{Kind: StepAction, Invocation: &ToolInvocation{Statement: statement}})
	st.record(Step{Kind: StepObservation, Invocation: inv})

	pkgobs.RecordToolCall(toolStatus(err), time.Since(start))
	return StateObserve
}

func (l *Loop) observe(st *turnState) State {
	if st.lastErr == nil {
		// Success: back to PLAN to decide whether more data is needed.
		return StatePlan
	}

	var policy *db.PolicyViolation
	if errors.As(st.lastErr, &policy) {
		// Mutating statements are never retried: terminal for the turn.
		log.Printf("[loop] policy violation, turn aborted: %s", policy.Verb)
		st.termErr = policy
		return StateFailed
	}

	var qerr *db.QueryError
	if errors.As(st.lastErr, &qerr) {
		// Self-correction edge: the error is already in the trace; the
		// planner sees it as context on the next pass.
		pkgobs.RecordRetry()
		if st.attempts >= l.maxRetries {
			st.termErr = &RetryExhausted{Attempts: st.attempts, LastErr: qerr}
			return StateFailed
		}
		return StatePlan
	}

	// Connection-level failures are not recoverable by rewriting SQL.
	st.termErr = &LoopInternalError{Phase: "act", Err: st.lastErr}
	return StateFailed
}

func (l *Loop) synthesize(ctx context.Context, st *turnState) State {
	draft := st.draft
	if draft == "" {
		spanCtx, span := observability.StartSpan(ctx, "loop.synthesize", nil)
		var err error
		draft, err = l.capability.Synthesize(spanCtx, SynthesizeInput{
			Question: st.question,
			History:  st.history,
			Trace:    st.steps,
		})
		span.SetError(err)
		span.End()
		if err != nil {
			st.termErr = &LoopInternalError{Phase: "synthesize", Err: err}
			return StateFailed
		}
	}

	st.record(Step{Kind: StepFinal, Content: draft})
	st.answer = draft
	return StateDone
}

func toolStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isPolicyViolation(err):
		return "policy_violation"
	default:
		return "query_error"
	}
}

func isPolicyViolation(err error) bool {
	var policy *db.PolicyViolation
	return errors.As(err, &policy)
}
