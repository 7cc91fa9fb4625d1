package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/internal/llm/provider"
)

// Decision is the planner's verdict for one loop iteration: either a
// SQL statement to execute or the judgment that enough information
// exists to answer (optionally with a draft already composed).
type Decision struct {
	// Statement is the SQL to run next. Empty means no further query.
	Statement string

	// Answer is a ready answer draft, set when the planner concluded
	// without needing (more) data.
	Answer string
}

// PlanInput carries everything the planner may consult.
type PlanInput struct {
	Question string
	Schema   string
	History  []provider.Message
	Trace    []Step
}

// SynthesizeInput carries the full trace of the turn for composing
// the final answer.
type SynthesizeInput struct {
	Question string
	History  []provider.Message
	Trace    []Step
}

// Capability is the reasoning capability boundary. It is opaque and
// potentially nondeterministic; the loop only sequences its calls,
// carries context, detects errors and bounds iteration.
type Capability interface {
	// Plan produces the next decision given the question, schema and
	// accumulated trace of this turn.
	Plan(ctx context.Context, in PlanInput) (*Decision, error)

	// Synthesize composes a natural-language answer from the trace.
	Synthesize(ctx context.Context, in SynthesizeInput) (string, error)
}

const sqlToolName = "run_sql"

var sqlToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"statement": {
			"type": "string",
			"description": "A single syntactically correct read-only SQL statement"
		}
	},
	"required": ["statement"]
}`)

const plannerSystemPrompt = `You are an expert data analyst answering questions by querying a database.

RULES:
1. Consult the schema below before writing any SQL.
2. Construct one syntactically correct SQL statement at a time and execute it with the run_sql tool.
3. If a statement fails, read the error, correct the statement, and try again.
4. Never use mutating statements (INSERT, UPDATE, DELETE, DROP, ALTER); the database is read-only.
5. When the gathered rows are sufficient, answer directly with context and reasoning, not just numbers.
6. Greetings and other questions that need no data are answered directly without the tool.

SCHEMA:
%s`

const synthesisSystemPrompt = `You are an expert data analyst. Compose a concise final answer to the user's question from the queries and results below. Provide context and reasoning, not just numbers. Do not mention the SQL mechanics unless asked.`

// LLMCapability implements Capability over an LLM provider using a
// single run_sql tool declaration.
type LLMCapability struct {
	provider    provider.Provider
	model       string
	temperature float64
}

// CapabilityOption configures an LLMCapability.
type CapabilityOption func(*LLMCapability)

// WithModel overrides the provider's default model.
func WithModel(model string) CapabilityOption {
	return func(c *LLMCapability) { c.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) CapabilityOption {
	return func(c *LLMCapability) { c.temperature = t }
}

// NewLLMCapability creates a capability backed by an LLM provider.
// Temperature defaults to 0.3: SQL generation wants precision over
// creativity.
func NewLLMCapability(p provider.Provider, opts ...CapabilityOption) *LLMCapability {
	c := &LLMCapability{provider: p, temperature: 0.3}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plan implements Capability
func (c *LLMCapability) Plan(ctx context.Context, in PlanInput) (*Decision, error) {
	messages := make([]provider.Message, 0, len(in.History)+2+len(in.Trace))
	messages = append(messages, provider.Message{
		Role:    "system",
		Content: fmt.Sprintf(plannerSystemPrompt, in.Schema),
	})
	messages = append(messages, in.History...)
	messages = append(messages, provider.Message{Role: "user", Content: in.Question})
	messages = append(messages, traceMessages(in.Trace)...)

	resp, err := c.provider.CreateCompletion(ctx, provider.CompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    messages,
		Tools: []provider.Tool{{
			Name:        sqlToolName,
			Description: "Execute a single read-only SQL statement and return the rows",
			Parameters:  sqlToolSchema,
		}},
	})
	if err != nil {
		return nil, err
	}

	for _, call := range resp.ToolCalls {
		if call.Function.Name != sqlToolName {
			continue
		}
		var args struct {
			Statement string `json:"statement"`
		}
		if err := json.Unmarshal(call.Function.Arguments, &args); err != nil {
			return nil, fmt.Errorf("unmarshal tool arguments: %w", err)
		}
		if strings.TrimSpace(args.Statement) == "" {
			return nil, fmt.Errorf("tool call with empty statement")
		}
		return &Decision{Statement: args.Statement}, nil
	}

	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("planner returned neither tool call nor answer")
	}
	return &Decision{Answer: strings.TrimSpace(resp.Content)}, nil
}

// Synthesize implements Capability
func (c *LLMCapability) Synthesize(ctx context.Context, in SynthesizeInput) (string, error) {
	messages := make([]provider.Message, 0, len(in.History)+3)
	messages = append(messages, provider.Message{Role: "system", Content: synthesisSystemPrompt})
	messages = append(messages, in.History...)
	messages = append(messages, provider.Message{Role: "user", Content: in.Question})
	messages = append(messages, provider.Message{
		Role:    "user",
		Content: "Queries and results gathered so far:\n" + renderTrace(in.Trace),
	})

	resp, err := c.provider.CreateCompletion(ctx, provider.CompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty synthesis response")
	}
	return strings.TrimSpace(resp.Content), nil
}

// Translate rewrites text into the target language, preserving meaning
// and tone. It satisfies language.Translator.
func (c *LLMCapability) Translate(ctx context.Context, text string, target language.Language) (string, error) {
	resp, err := c.provider.CreateCompletion(ctx, provider.CompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []provider.Message{
			{Role: "system", Content: fmt.Sprintf(
				"Translate the user's text into %s. Output only the translation, nothing else.", target.DisplayName())},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty translation response")
	}
	return strings.TrimSpace(resp.Content), nil
}

// traceMessages folds the turn's trace back into chat messages so the
// planner sees its own prior statements and their outcomes.
func traceMessages(trace []Step) []provider.Message {
	var messages []provider.Message
	for _, step := range trace {
		switch step.Kind {
		case StepAction:
			if step.Invocation != nil {
				messages = append(messages, provider.Message{
					Role:    "assistant",
					Content: "Executed SQL: " + step.Invocation.Statement,
				})
			}
		case StepObservation:
			if step.Invocation == nil {
				continue
			}
			if step.Invocation.Error != "" {
				messages = append(messages, provider.Message{
					Role:    "user",
					Content: "The statement failed: " + step.Invocation.Error + "\nCorrect it and try again.",
				})
			} else if step.Invocation.Rows != nil {
				messages = append(messages, provider.Message{
					Role:    "user",
					Content: "Result rows:\n" + step.Invocation.Rows.Render(traceRenderLimit),
				})
			}
		}
	}
	return messages
}

func renderTrace(trace []Step) string {
	var b strings.Builder
	for _, step := range trace {
		if step.Invocation == nil {
			continue
		}
		fmt.Fprintf(&b, "SQL: %s\n", step.Invocation.Statement)
		if step.Invocation.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", step.Invocation.Error)
		} else if step.Invocation.Rows != nil {
			fmt.Fprintf(&b, "Rows:\n%s\n", step.Invocation.Rows.Render(traceRenderLimit))
		}
	}
	if b.Len() == 0 {
		return "(no queries were executed)"
	}
	return b.String()
}
