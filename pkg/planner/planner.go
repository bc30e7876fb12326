// Package planner turns a natural-language goal into an ordered,
// validated plan of browser steps by delegating to an LLM backend.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/taskpilot/pkg/llm"
	"github.com/entrhq/taskpilot/pkg/task"
)

const systemPrompt = `You are a browser automation planner.

Return ONLY a JSON array of steps.
No markdown. No explanation.

Rules:
- Use actions: navigate, click, type, scroll, wait, screenshot
- Extract search keywords from instructions
- Never paste the full instruction into search fields
- URLs must be valid

Example:

Goal:
Find full stack course on geeksforgeeks

Output:
[
 {"action":"navigate","url":"https://www.geeksforgeeks.org"},
 {"action":"type","selector":"input[type='search']","text":"full stack"},
 {"action":"click","selector":"button[type='submit']"}
]`

const (
	// DefaultMaxSteps caps the plan length; longer plans are truncated.
	DefaultMaxSteps = 20

	// DefaultPromptBudget is the maximum prompt size in tokens. Goals
	// pushing the prompt past it are rejected before the API call.
	DefaultPromptBudget = 4096
)

// PlanningError reports that plan generation failed: the backend call
// errored, timed out, or returned a plan that does not validate.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// Plan sources reported by Generate.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Planner generates plans from goals. It has no side effects beyond the
// backend call and is safe for concurrent use across sessions.
type Planner struct {
	provider     llm.Provider
	maxSteps     int
	promptBudget int
	fallback     bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxSteps caps the number of steps kept from a generated plan.
func WithMaxSteps(n int) Option {
	return func(p *Planner) {
		p.maxSteps = n
	}
}

// WithPromptBudget sets the maximum prompt size in tokens.
func WithPromptBudget(n int) Option {
	return func(p *Planner) {
		p.promptBudget = n
	}
}

// WithFallback enables synthesizing a minimal plan from the goal text
// when the backend fails or returns an invalid plan. Disabled by
// default so generation failures surface as PlanningError.
func WithFallback(enabled bool) Option {
	return func(p *Planner) {
		p.fallback = enabled
	}
}

// New creates a Planner on the given provider.
func New(provider llm.Provider, opts ...Option) *Planner {
	p := &Planner{
		provider:     provider,
		maxSteps:     DefaultMaxSteps,
		promptBudget: DefaultPromptBudget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate maps a goal to an ordered plan and reports where the plan
// came from, SourceLLM or SourceFallback. Every returned step is
// pending with no duration, indices are contiguous from zero, and
// defaults are applied. Validation is all-or-nothing: one invalid step
// rejects the whole plan.
func (p *Planner) Generate(ctx context.Context, goal string) ([]*task.Step, string, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, "", &PlanningError{Reason: "empty goal"}
	}

	steps, err := p.generateLLM(ctx, goal)
	if err != nil {
		if p.fallback {
			return finalize(fallbackSteps(goal), p.maxSteps), SourceFallback, nil
		}
		return nil, "", err
	}

	return finalize(steps, p.maxSteps), SourceLLM, nil
}

func (p *Planner) generateLLM(ctx context.Context, goal string) ([]*task.Step, error) {
	prompt := fmt.Sprintf("Goal: %s", goal)
	if tokens := CountTokens(systemPrompt + prompt); tokens > p.promptBudget {
		return nil, &PlanningError{Reason: fmt.Sprintf("prompt of %d tokens exceeds budget of %d", tokens, p.promptBudget)}
	}

	reply, err := p.provider.Complete(ctx, []*llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(prompt),
	})
	if err != nil {
		return nil, &PlanningError{Reason: "generation call failed", Err: err}
	}

	steps, err := parsePlan(reply.Content)
	if err != nil {
		return nil, &PlanningError{Reason: "invalid plan", Err: err}
	}
	return steps, nil
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// parsePlan extracts the JSON step array from a completion and
// validates every step against the vocabulary. A plan with even one
// invalid step is rejected wholesale.
func parsePlan(text string) ([]*task.Step, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	raw := jsonArrayRe.FindString(cleaned)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in completion")
	}

	var steps []*task.Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan is empty")
	}

	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return steps, nil
}

// finalize assigns indices, applies vocabulary defaults, resets
// lifecycle fields, and truncates to the step cap.
func finalize(steps []*task.Step, maxSteps int) []*task.Step {
	if maxSteps > 0 && len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	for i, s := range steps {
		s.Index = i
		s.Status = task.StepPending
		s.DurationMs = nil
		s.Error = ""
		s.ApplyDefaults()
	}
	return steps
}

var urlRe = regexp.MustCompile(`https?://\S+`)

// fallbackSteps synthesizes a minimal plan from the goal text: open an
// embedded URL and search, or fall back to a web search.
func fallbackSteps(goal string) []*task.Step {
	query := extractQuery(goal)

	if url := urlRe.FindString(goal); url != "" {
		return []*task.Step{
			{Action: task.KindNavigate, Params: task.Params{URL: url}},
			{Action: task.KindWait, Params: task.Params{Ms: 500}},
			{Action: task.KindType, Params: task.Params{Selector: "input[type='search']", Text: query}},
			{Action: task.KindScreenshot},
		}
	}

	return []*task.Step{
		{Action: task.KindNavigate, Params: task.Params{URL: "https://www.google.com/search?q=" + strings.ReplaceAll(query, " ", "+")}},
		{Action: task.KindWait, Params: task.Params{Ms: 500}},
	}
}

func extractQuery(goal string) string {
	q := urlRe.ReplaceAllString(goal, "")
	for _, filler := range []string{"find", "course", "open", " on "} {
		q = strings.ReplaceAll(q, filler, " ")
	}
	return strings.Join(strings.Fields(q), " ")
}
