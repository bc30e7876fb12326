// Package types defines the wire-level event protocol between the
// engine and its observer. Every message is a flat JSON envelope of the
// form {"type": ..., fields...}.
package types

import (
	"github.com/entrhq/taskpilot/pkg/task"
)

// EventType identifies an outbound event kind.
type EventType string

const (
	EventTaskStarted         EventType = "TASK_STARTED"         // EventTaskStarted carries the goal and the full initial plan.
	EventStepStarted         EventType = "STEP_STARTED"         // EventStepStarted announces execution of one step.
	EventStepCompleted       EventType = "STEP_COMPLETED"       // EventStepCompleted reports a successful step and its duration.
	EventStepFailed          EventType = "STEP_FAILED"          // EventStepFailed reports a failed step, its duration and error.
	EventTaskCompleted       EventType = "TASK_COMPLETED"       // EventTaskCompleted closes a run; Error is set when the run failed.
	EventBrowserFrame        EventType = "BROWSER_FRAME"        // EventBrowserFrame carries a base64 screenshot snapshot.
	EventLog                 EventType = "LOG"                  // EventLog carries an operational log line for the observer.
	EventPriceResults        EventType = "PRICE_RESULTS"        // EventPriceResults carries a one-shot price comparison payload.
	EventCredentialsRequired EventType = "CREDENTIALS_REQUIRED" // EventCredentialsRequired asks the observer for secret values.
)

// Inbound command types.
const (
	CommandStartTask           = "START_TASK"
	CommandCredentialsProvided = "CREDENTIALS_PROVIDED"
)

// Command is an inbound observer message.
type Command struct {
	Type string            `json:"type"`
	Goal string            `json:"goal,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// Event is one outbound message. Fields not relevant to the event type
// are omitted on the wire; Index is a pointer so step zero survives
// serialization.
type Event struct {
	Type       EventType              `json:"type"`
	Goal       string                 `json:"goal,omitempty"`
	Steps      []*task.Step           `json:"steps,omitempty"`
	Index      *int                   `json:"index,omitempty"`
	Step       *task.Step             `json:"step,omitempty"`
	DurationMs *int64                 `json:"duration_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Image      string                 `json:"image,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Level      string                 `json:"level,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Fields     *task.CredentialFields `json:"fields,omitempty"`
	Query      string                 `json:"query,omitempty"`
	MaxPrice   *float64               `json:"max_price,omitempty"`
	Results    []PlatformResult       `json:"results,omitempty"`
}

// PriceItem is one scraped product offer.
type PriceItem struct {
	Title string   `json:"title"`
	Price *float64 `json:"price"`
	URL   string   `json:"url"`
}

// PlatformResult groups the offers found on one platform.
type PlatformResult struct {
	Platform string      `json:"platform"`
	Items    []PriceItem `json:"items"`
}

// NewTaskStartedEvent creates the event opening a run. Steps holds the
// full initial plan with every step pending.
func NewTaskStartedEvent(goal string, steps []*task.Step) *Event {
	return &Event{Type: EventTaskStarted, Goal: goal, Steps: steps}
}

// NewStepStartedEvent creates the event announcing step execution.
func NewStepStartedEvent(step *task.Step) *Event {
	index := step.Index
	return &Event{Type: EventStepStarted, Index: &index, Step: step}
}

// NewStepCompletedEvent creates the event reporting step success.
func NewStepCompletedEvent(step *task.Step) *Event {
	index := step.Index
	return &Event{Type: EventStepCompleted, Index: &index, Step: step, DurationMs: step.DurationMs}
}

// NewStepFailedEvent creates the event reporting step failure.
func NewStepFailedEvent(step *task.Step) *Event {
	index := step.Index
	return &Event{Type: EventStepFailed, Index: &index, Step: step, DurationMs: step.DurationMs, Error: step.Error}
}

// NewTaskCompletedEvent creates the event closing a run. err is nil for
// a successful run.
func NewTaskCompletedEvent(goal string, err error) *Event {
	e := &Event{Type: EventTaskCompleted, Goal: goal}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewBrowserFrameEvent creates a frame snapshot event. Observers treat
// each frame as replacing the previous one.
func NewBrowserFrameEvent(image, source string) *Event {
	return &Event{Type: EventBrowserFrame, Image: image, Source: source}
}

// NewLogEvent creates an observer-facing log event.
func NewLogEvent(level, message string) *Event {
	return &Event{Type: EventLog, Level: level, Message: message}
}

// NewPriceResultsEvent creates the one-shot price comparison payload.
func NewPriceResultsEvent(query string, maxPrice *float64, results []PlatformResult) *Event {
	return &Event{Type: EventPriceResults, Query: query, MaxPrice: maxPrice, Results: results}
}

// NewCredentialsRequiredEvent creates the interactive credentials
// request.
func NewCredentialsRequiredEvent(fields task.CredentialFields) *Event {
	return &Event{Type: EventCredentialsRequired, Fields: &fields}
}

// IsStepEvent returns true if this is any step lifecycle event.
func (e *Event) IsStepEvent() bool {
	return e.Type == EventStepStarted ||
		e.Type == EventStepCompleted ||
		e.Type == EventStepFailed
}

// IsTerminalEvent returns true if no further events follow for the run.
func (e *Event) IsTerminalEvent() bool {
	return e.Type == EventTaskCompleted
}
