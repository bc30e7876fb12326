// Package task defines the data model for a browser automation run: the
// Task owned by a session, the ordered Steps of its plan, and their
// lifecycle states.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Task.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// StepState is the lifecycle state of a single Step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepActive    StepState = "active"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// ErrTaskRunning is returned when a new task is requested while the
// session's current task is still running.
var ErrTaskRunning = fmt.Errorf("a task is already running")

// Task is one goal-to-completion run. It is exclusively owned by its
// session and replaced wholesale when a new task starts.
type Task struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Plan      []*Step   `json:"plan"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates an idle Task for the given goal.
func New(goal string) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Goal:      goal,
		State:     StateIdle,
		CreatedAt: time.Now(),
	}
}

// validTransitions enumerates the allowed task state machine edges.
// Completed and Failed are terminal.
var validTransitions = map[State][]State{
	StateIdle:     {StatePlanning},
	StatePlanning: {StateRunning, StateIdle, StateFailed},
	StateRunning:  {StateCompleted, StateFailed},
}

// Transition moves the task to the next state, rejecting any edge the
// state machine does not allow.
func (t *Task) Transition(next State) error {
	for _, allowed := range validTransitions[t.State] {
		if allowed == next {
			t.State = next
			return nil
		}
	}
	return fmt.Errorf("invalid task transition %s -> %s", t.State, next)
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.State == StateCompleted || t.State == StateFailed
}

// Progress returns completed steps over total steps. A task with an
// empty plan reports zero progress.
func (t *Task) Progress() float64 {
	if len(t.Plan) == 0 {
		return 0
	}
	completed := 0
	for _, s := range t.Plan {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(t.Plan))
}

// Step is one browser action in a plan. Index is assigned once at plan
// creation and never changes; status only advances pending -> active ->
// completed/failed.
type Step struct {
	Index  int  `json:"index"`
	Action Kind `json:"action"`
	Params
	Status     StepState `json:"status"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Params holds the action-specific fields of a step. Unused fields stay
// at their zero value and are omitted on the wire.
type Params struct {
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	Ms       int    `json:"ms,omitempty"`
}

// MarkActive moves a pending step to active.
func (s *Step) MarkActive() error {
	if s.Status != StepPending {
		return fmt.Errorf("step %d is %s, cannot activate", s.Index, s.Status)
	}
	s.Status = StepActive
	return nil
}

// MarkCompleted moves an active step to completed and records its
// elapsed wall time.
func (s *Step) MarkCompleted(elapsed time.Duration) error {
	if s.Status != StepActive {
		return fmt.Errorf("step %d is %s, cannot complete", s.Index, s.Status)
	}
	s.Status = StepCompleted
	s.DurationMs = durationMs(elapsed)
	return nil
}

// MarkFailed moves an active step to failed, recording elapsed wall
// time and the failure message.
func (s *Step) MarkFailed(elapsed time.Duration, err error) error {
	if s.Status != StepActive {
		return fmt.Errorf("step %d is %s, cannot fail", s.Index, s.Status)
	}
	s.Status = StepFailed
	s.DurationMs = durationMs(elapsed)
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

func durationMs(elapsed time.Duration) *int64 {
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}
