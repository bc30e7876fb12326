// Package engine drives a planned task through a browser session one
// step at a time, emitting lifecycle events, streaming frame snapshots,
// and pausing for interactive credential input.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/logging"
	"github.com/entrhq/taskpilot/pkg/safety"
	"github.com/entrhq/taskpilot/pkg/task"
	"github.com/entrhq/taskpilot/pkg/types"
)

const (
	// DefaultFrameInterval is the cadence of best-effort frame
	// snapshots while a task runs.
	DefaultFrameInterval = 500 * time.Millisecond

	// DefaultLoginWait is how long execution pauses on a detected login
	// page so a human can complete the login in the frame feed.
	DefaultLoginWait = 60 * time.Second
)

// Executor runs a task's plan strictly by increasing step index.
// Failures are contained at single-step granularity: a browser error
// fails the step, and by default the rest of the plan is aborted.
type Executor struct {
	controller        browser.Controller
	emit              Emitter
	credentials       *Credentials
	guard             *safety.Guard
	logger            *logging.Logger
	continueOnFailure bool
	loginWait         time.Duration
	frameInterval     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithCredentials sets the credentials manager used for interactive
// pauses. Without one, credential steps fail instead of pausing.
func WithCredentials(c *Credentials) Option {
	return func(e *Executor) {
		e.credentials = c
	}
}

// WithGuard installs a safety guard consulted before every step.
func WithGuard(g *safety.Guard) Option {
	return func(e *Executor) {
		e.guard = g
	}
}

// WithContinueOnFailure disables the abort-on-first-failure policy:
// remaining steps still run after a step fails, and the task ends
// Failed if any step failed. Safe-mode blocks always abort.
func WithContinueOnFailure(enabled bool) Option {
	return func(e *Executor) {
		e.continueOnFailure = enabled
	}
}

// WithLoginWait sets the pause applied when a login page is detected
// after a step. Zero disables the pause.
func WithLoginWait(d time.Duration) Option {
	return func(e *Executor) {
		e.loginWait = d
	}
}

// WithFrameInterval sets the frame snapshot cadence. Zero disables the
// frame feed.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Executor) {
		e.frameInterval = d
	}
}

// New creates an Executor on the given browser controller, emitting
// events through emit.
func New(controller browser.Controller, emit Emitter, opts ...Option) *Executor {
	e := &Executor{
		controller:    controller,
		emit:          emit,
		loginWait:     DefaultLoginWait,
		frameInterval: DefaultFrameInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger, _ = logging.NewLogger("engine")
	}
	return e
}

// Run executes the task's plan. The task must be Running on entry; on
// return it has transitioned to Completed or Failed, unless the context
// was canceled mid-run, in which case the task is left Failed and the
// context error is returned with no further events emitted.
func (e *Executor) Run(ctx context.Context, t *task.Task) error {
	stopFrames := e.startFrameLoop(ctx)
	defer stopFrames()

	var firstFailure error

	for _, step := range t.Plan {
		if err := ctx.Err(); err != nil {
			_ = t.Transition(task.StateFailed)
			return err
		}

		err := e.runStep(ctx, step)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Cancellation unwound the step; suppress further events.
			_ = t.Transition(task.StateFailed)
			return ctx.Err()
		}

		if firstFailure == nil {
			firstFailure = err
		}

		var blocked *safety.SafeModeBlocked
		if !e.continueOnFailure || errors.As(err, &blocked) {
			break
		}
	}

	if firstFailure != nil {
		_ = t.Transition(task.StateFailed)
		return firstFailure
	}
	_ = t.Transition(task.StateCompleted)
	return nil
}

// runStep executes one step through its lifecycle, emitting the step
// events and recording elapsed wall time on the terminal status.
func (e *Executor) runStep(ctx context.Context, step *task.Step) error {
	if err := step.MarkActive(); err != nil {
		return err
	}
	e.emit(types.NewStepStartedEvent(step))
	e.emit(types.NewLogEvent("info", fmt.Sprintf("executing step %d: %s", step.Index+1, step.Action)))
	e.logger.Infof("step %d (%s) started", step.Index, step.Action)

	start := time.Now()
	err := e.performStep(ctx, step)
	elapsed := time.Since(start)

	if err != nil {
		_ = step.MarkFailed(elapsed, err)
		if ctx.Err() == nil {
			e.emit(types.NewStepFailedEvent(step))
			e.emit(types.NewLogEvent("error", fmt.Sprintf("step %d failed: %v", step.Index+1, err)))
		}
		e.logger.Errorf("step %d (%s) failed after %s: %v", step.Index, step.Action, elapsed, err)
		return err
	}

	_ = step.MarkCompleted(elapsed)
	e.emit(types.NewStepCompletedEvent(step))
	e.emit(types.NewLogEvent("info", fmt.Sprintf("completed step %d", step.Index+1)))
	e.logger.Infof("step %d (%s) completed in %s", step.Index, step.Action, elapsed)
	return nil
}

func (e *Executor) performStep(ctx context.Context, step *task.Step) error {
	if e.guard != nil {
		if err := e.guard.Check(step); err != nil {
			return err
		}
	}

	if step.IsCredentialStep() {
		if err := e.resolveCredentials(ctx, step); err != nil {
			return err
		}
	}

	if err := e.controller.Perform(ctx, step); err != nil {
		return err
	}

	if e.loginWait > 0 && e.controller.IsLoginPage() {
		e.emit(types.NewLogEvent("info", fmt.Sprintf("login page detected, waiting %s for manual login", e.loginWait)))
		e.logger.Infof("login page detected at %s, pausing %s", e.controller.CurrentURL(), e.loginWait)
		select {
		case <-time.After(e.loginWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// resolveCredentials pauses execution until the observer supplies the
// secret values the step needs, then fills them into the step params.
func (e *Executor) resolveCredentials(ctx context.Context, step *task.Step) error {
	if e.credentials == nil {
		return fmt.Errorf("step requires credentials but no credentials manager is configured")
	}

	fields := step.CredentialFields()
	e.logger.Infof("step %d awaiting credentials (username=%t email=%t password=%t)",
		step.Index, fields.Username, fields.Email, fields.Password)

	data, err := e.credentials.Request(ctx, fields)
	if err != nil {
		return fmt.Errorf("credentials request failed: %w", err)
	}

	step.ApplyCredentials(data)
	return nil
}

// startFrameLoop streams best-effort frame snapshots until the returned
// stop function is called or the context ends. Frame failures are
// ignored; each new frame replaces the previous one for the observer.
func (e *Executor) startFrameLoop(ctx context.Context) func() {
	if e.frameInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.frameInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				image, err := e.controller.Screenshot(ctx)
				if err != nil || image == "" {
					continue
				}
				e.emit(types.NewBrowserFrameEvent(image, e.controller.CurrentURL()))
			}
		}
	}()

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
			<-stopped
		}
	}
}
