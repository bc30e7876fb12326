// Package session binds one observer connection to one task at a time:
// it accepts observer commands, runs planning and execution, and owns
// all mutable task state for the connection's lifetime.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/engine"
	"github.com/entrhq/taskpilot/pkg/logging"
	"github.com/entrhq/taskpilot/pkg/planner"
	"github.com/entrhq/taskpilot/pkg/safety"
	"github.com/entrhq/taskpilot/pkg/task"
	"github.com/entrhq/taskpilot/pkg/types"
)

// Options configures task execution for a session.
type Options struct {
	// Browser configures the session's exclusively-owned browser.
	Browser browser.SessionOptions

	// FrameInterval is the frame snapshot cadence; 0 disables frames.
	FrameInterval time.Duration

	// LoginWait is the pause applied on a detected login page.
	LoginWait time.Duration

	// CredentialsTimeout bounds the interactive credentials wait;
	// 0 waits forever.
	CredentialsTimeout time.Duration

	// ContinueOnFailure disables abort-on-first-failure.
	ContinueOnFailure bool

	// Guard is the safety guard consulted before every step.
	Guard *safety.Guard
}

// Session is the per-connection state machine. It owns exactly one
// Task at a time; a new task replaces, never merges with, the previous
// one, and everything is abandoned when the session closes.
type Session struct {
	id          string
	emit        engine.Emitter
	planner     *planner.Planner
	browsers    *browser.Manager
	opts        Options
	credentials *engine.Credentials
	logger      *logging.Logger

	mu      sync.Mutex
	current *task.Task
	cancel  context.CancelFunc
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// New creates a session identified by id, emitting events through emit.
func New(id string, emit engine.Emitter, pl *planner.Planner, browsers *browser.Manager, opts Options) *Session {
	logger, _ := logging.NewLogger("session")
	return &Session{
		id:          id,
		emit:        emit,
		planner:     pl,
		browsers:    browsers,
		opts:        opts,
		credentials: engine.NewCredentials(opts.CredentialsTimeout, emit),
		logger:      logger,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Current returns the session's current task, nil before the first
// start.
func (s *Session) Current() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// StartTask begins a run for the goal. A start while a task is in
// flight is rejected with an explicit error event; the running task is
// never silently superseded.
func (s *Session) StartTask(goal string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	if s.running {
		s.mu.Unlock()
		s.emit(types.NewLogEvent("error", "a task is already running"))
		return task.ErrTaskRunning
	}

	t := task.New(goal)
	ctx, cancel := context.WithCancel(context.Background())
	if s.cancel != nil {
		s.cancel()
	}
	s.current = t
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t)
	return nil
}

// ProvideCredentials forwards observer-supplied values to a waiting
// executor. Values arriving while nothing is awaiting are discarded.
func (s *Session) ProvideCredentials(data map[string]string) {
	if !s.credentials.Provide(data) {
		s.logger.Debugf("session %s: credentials provided while none requested, discarded", s.id)
	}
}

// Close abandons any in-flight task, waits for the run goroutine to
// unwind, and releases the session's browser resources.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.browsers.Release(s.id)
	s.logger.Infof("session %s closed", s.id)
}

func (s *Session) run(ctx context.Context, t *task.Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if engine.IsPriceCompareGoal(t.Goal) {
		s.runPriceCompare(ctx, t)
		return
	}

	_ = t.Transition(task.StatePlanning)
	s.emit(types.NewLogEvent("info", "planning steps"))

	plan, source, err := s.planner.Generate(ctx, t.Goal)
	if err != nil {
		// Planning failures surface before any step runs; the task
		// never transitions to running.
		s.logger.Errorf("session %s: planning failed: %v", s.id, err)
		_ = t.Transition(task.StateIdle)
		if ctx.Err() == nil {
			s.emit(types.NewLogEvent("error", fmt.Sprintf("planning failed: %v", err)))
		}
		return
	}
	t.Plan = plan
	s.emit(types.NewLogEvent("info", fmt.Sprintf("plan source: %s", source)))

	s.emit(types.NewLogEvent("info", "starting browser"))
	controller, err := s.browsers.Acquire(s.id, s.opts.Browser)
	if err != nil {
		// The automation capability being unavailable is fatal to the
		// run.
		s.logger.Errorf("session %s: browser unavailable: %v", s.id, err)
		_ = t.Transition(task.StateFailed)
		if ctx.Err() == nil {
			s.emit(types.NewLogEvent("error", fmt.Sprintf("browser unavailable: %v", err)))
			s.emit(types.NewTaskCompletedEvent(t.Goal, err))
		}
		return
	}
	defer s.browsers.Release(s.id)

	_ = t.Transition(task.StateRunning)
	s.emit(types.NewTaskStartedEvent(t.Goal, t.Plan))

	executor := engine.New(controller, s.emit,
		engine.WithCredentials(s.credentials),
		engine.WithGuard(s.opts.Guard),
		engine.WithContinueOnFailure(s.opts.ContinueOnFailure),
		engine.WithLoginWait(s.opts.LoginWait),
		engine.WithFrameInterval(s.opts.FrameInterval),
	)

	err = executor.Run(ctx, t)
	if ctx.Err() != nil {
		// Disconnect or abort: the run is abandoned with no further
		// events.
		s.logger.Infof("session %s: task %s abandoned", s.id, t.ID)
		return
	}
	s.emit(types.NewTaskCompletedEvent(t.Goal, err))
	s.logger.Infof("session %s: task %s finished in state %s", s.id, t.ID, t.State)
}

// runPriceCompare handles the comparison task mode: no step plan, a
// parallel scrape, one results payload.
func (s *Session) runPriceCompare(ctx context.Context, t *task.Task) {
	_ = t.Transition(task.StatePlanning)
	_ = t.Transition(task.StateRunning)
	s.emit(types.NewLogEvent("info", "price comparison mode: parallel platforms"))
	s.emit(types.NewTaskStartedEvent(t.Goal, nil))

	comparer := engine.NewPriceComparer(s.launchEphemeral, s.emit)
	err := comparer.Run(ctx, t.Goal)

	if err != nil {
		_ = t.Transition(task.StateFailed)
	} else {
		_ = t.Transition(task.StateCompleted)
	}
	if ctx.Err() != nil {
		return
	}
	s.emit(types.NewTaskCompletedEvent(t.Goal, err))
}

// launchEphemeral acquires a throwaway browser for one platform
// scrape; closing the returned controller releases it from the pool.
func (s *Session) launchEphemeral() (browser.Controller, error) {
	owner := fmt.Sprintf("%s/pc-%s", s.id, uuid.New().String()[:8])
	sess, err := s.browsers.Acquire(owner, s.opts.Browser)
	if err != nil {
		return nil, err
	}
	return &pooledController{Session: sess, release: func() { s.browsers.Release(owner) }}, nil
}

// pooledController returns its browser to the pool on Close.
type pooledController struct {
	*browser.Session
	release func()
}

func (p *pooledController) Close() error {
	p.release()
	return nil
}
