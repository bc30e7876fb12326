package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/taskpilot/pkg/task"
	"github.com/entrhq/taskpilot/pkg/types"
)

// Emitter delivers one outbound event to the session's observer.
type Emitter func(event *types.Event)

// Credentials handles the interactive mid-run credential exchange. At
// most one request is outstanding at a time; the executor blocks on
// Request until the observer answers, the context is canceled, or the
// configured timeout (if any) elapses.
type Credentials struct {
	mu      sync.Mutex
	timeout time.Duration
	emit    Emitter
	pending *pendingRequest
}

// pendingRequest tracks a credentials request waiting for the observer.
type pendingRequest struct {
	fields    task.CredentialFields
	response  chan map[string]string
	closeOnce sync.Once
}

// NewCredentials creates a credentials manager. A zero timeout means
// wait forever, which is the documented default; any bound is a policy
// added at the session boundary.
func NewCredentials(timeout time.Duration, emit Emitter) *Credentials {
	return &Credentials{timeout: timeout, emit: emit}
}

// Awaiting reports whether a request is currently outstanding.
func (c *Credentials) Awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Request emits a CREDENTIALS_REQUIRED event and blocks until the
// observer provides values. Only the step executor calls this, so a
// second outstanding request is a programming error.
func (c *Credentials) Request(ctx context.Context, fields task.CredentialFields) (map[string]string, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("a credentials request is already outstanding")
	}
	pending := &pendingRequest{
		fields:   fields,
		response: make(chan map[string]string, 1),
	}
	c.pending = pending
	c.mu.Unlock()

	defer c.cleanup(pending)

	c.emit(types.NewCredentialsRequiredEvent(fields))

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutC:
		return nil, fmt.Errorf("credentials request timed out after %s", c.timeout)
	case data, ok := <-pending.response:
		if !ok {
			return nil, fmt.Errorf("credentials request abandoned")
		}
		return data, nil
	}
}

// Provide delivers observer-supplied values to the waiting executor.
// Returns false when no request is outstanding; the values are then
// discarded as a no-op.
func (c *Credentials) Provide(data map[string]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return false
	}
	select {
	case c.pending.response <- data:
		return true
	default:
		// Cleanup already started; safe to drop.
		return false
	}
}

func (c *Credentials) cleanup(pending *pendingRequest) {
	c.mu.Lock()
	if c.pending == pending {
		c.pending = nil
	}
	c.mu.Unlock()

	pending.closeOnce.Do(func() {
		close(pending.response)
	})
}
