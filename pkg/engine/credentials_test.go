package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/taskpilot/pkg/task"
	"github.com/entrhq/taskpilot/pkg/types"
)

// mockEventEmitter captures emitted events for testing
type mockEventEmitter struct {
	events []*types.Event
	mu     sync.Mutex
}

func (m *mockEventEmitter) emit(event *types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockEventEmitter) getEvents() []*types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Event{}, m.events...)
}

func (m *mockEventEmitter) eventsOfType(eventType types.EventType) []*types.Event {
	var matched []*types.Event
	for _, ev := range m.getEvents() {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func TestCredentials_ProvideWithoutRequest(t *testing.T) {
	emitter := &mockEventEmitter{}
	creds := NewCredentials(0, emitter.emit)

	if creds.Provide(map[string]string{"password": "secret"}) {
		t.Error("Provide with no outstanding request should return false")
	}
	if creds.Awaiting() {
		t.Error("expected no outstanding request")
	}
}

func TestCredentials_RequestAndProvide(t *testing.T) {
	emitter := &mockEventEmitter{}
	creds := NewCredentials(0, emitter.emit)

	type result struct {
		data map[string]string
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := creds.Request(context.Background(), task.CredentialFields{Password: true})
		resultCh <- result{data, err}
	}()

	// Wait for the request to become outstanding.
	deadline := time.After(2 * time.Second)
	for !creds.Awaiting() {
		select {
		case <-deadline:
			t.Fatal("request never became outstanding")
		case <-time.After(5 * time.Millisecond):
		}
	}

	required := emitter.eventsOfType(types.EventCredentialsRequired)
	if len(required) != 1 {
		t.Fatalf("expected one CREDENTIALS_REQUIRED event, got %d", len(required))
	}
	if required[0].Fields == nil || !required[0].Fields.Password {
		t.Error("expected password field to be requested")
	}

	if !creds.Provide(map[string]string{"password": "hunter2"}) {
		t.Error("Provide should accept values for the outstanding request")
	}

	res := <-resultCh
	if res.err != nil {
		t.Fatalf("Request returned error: %v", res.err)
	}
	if res.data["password"] != "hunter2" {
		t.Errorf("password = %q, want %q", res.data["password"], "hunter2")
	}
	if creds.Awaiting() {
		t.Error("request should be cleared after the response")
	}
}

func TestCredentials_RequestTimeout(t *testing.T) {
	emitter := &mockEventEmitter{}
	creds := NewCredentials(20*time.Millisecond, emitter.emit)

	_, err := creds.Request(context.Background(), task.CredentialFields{Username: true})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if creds.Awaiting() {
		t.Error("request should be cleared after timeout")
	}
}

func TestCredentials_RequestCanceled(t *testing.T) {
	emitter := &mockEventEmitter{}
	creds := NewCredentials(0, emitter.emit)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := creds.Request(ctx, task.CredentialFields{Password: true})
		errCh <- err
	}()

	deadline := time.After(2 * time.Second)
	for !creds.Awaiting() {
		select {
		case <-deadline:
			t.Fatal("request never became outstanding")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCredentials_SecondRequestRejected(t *testing.T) {
	emitter := &mockEventEmitter{}
	creds := NewCredentials(0, emitter.emit)

	go func() {
		_, _ = creds.Request(context.Background(), task.CredentialFields{Password: true})
	}()

	deadline := time.After(2 * time.Second)
	for !creds.Awaiting() {
		select {
		case <-deadline:
			t.Fatal("request never became outstanding")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := creds.Request(context.Background(), task.CredentialFields{Username: true}); err == nil {
		t.Error("second outstanding request should be rejected")
	}

	creds.Provide(map[string]string{"password": "x"})
}
