package safety

import (
	"errors"
	"testing"

	"github.com/entrhq/taskpilot/pkg/task"
)

func TestGuardBlocksKeywords(t *testing.T) {
	guard, err := NewGuard(DefaultBlockedKeywords, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		step    task.Step
		blocked bool
	}{
		{"checkout url", task.Step{Action: task.KindNavigate, Params: task.Params{URL: "https://shop.example.com/checkout"}}, true},
		{"buy button", task.Step{Action: task.KindClick, Params: task.Params{Selector: "#buy-now"}}, true},
		{"payment text", task.Step{Action: task.KindType, Params: task.Params{Selector: "#q", Text: "payment details"}}, true},
		{"plain search", task.Step{Action: task.KindType, Params: task.Params{Selector: "#q", Text: "hiking boots"}}, false},
		{"plain navigate", task.Step{Action: task.KindNavigate, Params: task.Params{URL: "https://example.com"}}, false},
		{"bare wait", task.Step{Action: task.KindWait}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(&tt.step)
			if tt.blocked && err == nil {
				t.Error("expected the step to be blocked")
			}
			if !tt.blocked && err != nil {
				t.Errorf("unexpected block: %v", err)
			}
			if tt.blocked {
				var blocked *SafeModeBlocked
				if !errors.As(err, &blocked) {
					t.Errorf("err = %T, want *SafeModeBlocked", err)
				}
			}
		})
	}
}

func TestGuardURLPatterns(t *testing.T) {
	guard, err := NewGuard(nil, []string{"*bank.example.com*", "*/admin/*"}, true)
	if err != nil {
		t.Fatal(err)
	}

	blocked := task.Step{Action: task.KindNavigate, Params: task.Params{URL: "https://bank.example.com/login"}}
	if guard.Check(&blocked) == nil {
		t.Error("expected pattern to block the navigation")
	}

	allowed := task.Step{Action: task.KindNavigate, Params: task.Params{URL: "https://example.com/products"}}
	if err := guard.Check(&allowed); err != nil {
		t.Errorf("unexpected block: %v", err)
	}
}

func TestGuardDisabled(t *testing.T) {
	guard, err := NewGuard(DefaultBlockedKeywords, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	step := task.Step{Action: task.KindNavigate, Params: task.Params{URL: "https://shop.example.com/checkout"}}
	if err := guard.Check(&step); err != nil {
		t.Errorf("disabled guard must not block, got %v", err)
	}
}

func TestGuardInvalidPattern(t *testing.T) {
	if _, err := NewGuard(nil, []string{"[unclosed"}, true); err == nil {
		t.Error("expected invalid glob pattern to be rejected")
	}
}
