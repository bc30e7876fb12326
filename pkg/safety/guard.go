// Package safety gates browser actions against a configurable block
// list. Steps touching payment or enrollment surfaces fail before they
// reach the browser.
package safety

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/taskpilot/pkg/task"
)

// DefaultBlockedKeywords are matched as substrings against a step's
// url, selector, and text.
var DefaultBlockedKeywords = []string{
	"checkout",
	"payment",
	"pay",
	"enroll",
	"subscribe",
	"purchase",
	"buy",
}

// SafeModeBlocked reports that a step was refused by the guard. A
// blocked step aborts the rest of the run.
type SafeModeBlocked struct {
	Detail string
}

func (e *SafeModeBlocked) Error() string {
	return fmt.Sprintf("blocked by safe mode: %s", e.Detail)
}

// Guard validates steps before execution.
type Guard struct {
	keywords    []string
	urlPatterns []glob.Glob
	enabled     bool
}

// NewGuard creates a guard from keyword and URL glob patterns. An
// invalid pattern is an error; a nil keyword list uses the defaults.
func NewGuard(keywords []string, urlPatterns []string, enabled bool) (*Guard, error) {
	if keywords == nil {
		keywords = DefaultBlockedKeywords
	}

	compiled := make([]glob.Glob, 0, len(urlPatterns))
	for _, pattern := range urlPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked URL pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	return &Guard{keywords: keywords, urlPatterns: compiled, enabled: enabled}, nil
}

// Check returns a *SafeModeBlocked error if the step touches a blocked
// keyword or a blocked URL pattern. A disabled guard allows everything.
func (g *Guard) Check(step *task.Step) error {
	if g == nil || !g.enabled {
		return nil
	}

	haystack := strings.ToLower(strings.Join([]string{step.URL, step.Selector, step.Text}, " "))
	for _, keyword := range g.keywords {
		if strings.Contains(haystack, keyword) {
			return &SafeModeBlocked{Detail: fmt.Sprintf("keyword %q in step params", keyword)}
		}
	}

	if step.Action == task.KindNavigate {
		for _, pattern := range g.urlPatterns {
			if pattern.Match(step.URL) {
				return &SafeModeBlocked{Detail: fmt.Sprintf("url %q matches blocked pattern", step.URL)}
			}
		}
	}

	return nil
}
