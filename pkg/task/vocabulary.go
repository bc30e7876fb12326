package task

import (
	"fmt"
	"strings"
)

// Kind identifies one browser action in the closed vocabulary. Adding a
// kind requires a vocabulary entry plus executor handling.
type Kind string

const (
	KindNavigate   Kind = "navigate"
	KindClick      Kind = "click"
	KindType       Kind = "type"
	KindScroll     Kind = "scroll"
	KindWait       Kind = "wait"
	KindScreenshot Kind = "screenshot"
)

const (
	// DefaultScrollAmount is the viewport scroll distance in pixels when
	// a scroll step omits amount.
	DefaultScrollAmount = 800

	// DefaultWaitMs is the pause duration when a wait step omits ms.
	DefaultWaitMs = 1000
)

// ActionSpec describes the parameter schema of one action kind. It is
// shared by plan validation and step execution.
type ActionSpec struct {
	// Requires lists the param fields that must be non-empty.
	Requires []string
}

// Vocabulary is the closed set of actions a plan may contain.
var Vocabulary = map[Kind]ActionSpec{
	KindNavigate:   {Requires: []string{"url"}},
	KindClick:      {Requires: []string{"selector"}},
	KindType:       {Requires: []string{"selector", "text"}},
	KindScroll:     {},
	KindWait:       {},
	KindScreenshot: {},
}

// Validate checks the step's action and params against the vocabulary.
func (s *Step) Validate() error {
	spec, ok := Vocabulary[s.Action]
	if !ok {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	for _, field := range spec.Requires {
		if s.paramEmpty(field) {
			return fmt.Errorf("action %q requires param %q", s.Action, field)
		}
	}
	return nil
}

// ApplyDefaults fills in the vocabulary defaults for omitted optional
// params.
func (s *Step) ApplyDefaults() {
	if s.Action == KindScroll && s.Amount == 0 {
		s.Amount = DefaultScrollAmount
	}
	if s.Action == KindWait && s.Ms == 0 {
		s.Ms = DefaultWaitMs
	}
}

func (s *Step) paramEmpty(field string) bool {
	switch field {
	case "url":
		return s.URL == ""
	case "selector":
		return s.Selector == ""
	case "text":
		// A credential placeholder ("" text on a credential selector) is
		// resolved at execution time, so text is only required to be
		// present as a field, not non-empty, for type steps on
		// credential-looking selectors. Everything else must be filled.
		return s.Text == "" && !looksLikeCredentialSelector(s.Selector)
	default:
		return true
	}
}

// looksLikeCredentialSelector reports whether a selector targets a
// login field whose value is expected to arrive interactively.
func looksLikeCredentialSelector(selector string) bool {
	lowered := strings.ToLower(selector)
	for _, marker := range []string{"password", "username", "email"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
