package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/taskpilot/pkg/task"
)

// searchInputSelectors are tried in order when a planned selector for a
// search field does not resolve on the page.
var searchInputSelectors = []string{
	"input[type='search']",
	"input[placeholder*='search' i]",
	"input[name*='search' i]",
	"input[id*='search' i]",
	"input[aria-label*='search' i]",
	"input[name*='query' i]",
}

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// Perform executes one plan step against the live page. Failures are
// returned, never panicked, so the executor can convert them to step
// failures.
func (s *Session) Perform(ctx context.Context, step *task.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.UpdateLastUsed()

	if step.Selector != "" {
		step.Selector = normalizeSelector(step.Selector)
	}

	switch step.Action {
	case task.KindNavigate:
		return s.navigate(step.URL)
	case task.KindClick:
		return s.click(step.Selector)
	case task.KindType:
		return s.typeText(step.Selector, step.Text)
	case task.KindScroll:
		return s.scroll(step.Amount)
	case task.KindWait:
		return s.wait(ctx, step.Ms)
	case task.KindScreenshot:
		_, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
			Type: playwright.ScreenshotTypePng,
		})
		return err
	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

func (s *Session) navigate(url string) error {
	target := SanitizeURL(url)
	_, err := s.Page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *Session) click(selector string) error {
	// The planner sometimes emits clicks on login links the credentials
	// flow handles separately; skip them rather than fail.
	if isLoginSelector(selector) {
		return nil
	}

	s.highlight(selector)
	if err := s.Page.Click(selector); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (s *Session) typeText(selector, text string) error {
	s.highlight(selector)
	err := s.Page.Fill(selector, text)
	if err == nil {
		return nil
	}

	// Planned search selectors frequently miss; try the common search
	// input shapes before giving up.
	if isSearchSelector(selector) {
		for _, fallback := range searchInputSelectors {
			if fillErr := s.Page.Fill(fallback, text, playwright.PageFillOptions{
				Timeout: playwright.Float(1500),
			}); fillErr == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("fill failed: %w", err)
}

func (s *Session) scroll(amount int) error {
	if amount == 0 {
		amount = task.DefaultScrollAmount
	}
	if err := s.Page.Mouse().Wheel(0, float64(amount)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

func (s *Session) wait(ctx context.Context, ms int) error {
	if ms == 0 {
		ms = task.DefaultWaitMs
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// highlight draws a visual cue on the target element for the frame
// feed. Best-effort: a failure never fails the step.
func (s *Session) highlight(selector string) {
	script := `(selector) => {
		const el = document.querySelector(selector);
		if (el) {
			el.style.border = '3px solid red';
			el.style.backgroundColor = 'rgba(255, 255, 0, 0.3)';
			el.scrollIntoView({behavior: 'smooth', block: 'center'});
		}
	}`
	_, _ = s.Page.Evaluate(script, selector)
}

// Screenshot captures the current page as a base64 PNG.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// CurrentURL returns the URL of the current page.
func (s *Session) CurrentURL() string {
	return s.Page.URL()
}

// IsLoginPage reports whether the current page looks like a login form.
func (s *Session) IsLoginPage() bool {
	url := strings.ToLower(s.Page.URL())
	return strings.Contains(url, "accounts.google.com") ||
		strings.Contains(url, "login") ||
		strings.Contains(url, "signin")
}

// Content returns the current page HTML.
func (s *Session) Content() (string, error) {
	html, err := s.Page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Close releases the session's browser resources. Safe to call more
// than once.
func (s *Session) Close() error {
	_ = s.Page.Close()
	_ = s.Context.Close()
	if err := s.Browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

func isSearchSelector(selector string) bool {
	lowered := strings.ToLower(selector)
	return strings.Contains(lowered, "search") ||
		strings.Contains(lowered, "query") ||
		strings.Contains(lowered, "submit")
}

func isLoginSelector(selector string) bool {
	lowered := strings.ToLower(selector)
	return strings.Contains(lowered, "login") ||
		strings.Contains(lowered, "sign in") ||
		strings.Contains(lowered, "signin")
}

// normalizeSelector rewrites the attribute shorthands planners tend to
// emit (name=..., id=..., aria-label=...) into valid CSS selectors.
func normalizeSelector(selector string) string {
	trimmed := strings.TrimSpace(selector)
	lowered := strings.ToLower(trimmed)

	stripValue := func(s string) string {
		_, value, _ := strings.Cut(s, "=")
		return strings.Trim(strings.TrimSpace(value), `"'`)
	}

	switch {
	case strings.HasPrefix(lowered, "aria-label="):
		return fmt.Sprintf(`[aria-label=%q]`, stripValue(trimmed))
	case strings.HasPrefix(lowered, "name="):
		return fmt.Sprintf(`[name=%q]`, stripValue(trimmed))
	case strings.HasPrefix(lowered, "id="):
		return "#" + stripValue(trimmed)
	default:
		return trimmed
	}
}

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	domainPattern = regexp.MustCompile(`https?://([^\s/]+)`)
)

// SanitizeURL ensures a navigation target is a usable URL. Valid
// absolute URLs pass through, embedded URLs and bare domains are
// extracted, anything else becomes a web search.
func SanitizeURL(url string) string {
	raw := strings.TrimSpace(url)
	if raw == "" {
		return "https://www.google.com"
	}

	if !strings.Contains(raw, " ") &&
		(strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")) {
		return raw
	}

	if match := urlPattern.FindString(raw); match != "" {
		return match
	}

	if domain := extractDomain(raw); domain != "" {
		return "https://" + domain
	}

	return "https://www.google.com/search?q=" + strings.ReplaceAll(raw, " ", "+")
}

func extractDomain(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if m := domainPattern.FindStringSubmatch(lowered); m != nil {
		host := strings.ReplaceAll(strings.Trim(m[1], "."), "www.", "")
		if host != "" && strings.Contains(host, ".") {
			return host
		}
	}
	for _, token := range strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == ',' || r == '(' || r == ')'
	}) {
		cleaned := strings.Trim(token, ".")
		cleaned = strings.TrimPrefix(cleaned, "http://")
		cleaned = strings.TrimPrefix(cleaned, "https://")
		cleaned = strings.ReplaceAll(cleaned, "www.", "")
		if strings.Contains(cleaned, ".") && !strings.Contains(cleaned, " ") {
			return cleaned
		}
	}
	return ""
}
