// Package browser wraps Playwright behind the primitive actions the
// step executor drives: navigate, click, type, scroll, wait and
// screenshot, plus frame capture for the observer feed.
package browser

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/taskpilot/pkg/task"
)

// Controller is the executor's only window onto the real browser. The
// playwright-backed Session implements it; tests substitute fakes.
type Controller interface {
	// Perform executes one plan step against the live page.
	Perform(ctx context.Context, step *task.Step) error

	// Screenshot captures the current page as a base64 PNG.
	Screenshot(ctx context.Context) (string, error)

	// CurrentURL returns the URL of the current page, or "" when no
	// page is loaded yet.
	CurrentURL() string

	// IsLoginPage reports whether the current page looks like a login
	// form.
	IsLoginPage() bool

	// Content returns the current page HTML.
	Content() (string, error)

	// Close releases all browser resources held by the controller.
	Close() error
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for page operations (in milliseconds)
	Timeout float64

	// SlowMo delays each playwright operation (in milliseconds), useful
	// when a human watches the frame feed.
	SlowMo float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

const (
	// DefaultTimeout is the default page operation timeout in milliseconds.
	DefaultTimeout = 30000

	// DefaultViewportWidth is the default viewport width in pixels.
	DefaultViewportWidth = 1280

	// DefaultViewportHeight is the default viewport height in pixels.
	DefaultViewportHeight = 720

	// DefaultMaxSessions caps concurrently open browser sessions.
	DefaultMaxSessions = 8
)

// Session is one exclusively-owned browser instance: browser, context
// and a single page.
type Session struct {
	Owner      string
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page
	Headless   bool
	CreatedAt  time.Time
	LastUsedAt time.Time

	timeout float64
}
