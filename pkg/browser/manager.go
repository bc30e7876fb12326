package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Manager is the registry of browser sessions. Each observer session
// owns at most one browser session, acquired on task start and released
// on task end or disconnect; creation and teardown are atomic with
// respect to other owners.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	maxSessions int
	initialized bool
}

// NewManager creates a session manager.
func NewManager() *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: DefaultMaxSessions,
	}
}

// Initialize installs and starts the Playwright driver. Must be called
// before any session is acquired.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Discard driver output so it does not interleave with our logs.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// Acquire launches a browser session exclusively owned by owner.
// Acquiring twice for the same owner is an error.
func (m *Manager) Acquire(owner string, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}
	if _, exists := m.sessions[owner]; exists {
		return nil, fmt.Errorf("owner %q already holds a browser session", owner)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("maximum number of browser sessions (%d) reached", m.maxSessions)
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = &opts.SlowMo
	}
	browserInstance, err := m.playwright.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserContext, err := browserInstance.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browserInstance.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := browserContext.NewPage()
	if err != nil {
		browserContext.Close()
		browserInstance.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	session := &Session{
		Owner:      owner,
		Browser:    browserInstance,
		Context:    browserContext,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
		timeout:    opts.Timeout,
	}

	m.sessions[owner] = session
	return session, nil
}

// Release closes and removes the owner's browser session. Releasing an
// unknown owner is a no-op.
func (m *Manager) Release(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[owner]
	if !exists {
		return
	}

	_ = session.Page.Close()
	_ = session.Context.Close()
	_ = session.Browser.Close()
	delete(m.sessions, owner)
}

// ActiveSessions returns the number of open browser sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SetMaxSessions sets the cap on concurrently open sessions. Values
// below one are ignored.
func (m *Manager) SetMaxSessions(max int) {
	if max < 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = max
}

// Shutdown closes every session and stops the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for owner, session := range m.sessions {
		session.Page.Close()
		session.Context.Close()
		session.Browser.Close()
		delete(m.sessions, owner)
	}

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}
