// Package browser drives the remote interactive sessions behind the acquire
// and publish stages through a shared Chrome instance. One page is opened
// per leased slot; the pool's reclamation hook closes the page when the
// lease expires.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const navigationTimeout = 30 * time.Second

// Manager owns the Chrome connection and tracks one page per slot id.
type Manager struct {
	controlURL string
	headless   bool
	logger     *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	pages   map[string]*rod.Page
}

// NewManager builds a manager. controlURL may be empty, in which case a
// local Chrome is launched on first use.
func NewManager(controlURL string, headless bool, logger *slog.Logger) *Manager {
	return &Manager{
		controlURL: controlURL,
		headless:   headless,
		logger:     logger,
		pages:      map[string]*rod.Page{},
	}
}

// Start connects to (or launches) Chrome. Safe to call more than once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}

	controlURL := m.controlURL
	if controlURL == "" {
		url, err := launcher.New().Headless(m.headless).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	return nil
}

// OpenPage opens (or returns) the page owned by slotID and navigates it.
func (m *Manager) OpenPage(ctx context.Context, slotID, url string) (*rod.Page, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if page, ok := m.pages[slotID]; ok {
		if err := page.Context(ctx).Timeout(navigationTimeout).Navigate(url); err != nil {
			return nil, fmt.Errorf("navigate: %w", err)
		}
		return page, nil
	}

	page, err := m.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := page.Context(ctx).Timeout(navigationTimeout).WaitLoad(); err != nil {
		m.debug("page load wait ended early", "slot", slotID, "error", err)
	}

	m.pages[slotID] = page
	return page, nil
}

// ClosePage tears down the page owned by slotID. Used both for normal
// release and as the pool's termination hook for expired leases; closing an
// unknown slot is a no-op.
func (m *Manager) ClosePage(slotID string) {
	m.mu.Lock()
	page, ok := m.pages[slotID]
	if ok {
		delete(m.pages, slotID)
	}
	m.mu.Unlock()

	if ok {
		if err := page.Close(); err != nil {
			m.debug("close page", "slot", slotID, "error", err)
		}
	}
}

// OpenPages reports how many slot pages are currently open.
func (m *Manager) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Close shuts down every page and the browser connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	pages := m.pages
	m.pages = map[string]*rod.Page{}
	browser := m.browser
	m.browser = nil
	m.mu.Unlock()

	for _, page := range pages {
		_ = page.Close()
	}
	if browser == nil {
		return nil
	}
	if err := browser.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (m *Manager) debug(msg string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
