// -----------------------------------------------------------------------
// Session Manager - Owns the single shared browser session
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
)

// ErrSessionUnavailable is returned when no live browser session can be provided
var ErrSessionUnavailable = errors.New("browser session unavailable")

// SessionState is the lifecycle state of the shared session
type SessionState string

const (
	SessionAbsent    SessionState = "absent"
	SessionLaunching SessionState = "launching"
	SessionLive      SessionState = "live"
)

// launchCall is a one-shot result shared by every caller waiting on one launch
type launchCall struct {
	done    chan struct{}
	browser interfaces.Browser
	err     error
}

// SessionManager owns at most one live browser. It launches lazily, probes the
// cached handle before every hand-out and relaunches after a failed probe.
// Concurrent callers during a launch wait on the same launchCall.
type SessionManager struct {
	launcher     interfaces.BrowserLauncher
	cookiesPath  string
	entryURL     string
	probeTimeout time.Duration
	logger       arbor.ILogger

	mu       sync.Mutex
	live     interfaces.Browser
	inflight *launchCall
}

// NewSessionManager creates a session manager. No browser is started until Acquire.
func NewSessionManager(launcher interfaces.BrowserLauncher, config common.BrowserConfig, logger arbor.ILogger) *SessionManager {
	probeTimeout := config.ProbeTimeout.D()
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	return &SessionManager{
		launcher:     launcher,
		cookiesPath:  config.CookiesPath,
		entryURL:     config.EntryURL,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// State reports the current lifecycle state
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.live != nil:
		return SessionLive
	case m.inflight != nil:
		return SessionLaunching
	}
	return SessionAbsent
}

// Acquire returns the live browser, launching or replacing it as needed.
// Errors wrap ErrSessionUnavailable.
func (m *SessionManager) Acquire(ctx context.Context) (interfaces.Browser, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}

		m.mu.Lock()

		// Live: probe before handing out
		if b := m.live; b != nil {
			m.mu.Unlock()

			err := m.probe(ctx, b)
			if err == nil {
				m.logger.Debug().Msg("Reusing live browser session")
				return b, nil
			}

			m.logger.Warn().Err(err).Msg("Browser session failed liveness probe, relaunching")
			m.discard(b)
			continue
		}

		// Launching: wait for the in-flight launch to resolve
		if call := m.inflight; call != nil {
			m.mu.Unlock()

			m.logger.Debug().Msg("Waiting for in-flight browser launch")
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, ctx.Err())
			}

			if call.err != nil {
				return nil, fmt.Errorf("%w after wait: %w", ErrSessionUnavailable, call.err)
			}
			return call.browser, nil
		}

		// Absent: this caller launches
		call := &launchCall{done: make(chan struct{})}
		m.inflight = call
		m.mu.Unlock()

		b, err := m.launchGuarded(ctx)

		m.mu.Lock()
		m.inflight = nil
		if err == nil {
			m.live = b
		}
		call.browser, call.err = b, err
		close(call.done)
		m.mu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		return b, nil
	}
}

// Close shuts down the live browser, if any
func (m *SessionManager) Close() error {
	m.mu.Lock()
	b := m.live
	m.live = nil
	m.mu.Unlock()

	if b == nil {
		return nil
	}

	m.logger.Info().Msg("Closing browser session")
	return b.Close()
}

func (m *SessionManager) probe(ctx context.Context, b interfaces.Browser) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return b.Probe(probeCtx)
}

// discard drops b if it is still the cached handle and closes it
func (m *SessionManager) discard(b interfaces.Browser) {
	m.mu.Lock()
	if m.live == b {
		m.live = nil
	}
	m.mu.Unlock()

	if err := b.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("Closing dead browser session failed")
	}
}

// launchGuarded runs launch and turns a panic into an error so waiters are always released
func (m *SessionManager) launchGuarded(ctx context.Context) (b interfaces.Browser, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("browser launch panicked: %v", r)
			m.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Recovered from panic during browser launch")
		}
	}()
	return m.launch(ctx)
}

// launch starts a browser and applies the cookie snapshot through a throwaway tab.
// Any failure closes the new browser; the session stays absent.
func (m *SessionManager) launch(ctx context.Context) (interfaces.Browser, error) {
	startTime := time.Now()

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Browser launch failed")
		return nil, err
	}

	if err := m.authenticate(ctx, b); err != nil {
		m.logger.Error().
			Err(err).
			Str("cookies_path", m.cookiesPath).
			Msg("Browser authentication failed, closing browser")
		if closeErr := b.Close(); closeErr != nil {
			m.logger.Debug().Err(closeErr).Msg("Closing unauthenticated browser failed")
		}
		return nil, err
	}

	m.logger.Info().
		Dur("launch_time", time.Since(startTime)).
		Msg("Browser session live")

	return b, nil
}

func (m *SessionManager) authenticate(ctx context.Context, b interfaces.Browser) error {
	cookies, err := LoadCookies(m.cookiesPath)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		m.logger.Warn().Str("cookies_path", m.cookiesPath).Msg("Cookie snapshot is empty, target may require login")
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open cookie tab: %w", err)
	}

	setErr := page.SetCookies(ctx, fillCookieDomains(cookies, m.entryURL))
	if closeErr := page.Close(); closeErr != nil {
		m.logger.Debug().Err(closeErr).Msg("Closing cookie tab failed")
	}
	if setErr != nil {
		return fmt.Errorf("failed to apply cookies: %w", setErr)
	}

	m.logger.Info().
		Int("cookie_count", len(cookies)).
		Str("cookies_path", m.cookiesPath).
		Msg("Cookies applied")
	return nil
}
