// -----------------------------------------------------------------------
// ChromeDP adapters - Browser process, tabs and page actions
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// ChromeLauncher starts local Chrome processes through chromedp
type ChromeLauncher struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewChromeLauncher creates a launcher with the hardened flag set
func NewChromeLauncher(config common.BrowserConfig, logger arbor.ILogger) *ChromeLauncher {
	return &ChromeLauncher{
		config: config,
		logger: logger,
	}
}

// allocatorOptions returns the fixed launch flags: sandbox off for containers, GPU off
func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("no-zygote", true),
		chromedp.DisableGPU,
	)
	if l.config.LaunchTimeout > 0 {
		opts = append(opts, chromedp.WSURLReadTimeout(l.config.LaunchTimeout.D()))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	return opts
}

// Launch starts a browser process. The process lifetime is owned by the
// returned Browser, not by ctx.
func (l *ChromeLauncher) Launch(ctx context.Context) (interfaces.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	l.logger.Info().
		Bool("headless", l.config.Headless).
		Msg("Launching browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run must use browserCtx itself; a derived timeout context
	// would tear the browser down when it expires.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	l.logger.Info().
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      l.logger,
	}, nil
}

// chromeBrowser is a live chromedp browser
type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      arbor.ILogger
}

// NewPage opens a new tab
func (b *chromeBrowser) NewPage(ctx context.Context) (interfaces.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return &chromePage{ctx: tabCtx, cancel: tabCancel}, nil
}

// Probe asks the browser for its version over the browser-level connection
func (b *chromeBrowser) Probe(ctx context.Context) error {
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("browser context closed: %w", err)
	}

	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return errors.New("browser not started")
	}

	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return fmt.Errorf("version probe failed: %w", err)
	}

	b.logger.Debug().Str("product", product).Msg("Browser liveness probe ok")
	return nil
}

// Close shuts the browser down and releases the allocator
func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}

// chromePage is one chromedp tab
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by the caller's ctx.
// Cancelling the derived context ends the actions without closing the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the caller's deadline rather than chromedp's wrapped cancel
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitPresent(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// hiddenPredicate is true when no element matches the selector or the first
// match is not rendered
const hiddenPredicate = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return true;
	const style = window.getComputedStyle(el);
	if (!style || style.visibility === 'hidden' || style.display === 'none') return true;
	const rect = el.getBoundingClientRect();
	return rect.width === 0 || rect.height === 0;
}`

// WaitAbsent resolves once the element is gone or hidden. The caller's ctx
// bounds the wait.
func (p *chromePage) WaitAbsent(ctx context.Context, selector string) error {
	var hidden bool
	return p.run(ctx, chromedp.PollFunction(hiddenPredicate, &hidden,
		chromedp.WithPollingInterval(250*time.Millisecond),
		chromedp.WithPollingTimeout(0),
		chromedp.WithPollingArgs(selector),
	))
}

func (p *chromePage) UploadFiles(ctx context.Context, selector string, paths []string) error {
	return p.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) PressEnter(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := p.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	params := toCookieParams(cookies)
	return p.run(ctx, network.Enable(), network.SetCookies(params))
}

// Close closes the tab
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
