package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// fakePage records cookies applied through it
type fakePage struct {
	mu      sync.Mutex
	cookies []models.Cookie
	closed  bool
	setErr  error
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return nil }
func (p *fakePage) WaitPresent(ctx context.Context, selector string) error { return nil }
func (p *fakePage) WaitAbsent(ctx context.Context, selector string) error { return nil }
func (p *fakePage) UploadFiles(ctx context.Context, sel string, paths []string) error { return nil }
func (p *fakePage) Type(ctx context.Context, selector, text string) error { return nil }
func (p *fakePage) PressEnter(ctx context.Context) error { return nil }
func (p *fakePage) HTML(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	return "", false, nil
}

func (p *fakePage) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeBrowser is a browser whose liveness can be toggled
type fakeBrowser struct {
	id     int
	dead   atomic.Bool
	closed atomic.Bool

	mu    sync.Mutex
	pages []*fakePage
}

func (b *fakeBrowser) NewPage(ctx context.Context) (interfaces.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	page := &fakePage{}
	b.pages = append(b.pages, page)
	return page, nil
}

func (b *fakeBrowser) Probe(ctx context.Context) error {
	if b.dead.Load() {
		return errors.New("target closed")
	}
	return nil
}

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *fakeBrowser) lastPage() *fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[len(b.pages)-1]
}

// fakeLauncher counts launches and can be slowed down or made to fail
type fakeLauncher struct {
	delay    time.Duration
	err      error
	panicMsg string

	mu       sync.Mutex
	launched []*fakeBrowser
}

func (l *fakeLauncher) Launch(ctx context.Context) (interfaces.Browser, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	if l.err != nil {
		return nil, l.err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b := &fakeBrowser{id: len(l.launched) + 1}
	l.launched = append(l.launched, b)
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) browser(i int) *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[i]
}
