package interfaces

import (
	"context"

	"github.com/ternarybob/ghibliflow/internal/models"
)

// Page is one browser tab driven by the automation pipeline.
// Every method is a suspension point bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitPresent blocks until an element matching selector exists in the DOM
	WaitPresent(ctx context.Context, selector string) error
	// WaitAbsent blocks until no element matches selector or the match is hidden
	WaitAbsent(ctx context.Context, selector string) error
	UploadFiles(ctx context.Context, selector string, paths []string) error
	Type(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context) error
	// Attribute reads name from the first element matching selector
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	// HTML returns the serialized document
	HTML(ctx context.Context) (string, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	Close() error
}

// Browser is a live automation-capable browser instance
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Probe is a lightweight liveness check
	Probe(ctx context.Context) error
	Close() error
}

// BrowserLauncher starts browser processes
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}

// SessionProvider hands out the shared browser session
type SessionProvider interface {
	Acquire(ctx context.Context) (Browser, error)
}
