package interfaces

import (
	"context"
	"time"
)

// BrowserDriver launches isolated browser sessions. The driver is the only
// part of the system that talks to a real browser; everything above it
// depends on this capability surface so workers can be tested against
// fakes.
type BrowserDriver interface {
	// NewSession launches a fresh browser context. Each worker owns
	// exactly one session for its task's lifetime; sessions are never
	// shared.
	NewSession(ctx context.Context, opts SessionOptions) (BrowserSession, error)
}

// SessionOptions configures one browser session
type SessionOptions struct {
	Headless  bool
	UserAgent string
	// Stealth applies fingerprint normalization before any navigation
	Stealth bool
}

// BrowserSession is one live browser context bound to a single task.
// All waits are asynchronous with explicit timeouts; none busy-spin.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the selector is visible or the timeout
	// elapses
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Exists reports whether the selector currently matches a rendered
	// element, without waiting
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string, force bool) error
	// ClickByText clicks the first clickable element whose visible text
	// contains the phrase. Returns false when nothing matched.
	ClickByText(ctx context.Context, phrase string) (bool, error)
	ReadText(ctx context.Context, selector string) (string, error)
	// SetText assigns content directly through the DOM (fast path for
	// large payloads)
	SetText(ctx context.Context, selector, text string) error
	// TypeText sends individual key events with a per-key delay
	// (human-paced entry)
	TypeText(ctx context.Context, selector, text string, perKeyDelay time.Duration) error
	// Press sends a keyboard key to the focused element ("Enter", "Tab")
	Press(ctx context.Context, key string) error
	// Evaluate runs a script in page context and unmarshals the result
	// into out (out may be nil)
	Evaluate(ctx context.Context, script string, out interface{}) error
	// PageHTML returns the full rendered document markup
	PageHTML(ctx context.Context) (string, error)
	// ExportState serializes cookies and origin storage into an opaque
	// blob for session reuse
	ExportState(ctx context.Context) ([]byte, error)
	// ImportState restores a previously exported blob before navigation
	ImportState(ctx context.Context, state []byte) error
	CurrentURL(ctx context.Context) (string, error)
	// Close tears the session down. Safe to call more than once; also the
	// forced-interruption path for cancellation, since driver calls are
	// not internally interruptible.
	Close() error
}
