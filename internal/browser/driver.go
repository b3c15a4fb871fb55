package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
)

// Driver implements the BrowserDriver interface on chromedp. Each session
// gets its own exec allocator so sessions share no profile state.
type Driver struct {
	logger arbor.ILogger
}

// NewDriver creates a chromedp-backed browser driver
func NewDriver(logger arbor.ILogger) interfaces.BrowserDriver {
	return &Driver{logger: logger}
}

// NewSession launches an isolated browser context and verifies it responds
// before handing it out.
func (d *Driver) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.BrowserSession, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Stealth {
		allocatorOpts = append(allocatorOpts, stealthAllocatorOptions()...)
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s := &session{
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		logger:          d.logger,
	}

	// Startup test before any caller work runs against the session
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser session failed startup test: %w", err)
	}

	if opts.Stealth {
		if err := s.applyStealthScript(testCtx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to apply stealth script: %w", err)
		}
	}

	d.logger.Debug().
		Bool("headless", opts.Headless).
		Bool("stealth", opts.Stealth).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session created")

	return s, nil
}

// session is one live browser context. Driver calls run against the
// chromedp context but honor the caller's context for cancellation by
// wrapping each run in the shorter of the two.
type session struct {
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          arbor.ILogger
	closeOnce       sync.Once
}

// sessionBlob is the serialized form of an exported browser state.
type sessionBlob struct {
	Cookies      []*network.Cookie `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
	Origin       string            `json:"origin,omitempty"`
}

// run executes chromedp actions against the session, aborting early if
// the caller's context is cancelled.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %s not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

// Exists reports whether the selector matches a rendered element right
// now. It never waits: a missing element is a normal answer, not an error.
func (s *session) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("failed to probe selector %s: %w", selector, err)
	}
	return found, nil
}

func (s *session) Click(ctx context.Context, selector string, force bool) error {
	if force {
		// Dispatch through the DOM when the element is present but chromedp
		// considers it unclickable (overlays, zero-size hit targets).
		script := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.click();
			return true;
		})()`, selector)
		var clicked bool
		if err := s.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
			return fmt.Errorf("failed to force-click %s: %w", selector, err)
		}
		if !clicked {
			return fmt.Errorf("force-click target not found: %s", selector)
		}
		return nil
	}
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// ClickByText clicks the first clickable element whose visible text
// contains the phrase (case-insensitive). Returns false when nothing
// matched, which callers treat as "element not on screen".
func (s *session) ClickByText(ctx context.Context, phrase string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const phrase = %q.toLowerCase();
		const candidates = document.querySelectorAll('button, a, [role="button"], [tabindex]');
		for (const el of candidates) {
			const text = (el.innerText || el.textContent || '').trim().toLowerCase();
			if (text && text.includes(phrase) && el.offsetParent !== null) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, phrase)

	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("failed to click by text %q: %w", phrase, err)
	}
	return clicked, nil
}

func (s *session) ReadText(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text from %s: %w", selector, err)
	}
	return text, nil
}

// SetText assigns content through the DOM in one operation. This is the
// fast path for large payloads where per-key event dispatch would take
// minutes. Content-editable surfaces get an insertText command so the
// page's input listeners still fire; plain inputs get a value assignment
// plus synthetic input/change events.
func (s *session) SetText(ctx context.Context, selector, text string) error {
	payload, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("failed to encode text payload: %w", err)
	}

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return "missing";
		el.focus();
		const text = %s;
		if (el.isContentEditable || el.getAttribute('contenteditable') === 'true') {
			document.execCommand('selectAll', false, null);
			if (document.execCommand('insertText', false, text)) return "ok";
			el.textContent = text;
			el.dispatchEvent(new InputEvent('input', {bubbles: true, data: text, inputType: 'insertText'}));
			return "ok";
		}
		el.value = text;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return "ok";
	})()`, selector, string(payload))

	var result string
	if err := s.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return fmt.Errorf("failed to set text on %s: %w", selector, err)
	}
	if result != "ok" {
		return fmt.Errorf("set-text target not found: %s", selector)
	}
	return nil
}

// TypeText dispatches real key events with a delay between keys. Used for
// credential fields where paced entry matters; never for large payloads.
func (s *session) TypeText(ctx context.Context, selector, text string, perKeyDelay time.Duration) error {
	actions := []chromedp.Action{
		chromedp.Click(selector, chromedp.ByQuery),
	}
	for _, r := range text {
		actions = append(actions,
			chromedp.KeyEvent(string(r)),
			chromedp.Sleep(perKeyDelay),
		)
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	return nil
}

func (s *session) Press(ctx context.Context, key string) error {
	code, ok := namedKeys[key]
	if !ok {
		code = key
	}
	if err := s.run(ctx, chromedp.KeyEvent(code)); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

var namedKeys = map[string]string{
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
	"Escape": kb.Escape,
}

func (s *session) Evaluate(ctx context.Context, script string, out interface{}) error {
	if out == nil {
		var discard json.RawMessage
		out = &discard
	}
	if err := s.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

func (s *session) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", err)
	}
	return html, nil
}

// ExportState captures all cookies plus the current origin's localStorage
// into an opaque blob. The blob's format is private to this package.
func (s *session) ExportState(ctx context.Context) ([]byte, error) {
	blob := sessionBlob{}

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := cdpstorage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		blob.Cookies = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to export cookies: %w", err)
	}

	// localStorage is best-effort; a blank page has none
	var pairs map[string]string
	lsScript := `(() => {
		const out = {};
		try {
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				out[k] = localStorage.getItem(k);
			}
		} catch (e) {}
		return out;
	})()`
	if err := s.run(ctx, chromedp.Evaluate(lsScript, &pairs)); err == nil && len(pairs) > 0 {
		blob.LocalStorage = pairs
		var origin string
		if err := s.run(ctx, chromedp.Evaluate(`location.origin`, &origin)); err == nil {
			blob.Origin = origin
		}
	}

	data, err := json.Marshal(&blob)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session state: %w", err)
	}

	s.logger.Debug().
		Int("cookie_count", len(blob.Cookies)).
		Int("local_storage_keys", len(blob.LocalStorage)).
		Msg("Session state exported")

	return data, nil
}

// ImportState restores an exported blob. Cookies are injected directly;
// localStorage is seeded through an init script so it is present before
// any page script runs on the next navigation.
func (s *session) ImportState(ctx context.Context, state []byte) error {
	var blob sessionBlob
	if err := json.Unmarshal(state, &blob); err != nil {
		return fmt.Errorf("malformed session state blob: %w", err)
	}

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		for _, c := range blob.Cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(strings.TrimPrefix(c.Domain, ".")).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(c.SameSite)
			if c.Expires > 0 {
				expires := cdpTimeFromEpoch(c.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				s.logger.Warn().Err(err).Str("cookie_name", c.Name).Msg("Failed to restore cookie")
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}

	if len(blob.LocalStorage) > 0 {
		seed, err := json.Marshal(blob.LocalStorage)
		if err != nil {
			return fmt.Errorf("failed to encode storage seed: %w", err)
		}
		script := fmt.Sprintf(`(() => {
			try {
				const seed = %s;
				for (const [k, v] of Object.entries(seed)) {
					localStorage.setItem(k, v);
				}
			} catch (e) {}
		})()`, string(seed))

		err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, innerErr := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return innerErr
		}))
		if err != nil {
			return fmt.Errorf("failed to seed local storage: %w", err)
		}
	}

	s.logger.Debug().
		Int("cookie_count", len(blob.Cookies)).
		Int("local_storage_keys", len(blob.LocalStorage)).
		Msg("Session state imported")

	return nil
}

func cdpTimeFromEpoch(seconds float64) cdp.TimeSinceEpoch {
	return cdp.TimeSinceEpoch(time.Unix(int64(seconds), 0))
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// Close tears down the browser context and its allocator. Safe to call
// multiple times; also serves as the forced-interruption path since
// cancelling the chromedp context aborts any in-flight driver call.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocatorCancel != nil {
			s.allocatorCancel()
		}
		s.logger.Debug().Msg("Browser session closed")
	})
	return nil
}
