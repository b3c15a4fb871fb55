package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthAllocatorOptions returns the launch flags that strip the obvious
// automation markers before the browser process starts.
func stealthAllocatorOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
	}
}

// stealthInitScript runs in every new document before any page script.
// It normalizes the fingerprint surface a bot-detection check inspects:
// the webdriver flag, plugin and language lists, platform identity, and
// adds low-amplitude noise to canvas and WebGL readbacks so repeated
// renders do not hash identically.
const stealthInitScript = `(() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});

	Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
	Object.defineProperty(navigator, 'platform', {get: () => 'Win32'});
	Object.defineProperty(navigator, 'hardwareConcurrency', {get: () => 8});
	Object.defineProperty(navigator, 'deviceMemory', {get: () => 8});

	Object.defineProperty(navigator, 'plugins', {
		get: () => {
			const plugins = [
				{name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format'},
				{name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format'},
				{name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format'}
			];
			plugins.item = i => plugins[i] || null;
			plugins.namedItem = n => plugins.find(p => p.name === n) || null;
			plugins.refresh = () => {};
			return plugins;
		}
	});

	if (window.chrome === undefined) {
		window.chrome = {runtime: {}};
	}

	const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications'
			? Promise.resolve({state: Notification.permission})
			: originalQuery(parameters)
	);

	const noise = () => (Math.random() - 0.5) * 0.0001;

	const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
	HTMLCanvasElement.prototype.toDataURL = function(...args) {
		const ctx = this.getContext('2d');
		if (ctx && this.width > 0 && this.height > 0) {
			try {
				const data = ctx.getImageData(0, 0, this.width, this.height);
				for (let i = 0; i < data.data.length; i += 4096) {
					data.data[i] = data.data[i] ^ (Math.random() < 0.5 ? 0 : 1);
				}
				ctx.putImageData(data, 0, 0);
			} catch (e) {}
		}
		return origToDataURL.apply(this, args);
	};

	const origGetParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function(parameter) {
		// UNMASKED_VENDOR_WEBGL / UNMASKED_RENDERER_WEBGL
		if (parameter === 37445) return 'Google Inc. (Intel)';
		if (parameter === 37446) return 'ANGLE (Intel, Intel(R) UHD Graphics 630, D3D11)';
		const value = origGetParameter.call(this, parameter);
		if (typeof value === 'number' && parameter === this.ALIASED_LINE_WIDTH_RANGE) {
			return value + noise();
		}
		return value;
	};
})()`

// applyStealthScript registers the fingerprint-normalization script so it
// executes on every document the session creates from now on.
func (s *session) applyStealthScript(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthInitScript).Do(ctx)
		return err
	}))
}
