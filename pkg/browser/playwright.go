package browser

import (
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver runs the playwright driver process.
type PlaywrightDriver struct {
	// Install downloads the driver and browsers before the first start.
	Install bool

	// Browsers limits what Install downloads, e.g. []string{"chromium"}.
	Browsers []string
}

// Start installs (optionally) and runs playwright. Driver output is
// discarded so it never interleaves with the caller's terminal.
func (d PlaywrightDriver) Start() (Runtime, error) {
	opts := &playwright.RunOptions{
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
		Browsers: d.Browsers,
	}

	if d.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &playwrightRuntime{pw: pw}, nil
}

type playwrightRuntime struct {
	pw *playwright.Playwright
}

func (r *playwrightRuntime) Engine(kind EngineKind) (Engine, error) {
	switch kind {
	case Chromium:
		return playwrightEngine{bt: r.pw.Chromium}, nil
	case Firefox:
		return playwrightEngine{bt: r.pw.Firefox}, nil
	case WebKit:
		return playwrightEngine{bt: r.pw.WebKit}, nil
	default:
		return nil, fmt.Errorf("%w: unknown browser_class %q", ErrInvalidConfig, kind)
	}
}

func (r *playwrightRuntime) Stop() error {
	return r.pw.Stop()
}

type playwrightEngine struct {
	bt playwright.BrowserType
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func playwrightProxy(p *ProxySettings) *playwright.Proxy {
	if p == nil {
		return nil
	}
	proxy := &playwright.Proxy{Server: p.Server}
	if p.Bypass != "" {
		proxy.Bypass = playwright.String(p.Bypass)
	}
	if p.Username != "" {
		proxy.Username = playwright.String(p.Username)
	}
	if p.Password != "" {
		proxy.Password = playwright.String(p.Password)
	}
	return proxy
}

func (e playwrightEngine) Launch(opts LaunchOptions) (EngineHandle, error) {
	b, err := e.bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
		Timeout:  millis(opts.Timeout),
		Proxy:    playwrightProxy(opts.Proxy),
	})
	if err != nil {
		return nil, err
	}
	return &playwrightBrowser{b: b}, nil
}

func (e playwrightEngine) LaunchPersistentContext(userDataDir string, opts LaunchOptions) (PageContext, error) {
	c, err := e.bt.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
		Timeout:  millis(opts.Timeout),
		Proxy:    playwrightProxy(opts.Proxy),
	})
	if err != nil {
		return nil, err
	}
	return &playwrightContext{c: c}, nil
}

func (e playwrightEngine) Connect(wsURL string) (EngineHandle, error) {
	b, err := e.bt.Connect(wsURL)
	if err != nil {
		return nil, err
	}
	return &playwrightBrowser{b: b}, nil
}

func (e playwrightEngine) ConnectOverCDP(endpointURL string, timeout time.Duration) (EngineHandle, error) {
	b, err := e.bt.ConnectOverCDP(endpointURL, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return nil, err
	}
	return &playwrightBrowser{b: b}, nil
}

type playwrightBrowser struct {
	b playwright.Browser
}

func (h *playwrightBrowser) NewContext(cfg ContextConfig) (PageContext, error) {
	cfg = cfg.withDefaults()
	opts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.Viewport.Width,
			Height: cfg.Viewport.Height,
		},
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreHTTPSErrors),
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	c, err := h.b.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	c.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))
	return &playwrightContext{c: c}, nil
}

func (h *playwrightBrowser) IsConnected() bool {
	return h.b.IsConnected()
}

func (h *playwrightBrowser) Close() error {
	return h.b.Close()
}

type playwrightContext struct {
	c playwright.BrowserContext
}

func (c *playwrightContext) NewPage() (Page, error) {
	p, err := c.c.NewPage()
	if err != nil {
		return nil, err
	}
	return playwrightPage{p: p}, nil
}

func (c *playwrightContext) Pages() []Page {
	pages := c.c.Pages()
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, playwrightPage{p: p})
	}
	return out
}

func (c *playwrightContext) Close() error {
	return c.c.Close()
}

type playwrightPage struct {
	p playwright.Page
}

func (p playwrightPage) Goto(url string, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{}
	if timeout > 0 {
		opts.Timeout = millis(timeout)
	}
	if _, err := p.p.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p playwrightPage) URL() string {
	return p.p.URL()
}

func (p playwrightPage) Title() (string, error) {
	return p.p.Title()
}

func (p playwrightPage) Close() error {
	return p.p.Close()
}

// PlaywrightBrowser exposes the playwright browser behind a handle created
// by PlaywrightDriver, for callers that need the full playwright API.
func PlaywrightBrowser(h EngineHandle) (playwright.Browser, bool) {
	pb, ok := h.(*playwrightBrowser)
	if !ok {
		return nil, false
	}
	return pb.b, true
}

// PlaywrightContext exposes the playwright context behind a PageContext.
func PlaywrightContext(c PageContext) (playwright.BrowserContext, bool) {
	pc, ok := c.(*playwrightContext)
	if !ok {
		return nil, false
	}
	return pc.c, true
}

// PlaywrightPage exposes the playwright page behind a Page.
func PlaywrightPage(p Page) (playwright.Page, bool) {
	pp, ok := p.(playwrightPage)
	if !ok {
		return nil, false
	}
	return pp.p, true
}
