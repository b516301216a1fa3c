package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/gobwas/glob"
)

// EngineKind selects the browser engine driven by the protocol driver.
type EngineKind = launch.Engine

const (
	Chromium = launch.Chromium
	Firefox  = launch.Firefox
	WebKit   = launch.WebKit
)

// Default values for contexts and fixed acquisition timeouts.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultTimeout        = 30 * time.Second

	// CDPConnectTimeout bounds every connect over the debugging protocol.
	CDPConnectTimeout = 20 * time.Second

	// LaunchTimeout bounds the managed built-in launch.
	LaunchTimeout = 60 * time.Second
)

// ProxySettings routes browser traffic through a proxy server.
type ProxySettings struct {
	Server   string `yaml:"server" json:"server"`
	Bypass   string `yaml:"bypass,omitempty" json:"bypass,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Validate checks the server is set and every bypass entry is a valid
// host pattern.
func (p *ProxySettings) Validate() error {
	if strings.TrimSpace(p.Server) == "" {
		return fmt.Errorf("proxy server is required")
	}
	for _, pattern := range p.bypassPatterns() {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("invalid proxy bypass pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Bypasses reports whether host matches one of the comma separated bypass
// patterns, e.g. "localhost,*.internal".
func (p *ProxySettings) Bypasses(host string) bool {
	for _, pattern := range p.bypassPatterns() {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			continue
		}
		if g.Match(host) {
			return true
		}
	}
	return false
}

func (p *ProxySettings) bypassPatterns() []string {
	var patterns []string
	for _, entry := range strings.Split(p.Bypass, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			patterns = append(patterns, entry)
		}
	}
	return patterns
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// ContextConfig configures a browsing context handed out by NewContext.
type ContextConfig struct {
	Viewport          *Viewport     `yaml:"viewport,omitempty" json:"viewport,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UserAgent         string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	IgnoreHTTPSErrors bool          `yaml:"ignore_https_errors,omitempty" json:"ignore_https_errors,omitempty"`
}

// DefaultContextConfig returns the context defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		Viewport: &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Timeout:  DefaultTimeout,
	}
}

func (c ContextConfig) withDefaults() ContextConfig {
	if c.Viewport == nil {
		c.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Config describes how a Browser acquires and shapes its engine. It is read
// only once passed to New.
type Config struct {
	// CDPURL connects to a running browser over the DevTools protocol.
	CDPURL string `yaml:"cdp_url,omitempty" json:"cdp_url,omitempty"`

	// WSSURL connects to a remote playwright browser server.
	WSSURL string `yaml:"wss_url,omitempty" json:"wss_url,omitempty"`

	// BinaryPath launches or attaches to a local Chromium binary through
	// the fixed debugging port.
	BinaryPath string `yaml:"browser_binary_path,omitempty" json:"browser_binary_path,omitempty"`

	Engine EngineKind `yaml:"browser_class,omitempty" json:"browser_class,omitempty"`

	Headless               bool `yaml:"headless" json:"headless"`
	DisableSecurity        bool `yaml:"disable_security" json:"disable_security"`
	DeterministicRendering bool `yaml:"deterministic_rendering" json:"deterministic_rendering"`

	// KeepAlive leaves the engine running when the Browser is closed.
	KeepAlive bool `yaml:"keep_alive" json:"keep_alive"`

	ExtraArgs []string       `yaml:"extra_browser_args,omitempty" json:"extra_browser_args,omitempty"`
	Proxy     *ProxySettings `yaml:"proxy,omitempty" json:"proxy,omitempty"`

	// UserDataDir makes the managed launch return a persistent context.
	UserDataDir string `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`

	// ProfileDirectory names a profile inside UserDataDir, e.g. "Profile 1".
	// Only Chromium honors it.
	ProfileDirectory string `yaml:"profile_directory,omitempty" json:"profile_directory,omitempty"`

	Context ContextConfig `yaml:"new_context_config,omitempty" json:"new_context_config,omitempty"`
}

// DefaultConfig returns a Chromium configuration with security disabled,
// which cross-origin iframe access requires.
func DefaultConfig() Config {
	return Config{
		Engine:          Chromium,
		DisableSecurity: true,
		Context:         DefaultContextConfig(),
	}
}

// Validate checks the configuration and fills unset defaults.
func (c *Config) Validate() error {
	if c.Engine == "" {
		c.Engine = Chromium
	}
	if !c.Engine.Valid() {
		return fmt.Errorf("%w: unknown browser_class %q (expected chromium, firefox or webkit)", ErrInvalidConfig, c.Engine)
	}
	if c.Proxy != nil {
		if err := c.Proxy.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	c.Context = c.Context.withDefaults()
	return nil
}

// Target resolves which connection strategy the configuration selects:
// CDP, then WSS, then a local binary, then the managed built-in browser.
func (c Config) Target() Target {
	switch {
	case c.CDPURL != "":
		return CDPTarget{URL: c.CDPURL}
	case c.WSSURL != "":
		return WSSTarget{URL: c.WSSURL}
	case c.BinaryPath != "":
		return BinaryTarget{Path: c.BinaryPath}
	default:
		return ManagedTarget{}
	}
}

// Target is the connection target a Browser initializes against. Exactly
// one of CDPTarget, WSSTarget, BinaryTarget or ManagedTarget.
type Target interface {
	// Strategy names the connection strategy, used in logs and metrics.
	Strategy() string
	isTarget()
}

// CDPTarget connects over the Chrome DevTools Protocol.
type CDPTarget struct{ URL string }

// WSSTarget connects to a remote browser server over a websocket.
type WSSTarget struct{ URL string }

// BinaryTarget launches or attaches to a local browser binary.
type BinaryTarget struct{ Path string }

// ManagedTarget launches a driver-managed browser.
type ManagedTarget struct{}

func (CDPTarget) Strategy() string     { return "cdp" }
func (WSSTarget) Strategy() string     { return "wss" }
func (BinaryTarget) Strategy() string  { return "binary" }
func (ManagedTarget) Strategy() string { return "managed" }

func (CDPTarget) isTarget()     {}
func (WSSTarget) isTarget()     {}
func (BinaryTarget) isTarget()  {}
func (ManagedTarget) isTarget() {}
