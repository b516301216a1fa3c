package browser

import "time"

// Driver starts the browser automation protocol server. It is the only way
// the lifecycle reaches an engine, so tests substitute a fake.
type Driver interface {
	Start() (Runtime, error)
}

// Runtime is a started driver.
type Runtime interface {
	// Engine returns the launcher for an engine kind.
	Engine(kind EngineKind) (Engine, error)
	Stop() error
}

// Engine launches, attaches or connects to one browser engine.
type Engine interface {
	Launch(opts LaunchOptions) (EngineHandle, error)
	LaunchPersistentContext(userDataDir string, opts LaunchOptions) (PageContext, error)
	Connect(wsURL string) (EngineHandle, error)
	ConnectOverCDP(endpointURL string, timeout time.Duration) (EngineHandle, error)
}

// LaunchOptions are passed to Launch and LaunchPersistentContext.
type LaunchOptions struct {
	Headless bool
	Args     []string
	Timeout  time.Duration
	Proxy    *ProxySettings
}

// EngineHandle is a live connection to a browser engine.
type EngineHandle interface {
	NewContext(cfg ContextConfig) (PageContext, error)
	IsConnected() bool
	Close() error
}

// PageContext is an isolated browsing context. A persistent context
// launched from a user-data directory is also a PageContext.
type PageContext interface {
	NewPage() (Page, error)
	Pages() []Page
	Close() error
}

// Page is a single tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
	URL() string
	Title() (string, error)
	Close() error
}
