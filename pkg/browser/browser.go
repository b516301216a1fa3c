package browser

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/entrhq/browseruse/pkg/browser/profile"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/spf13/afero"
)

// State is the lifecycle state of a Browser.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Closing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reaper releases auxiliary clients at the end of Close.
type Reaper interface {
	Reap(ctx context.Context) int
}

// Browser owns one browser engine from first use until Close.
//
// A Browser is not safe for concurrent use. Callers must serialize
// EngineHandle, PersistentContext and Close.
type Browser struct {
	cfg    Config
	target Target
	state  State
	res    *resources

	driver        Driver
	log           *logging.Logger
	ports         launch.PortProber
	endpoint      EndpointProber
	spawner       Spawner
	screen        ScreenProber
	fs            afero.Fs
	clients       *ClientRegistry
	reaper        Reaper
	metrics       *Metrics
	containerized *bool
	pollInterval  time.Duration
	pollAttempts  int

	acq *acquirer
}

// resources is everything Close must release. It lives apart from Browser
// so the cleanup registered in New can reach it without keeping the Browser
// alive.
type resources struct {
	runtime    Runtime
	handle     EngineHandle
	persistent PageContext
	process    Process
}

func (r *resources) live() bool {
	return r.runtime != nil || r.handle != nil || r.persistent != nil || r.process != nil
}

func (r *resources) reset() {
	r.runtime = nil
	r.handle = nil
	r.persistent = nil
	r.process = nil
}

// teardown carries what releasing resources needs besides the resources.
type teardown struct {
	log     *logging.Logger
	metrics *Metrics
	reaper  Reaper
}

// New validates cfg and returns an uninitialized Browser. Nothing is
// started until EngineHandle or PersistentContext is called.
func New(cfg Config, opts ...Option) (*Browser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Browser{
		cfg:          cfg,
		res:          &resources{},
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.target == nil {
		b.target = cfg.Target()
	}
	if b.log == nil {
		b.log, _ = logging.NewLogger("browser")
	}
	if b.driver == nil {
		b.driver = PlaywrightDriver{}
	}
	if b.clients == nil {
		b.clients = DefaultClients
	}
	if b.reaper == nil {
		b.reaper = b.clients
	}
	if b.endpoint == nil {
		b.endpoint = NewEndpointProber(DebugEndpoint, b.clients, b.log.With("probe"))
	}
	if b.spawner == nil {
		b.spawner = ExecSpawner{}
	}
	if b.screen == nil {
		b.screen = HostScreen{}
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(nil)
	}
	containerized := launch.InContainer()
	if b.containerized != nil {
		containerized = *b.containerized
	}

	b.acq = &acquirer{
		cfg:           b.cfg,
		log:           b.log,
		builder:       launch.NewBuilder(b.ports),
		profiles:      profile.NewManager(b.fs, b.log.With("profile")),
		endpoint:      b.endpoint,
		spawner:       b.spawner,
		screen:        b.screen,
		containerized: containerized,
		pollInterval:  b.pollInterval,
		pollAttempts:  b.pollAttempts,
	}

	td := teardown{log: b.log, metrics: b.metrics, reaper: b.reaper}
	keepAlive := cfg.KeepAlive
	runtime.AddCleanup(b, func(r *resources) {
		if !r.live() {
			return
		}
		go func() {
			td.log.Debugf("Browser collected while still open, closing it")
			if keepAlive {
				td.reap(context.Background())
				return
			}
			td.release(context.Background(), r)
			r.reset()
		}()
	}, b.res)

	return b, nil
}

// Config returns the validated configuration.
func (b *Browser) Config() Config {
	return b.cfg
}

// State returns the current lifecycle state.
func (b *Browser) State() State {
	return b.state
}

// EngineHandle returns the live engine connection, initializing on first
// use. It is nil when the managed launch produced a persistent context.
func (b *Browser) EngineHandle(ctx context.Context) (EngineHandle, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	return b.res.handle, nil
}

// PersistentContext returns the persistent context of a managed launch with
// a user-data directory, initializing on first use. It is nil for every
// other strategy.
func (b *Browser) PersistentContext(ctx context.Context) (PageContext, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	return b.res.persistent, nil
}

// Process returns the spawned browser process on the local-binary path.
func (b *Browser) Process() Process {
	return b.res.process
}

func (b *Browser) ensure(ctx context.Context) error {
	if b.state == Ready {
		return nil
	}
	return b.init(ctx)
}

func (b *Browser) init(ctx context.Context) error {
	strategy := b.target.Strategy()
	b.state = Initializing

	rt, err := b.driver.Start()
	if err != nil {
		b.state = Uninitialized
		b.metrics.AcquireFailed(strategy)
		b.log.Errorf("Failed to start browser driver: %v", err)
		return fmt.Errorf("failed to start browser driver: %w", err)
	}

	acq, err := b.acq.acquire(ctx, rt, b.target)
	if err != nil {
		b.log.Errorf("Failed to initialize browser: %v", err)
		if stopErr := rt.Stop(); stopErr != nil {
			b.log.Debugf("Failed to stop driver: %v", stopErr)
		}
		b.state = Uninitialized
		b.metrics.AcquireFailed(strategy)
		return err
	}

	b.res.runtime = rt
	b.res.handle = acq.handle
	b.res.persistent = acq.persistent
	b.res.process = acq.process
	b.state = Ready
	b.metrics.Acquired(strategy)
	b.log.Debugf("Browser ready via %s strategy", strategy)
	return nil
}

// NewContext returns a context facade over this Browser. It does not
// initialize anything. A nil cfg uses the Config's context defaults.
func (b *Browser) NewContext(cfg *ContextConfig) *Context {
	cc := b.cfg.Context
	if cfg != nil {
		cc = cfg.withDefaults()
	}
	return newContext(b, cc)
}

// Close releases the engine. With KeepAlive only auxiliary clients are
// reaped and the Browser stays usable. Otherwise the persistent context,
// the engine connection, the driver and the spawned process tree are
// released in that order, each failure logged and skipped, and the Browser
// returns to Uninitialized. Close never fails; the error is always nil.
// A cancelled ctx does not cut teardown short.
func (b *Browser) Close(ctx context.Context) error {
	td := teardown{log: b.log, metrics: b.metrics, reaper: b.reaper}

	if b.cfg.KeepAlive {
		td.reap(context.WithoutCancel(ctx))
		return nil
	}
	if b.state == Uninitialized && !b.res.live() {
		return nil
	}

	wasReady := b.state == Ready
	b.state = Closing
	defer func() {
		b.res.reset()
		b.state = Uninitialized
		if wasReady {
			b.metrics.Released()
		}
	}()

	// Teardown runs to completion even when ctx is already cancelled.
	td.release(context.WithoutCancel(ctx), b.res)
	return nil
}

// release closes every live resource in order and then reaps clients.
func (t teardown) release(ctx context.Context, r *resources) {
	if r.persistent != nil {
		t.step("persistent_context", "Failed to close persistent context", r.persistent.Close)
	}
	if r.handle != nil {
		t.step("engine", "Failed to close browser", r.handle.Close)
	}
	if r.runtime != nil {
		t.step("driver", "Failed to stop driver", r.runtime.Stop)
	}
	if r.process != nil {
		proc := r.process
		t.step("subprocess", "Failed to terminate browser subprocess", func() error {
			n, err := proc.KillTree(ctx)
			t.metrics.ProcessesKilled(n)
			return err
		})
	}
	t.reap(ctx)
}

func (t teardown) step(name, msg string, fn func() error) {
	if err := fn(); err != nil {
		t.log.Debugf("%s: %v", msg, err)
		t.metrics.CloseStepFailed(name)
	}
}

func (t teardown) reap(ctx context.Context) {
	n := t.reaper.Reap(ctx)
	t.metrics.ClientsReaped(n)
}

// Run creates a Browser for cfg, calls fn with it and closes it on every
// exit path, including a panic in fn. The close runs even after ctx is
// cancelled.
func Run(ctx context.Context, cfg Config, fn func(context.Context, *Browser) error, opts ...Option) error {
	b, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = b.Close(context.WithoutCancel(ctx))
	}()
	return fn(ctx, b)
}
