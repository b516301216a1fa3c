package browser

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// recorder collects the order in which fakes are touched.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeDriver struct {
	rt       *fakeRuntime
	startErr error
	starts   int
}

func (d *fakeDriver) Start() (Runtime, error) {
	d.starts++
	if d.startErr != nil {
		return nil, d.startErr
	}
	return d.rt, nil
}

type fakeRuntime struct {
	rec     *recorder
	engine  *fakeEngine
	stopErr error
	stops   int
}

func (r *fakeRuntime) Engine(kind EngineKind) (Engine, error) {
	r.engine.kinds = append(r.engine.kinds, kind)
	return r.engine, nil
}

func (r *fakeRuntime) Stop() error {
	r.stops++
	r.rec.add("driver.stop")
	return r.stopErr
}

type fakeEngine struct {
	rec   *recorder
	kinds []EngineKind

	calls       []string
	opts        LaunchOptions
	userDataDir string
	url         string
	timeout     time.Duration

	err        error
	handle     *fakeHandle
	persistent *fakeContext
}

func (e *fakeEngine) Launch(opts LaunchOptions) (EngineHandle, error) {
	e.calls = append(e.calls, "launch")
	e.opts = opts
	if e.err != nil {
		return nil, e.err
	}
	return e.handle, nil
}

func (e *fakeEngine) LaunchPersistentContext(userDataDir string, opts LaunchOptions) (PageContext, error) {
	e.calls = append(e.calls, "persistent")
	e.userDataDir = userDataDir
	e.opts = opts
	if e.err != nil {
		return nil, e.err
	}
	return e.persistent, nil
}

func (e *fakeEngine) Connect(wsURL string) (EngineHandle, error) {
	e.calls = append(e.calls, "connect")
	e.url = wsURL
	if e.err != nil {
		return nil, e.err
	}
	return e.handle, nil
}

func (e *fakeEngine) ConnectOverCDP(endpointURL string, timeout time.Duration) (EngineHandle, error) {
	e.calls = append(e.calls, "cdp")
	e.url = endpointURL
	e.timeout = timeout
	if e.err != nil {
		return nil, e.err
	}
	return e.handle, nil
}

type fakeHandle struct {
	rec      *recorder
	closeErr error
	closes   int
	contexts []*fakeContext
}

func (h *fakeHandle) NewContext(cfg ContextConfig) (PageContext, error) {
	c := &fakeContext{rec: h.rec, name: "context", cfg: cfg}
	h.contexts = append(h.contexts, c)
	return c, nil
}

func (h *fakeHandle) IsConnected() bool { return h.closes == 0 }

func (h *fakeHandle) Close() error {
	h.closes++
	h.rec.add("engine.close")
	return h.closeErr
}

type fakeContext struct {
	rec      *recorder
	name     string
	cfg      ContextConfig
	closeErr error
	closes   int
	pages    []Page
}

func (c *fakeContext) NewPage() (Page, error) {
	p := &fakePage{url: "about:blank"}
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) Pages() []Page { return c.pages }

func (c *fakeContext) Close() error {
	c.closes++
	c.rec.add(c.name + ".close")
	return c.closeErr
}

type fakePage struct {
	url     string
	timeout time.Duration
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	p.url = url
	p.timeout = timeout
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Title() (string, error) { return "Example Domain", nil }

func (p *fakePage) Close() error { return nil }

// fakeEndpoint answers Ready from a script; the last answer repeats.
type fakeEndpoint struct {
	answers []bool
	calls   int
	onCall  func(n int)
}

func (e *fakeEndpoint) Ready(ctx context.Context) bool {
	e.calls++
	if e.onCall != nil {
		e.onCall(e.calls)
	}
	if len(e.answers) == 0 {
		return false
	}
	if e.calls > len(e.answers) {
		return e.answers[len(e.answers)-1]
	}
	return e.answers[e.calls-1]
}

type fakeSpawner struct {
	proc   *fakeProcess
	err    error
	path   string
	args   []string
	spawns int
}

func (s *fakeSpawner) Spawn(path string, args []string) (Process, error) {
	s.spawns++
	s.path = path
	s.args = args
	if s.err != nil {
		return nil, s.err
	}
	return s.proc, nil
}

type fakeProcess struct {
	rec     *recorder
	killErr error
	kills   int
	ctxErr  error
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) KillTree(ctx context.Context) (int, error) {
	p.kills++
	p.ctxErr = ctx.Err()
	p.rec.add("process.kill")
	return 3, p.killErr
}

type fakeReaper struct {
	rec   *recorder
	calls int
	n     int
}

func (r *fakeReaper) Reap(ctx context.Context) int {
	r.calls++
	r.rec.add("reap")
	return r.n
}

type fakePorts struct {
	inUse bool
}

func (p fakePorts) InUse(port int) bool { return p.inUse }

// fixture wires a Browser to fakes.
type fixture struct {
	rec      *recorder
	driver   *fakeDriver
	runtime  *fakeRuntime
	engine   *fakeEngine
	handle   *fakeHandle
	ctx      *fakeContext
	endpoint *fakeEndpoint
	spawner  *fakeSpawner
	process  *fakeProcess
	reaper   *fakeReaper
	fs       afero.Fs
	registry *prometheus.Registry
	metrics  *Metrics
	logs     *bytes.Buffer
}

func newFixture() *fixture {
	rec := &recorder{}
	handle := &fakeHandle{rec: rec}
	persistent := &fakeContext{rec: rec, name: "persistent"}
	engine := &fakeEngine{rec: rec, handle: handle, persistent: persistent}
	rt := &fakeRuntime{rec: rec, engine: engine}
	proc := &fakeProcess{rec: rec}
	reg := prometheus.NewRegistry()

	return &fixture{
		rec:      rec,
		driver:   &fakeDriver{rt: rt},
		runtime:  rt,
		engine:   engine,
		handle:   handle,
		ctx:      persistent,
		endpoint: &fakeEndpoint{},
		spawner:  &fakeSpawner{proc: proc},
		process:  proc,
		reaper:   &fakeReaper{rec: rec, n: 2},
		fs:       afero.NewMemMapFs(),
		registry: reg,
		metrics:  NewMetrics(reg),
		logs:     &bytes.Buffer{},
	}
}

func (f *fixture) options() []Option {
	log := logging.New("browser", f.logs)
	log.SetLevel(logging.LevelDebug)
	return []Option{
		WithDriver(f.driver),
		WithLogger(log),
		WithPortProber(fakePorts{}),
		WithEndpointProber(f.endpoint),
		WithSpawner(f.spawner),
		WithScreen(StaticScreen{Width: 2560, Height: 1440, X: 0, Y: 0}),
		WithFs(f.fs),
		WithClients(NewClientRegistry(nil)),
		WithReaper(f.reaper),
		WithMetrics(f.metrics),
		WithContainerized(false),
		WithPolling(time.Millisecond, DefaultPollAttempts),
	}
}

func (f *fixture) newBrowser(t *testing.T, cfg Config, opts ...Option) *Browser {
	t.Helper()
	b, err := New(cfg, append(f.options(), opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}
