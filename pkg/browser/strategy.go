package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/entrhq/browseruse/pkg/browser/profile"
	"github.com/entrhq/browseruse/pkg/logging"
)

// Polling budget for a freshly spawned local binary.
const (
	DefaultPollInterval = time.Second
	DefaultPollAttempts = 10
)

// acquisition is what a strategy hands back. Exactly one of handle and
// persistent is set; process is only set on the local-binary spawn path.
type acquisition struct {
	handle     EngineHandle
	persistent PageContext
	process    Process
}

// acquirer runs the connection strategies for one Config.
type acquirer struct {
	cfg           Config
	log           *logging.Logger
	builder       *launch.Builder
	profiles      *profile.Manager
	endpoint      EndpointProber
	spawner       Spawner
	screen        ScreenProber
	containerized bool

	pollInterval time.Duration
	pollAttempts int
}

// acquire runs exactly one strategy for target.
func (a *acquirer) acquire(ctx context.Context, rt Runtime, target Target) (acquisition, error) {
	switch t := target.(type) {
	case CDPTarget:
		return a.connectCDP(rt, t)
	case WSSTarget:
		return a.connectWSS(rt, t)
	}

	if a.cfg.Headless {
		a.log.Warnf("Headless mode is not recommended. Many sites will detect and block all headless browsers.")
	}

	switch t := target.(type) {
	case BinaryTarget:
		return a.launchBinary(ctx, rt, t)
	case ManagedTarget:
		return a.launchManaged(rt)
	default:
		return acquisition{}, fmt.Errorf("%w: unknown connection target %T", ErrInvalidConfig, target)
	}
}

// connectCDP attaches to a running browser over the DevTools protocol. The
// Firefox family is rejected before anything is dialed.
func (a *acquirer) connectCDP(rt Runtime, t CDPTarget) (acquisition, error) {
	if a.cfg.Engine == Firefox || strings.Contains(strings.ToLower(a.cfg.BinaryPath), "firefox") {
		return acquisition{}, ErrCDPUnsupported
	}
	if t.URL == "" {
		return acquisition{}, ErrMissingCDPURL
	}

	a.log.Infof("Connecting to remote browser via CDP %s", t.URL)
	engine, err := rt.Engine(a.cfg.Engine)
	if err != nil {
		return acquisition{}, err
	}
	handle, err := engine.ConnectOverCDP(t.URL, CDPConnectTimeout)
	if err != nil {
		return acquisition{}, fmt.Errorf("failed to connect over CDP to %s: %w", t.URL, err)
	}
	return acquisition{handle: handle}, nil
}

// connectWSS connects to a remote browser server.
func (a *acquirer) connectWSS(rt Runtime, t WSSTarget) (acquisition, error) {
	if t.URL == "" {
		return acquisition{}, ErrMissingWSSURL
	}

	a.log.Infof("Connecting to remote browser via WSS %s", t.URL)
	engine, err := rt.Engine(a.cfg.Engine)
	if err != nil {
		return acquisition{}, err
	}
	handle, err := engine.Connect(t.URL)
	if err != nil {
		return acquisition{}, fmt.Errorf("failed to connect to %s: %w", t.URL, err)
	}
	return acquisition{handle: handle}, nil
}

// launchBinary attaches to a browser already serving the debugging endpoint
// or spawns the binary and waits for the endpoint to come up.
func (a *acquirer) launchBinary(ctx context.Context, rt Runtime, t BinaryTarget) (acquisition, error) {
	if t.Path == "" {
		return acquisition{}, ErrMissingBinaryPath
	}
	if a.cfg.Engine != Chromium {
		return acquisition{}, ErrBinaryRequiresChromium
	}

	engine, err := rt.Engine(Chromium)
	if err != nil {
		return acquisition{}, err
	}

	if a.endpoint.Ready(ctx) {
		a.log.Infof("Re-using existing browser found running on %s", DebugEndpoint)
		handle, err := engine.ConnectOverCDP(DebugEndpoint, CDPConnectTimeout)
		if err != nil {
			return acquisition{}, fmt.Errorf("failed to connect to existing browser: %w", err)
		}
		return acquisition{handle: handle}, nil
	}
	a.log.Debugf("No existing browser found, starting %s", t.Path)

	args := a.builder.Build(launch.Options{
		Engine:          Chromium,
		Headless:        a.cfg.Headless,
		DisableSecurity: a.cfg.DisableSecurity,
		Deterministic:   a.cfg.DeterministicRendering,
		Containerized:   a.containerized,
		Extra:           a.cfg.ExtraArgs,
	})
	proc, err := a.spawner.Spawn(t.Path, args)
	if err != nil {
		return acquisition{}, err
	}

	if err := a.waitForEndpoint(ctx); err != nil {
		a.discard(proc)
		return acquisition{}, err
	}

	handle, err := engine.ConnectOverCDP(DebugEndpoint, CDPConnectTimeout)
	if err != nil {
		a.log.Errorf("Failed to start a new browser instance: %v", err)
		a.discard(proc)
		return acquisition{}, fmt.Errorf("%w: %v", ErrDebugEndpointUnavailable, err)
	}
	return acquisition{handle: handle, process: proc}, nil
}

// waitForEndpoint polls until the endpoint answers or the attempts run out.
// Running out is not an error here; the connect that follows decides.
func (a *acquirer) waitForEndpoint(ctx context.Context) error {
	for i := 0; i < a.pollAttempts; i++ {
		if a.endpoint.Ready(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	return nil
}

// discard kills a spawned process that never became usable.
func (a *acquirer) discard(proc Process) {
	if _, err := proc.KillTree(context.Background()); err != nil {
		a.log.Debugf("Failed to kill browser process %d: %v", proc.Pid(), err)
	}
}

// launchManaged launches a driver-managed browser, or a persistent context
// when a user-data directory is configured.
func (a *acquirer) launchManaged(rt Runtime) (acquisition, error) {
	if a.cfg.BinaryPath != "" {
		return acquisition{}, ErrBinaryPathConflict
	}

	window := launch.Geometry{Width: FallbackScreenWidth, Height: FallbackScreenHeight}
	if !a.cfg.Headless {
		window = a.screen.Geometry()
	}

	args := a.builder.Build(launch.Options{
		Engine:          a.cfg.Engine,
		Headless:        a.cfg.Headless,
		DisableSecurity: a.cfg.DisableSecurity,
		Deterministic:   a.cfg.DeterministicRendering,
		Containerized:   a.containerized,
		Window:          &window,
		ProbeDebugPort:  true,
		Extra:           a.cfg.ExtraArgs,
	})

	profileDir := a.cfg.ProfileDirectory
	if profileDir != "" && a.cfg.Engine != Chromium {
		a.log.Warnf("profile_directory %q ignored for non-Chromium browser: %s", profileDir, a.cfg.Engine)
		profileDir = ""
	}

	args, err := a.profiles.Prepare(a.cfg.UserDataDir, profileDir, args)
	if err != nil {
		return acquisition{}, err
	}

	if profileDir != "" {
		args = append(args, launch.ProfileDirectoryArg(profileDir))
		a.log.Debugf("Using profile directory: %s", profileDir)
	}

	engine, err := rt.Engine(a.cfg.Engine)
	if err != nil {
		return acquisition{}, err
	}
	opts := LaunchOptions{
		Headless: a.cfg.Headless,
		Args:     args,
		Timeout:  LaunchTimeout,
		Proxy:    a.cfg.Proxy,
	}

	if a.cfg.UserDataDir != "" {
		persistent, err := engine.LaunchPersistentContext(a.cfg.UserDataDir, opts)
		if err != nil {
			return acquisition{}, fmt.Errorf("failed to launch persistent context: %w", err)
		}
		return acquisition{persistent: persistent}, nil
	}

	handle, err := engine.Launch(opts)
	if err != nil {
		return acquisition{}, fmt.Errorf("failed to launch browser: %w", err)
	}
	return acquisition{handle: handle}, nil
}
