package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/entrhq/browseruse/pkg/browser/profile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	f := newFixture()
	_, err := New(Config{Engine: "netscape"}, f.options()...)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, f.driver.starts)
}

func TestNew_DoesNotInitialize(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, DefaultConfig())

	assert.Equal(t, Uninitialized, b.State())
	assert.Zero(t, f.driver.starts)
	assert.Equal(t, ManagedTarget{}, b.target)
}

func TestEngineHandle_CDP(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{CDPURL: "http://10.0.0.5:9222"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	h, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Same(t, f.handle, h)
	assert.Equal(t, []string{"cdp"}, f.engine.calls)
	assert.Equal(t, "http://10.0.0.5:9222", f.engine.url)
	assert.Equal(t, CDPConnectTimeout, f.engine.timeout)
	assert.Equal(t, Ready, b.State())
	assert.Contains(t, f.logs.String(), "Connecting to remote browser via CDP http://10.0.0.5:9222")
}

func TestEngineHandle_IdempotentWhenReady(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{CDPURL: "http://localhost:9333"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	first, err := b.EngineHandle(context.Background())
	require.NoError(t, err)
	second, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.driver.starts)
	assert.Len(t, f.engine.calls, 1)
}

func TestEngineHandle_CDPAndWSSOnlyRunsCDP(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{CDPURL: "http://cdp:9222", WSSURL: "wss://remote/ws"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"cdp"}, f.engine.calls)
	assert.Equal(t, "http://cdp:9222", f.engine.url)
}

func TestEngineHandle_CDPRejectsFirefox(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "firefox engine", cfg: Config{CDPURL: "http://cdp:9222", Engine: Firefox}},
		{name: "firefox binary path", cfg: Config{CDPURL: "http://cdp:9222", BinaryPath: "/Applications/Firefox.app/Contents/MacOS/firefox"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			b := f.newBrowser(t, tt.cfg)

			h, err := b.EngineHandle(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCDPUnsupported)
			assert.Nil(t, h)
			assert.Empty(t, f.engine.calls, "no connection may be attempted")
			assert.Equal(t, 1, f.runtime.stops, "driver stopped after failure")
			assert.Equal(t, Uninitialized, b.State())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.acquisitionFailures.WithLabelValues("cdp")))
			assert.Contains(t, f.logs.String(), "[ERROR] Failed to initialize browser")
		})
	}
}

func TestEngineHandle_MissingURLs(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   error
	}{
		{name: "cdp", target: CDPTarget{}, want: ErrMissingCDPURL},
		{name: "wss", target: WSSTarget{}, want: ErrMissingWSSURL},
		{name: "binary", target: BinaryTarget{}, want: ErrMissingBinaryPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			b := f.newBrowser(t, DefaultConfig(), WithTarget(tt.target))

			_, err := b.EngineHandle(context.Background())

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.engine.calls)
		})
	}
}

func TestEngineHandle_WSS(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{WSSURL: "wss://browsers.example.com/ws", Engine: Firefox})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	h, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Same(t, f.handle, h)
	assert.Equal(t, []string{"connect"}, f.engine.calls)
	assert.Equal(t, []EngineKind{Firefox}, f.engine.kinds)
	assert.Equal(t, "wss://browsers.example.com/ws", f.engine.url)
}

func TestEngineHandle_DriverStartFailure(t *testing.T) {
	f := newFixture()
	f.driver.startErr = errors.New("node not found")
	b := f.newBrowser(t, DefaultConfig())

	_, err := b.EngineHandle(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "node not found")
	assert.Equal(t, Uninitialized, b.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.acquisitionFailures.WithLabelValues("managed")))
}

func TestHeadlessWarning(t *testing.T) {
	t.Run("managed warns", func(t *testing.T) {
		f := newFixture()
		b := f.newBrowser(t, Config{Headless: true})
		t.Cleanup(func() { _ = b.Close(context.Background()) })

		_, err := b.EngineHandle(context.Background())
		require.NoError(t, err)
		assert.Contains(t, f.logs.String(), "[WARN] Headless mode is not recommended")
	})

	t.Run("cdp does not warn", func(t *testing.T) {
		f := newFixture()
		b := f.newBrowser(t, Config{Headless: true, CDPURL: "http://cdp:9222"})
		t.Cleanup(func() { _ = b.Close(context.Background()) })

		_, err := b.EngineHandle(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, f.logs.String(), "Headless mode")
	})
}

func TestLocalBinary_RequiresChromium(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/webkit", Engine: WebKit})

	_, err := b.EngineHandle(context.Background())

	assert.ErrorIs(t, err, ErrBinaryRequiresChromium)
	assert.Zero(t, f.spawner.spawns)
}

func TestLocalBinary_ReusesRunningInstance(t *testing.T) {
	f := newFixture()
	f.endpoint.answers = []bool{true}
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/google-chrome"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	h, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Same(t, f.handle, h)
	assert.Zero(t, f.spawner.spawns, "no duplicate browser process")
	assert.Equal(t, DebugEndpoint, f.engine.url)
	assert.Equal(t, CDPConnectTimeout, f.engine.timeout)
	assert.Nil(t, b.Process())
}

func TestLocalBinary_SpawnsAndPolls(t *testing.T) {
	f := newFixture()
	// Probe before spawn fails, then two polls fail before the endpoint answers.
	f.endpoint.answers = []bool{false, false, false, true}
	cfg := Config{
		BinaryPath:      "/usr/bin/google-chrome",
		DisableSecurity: true,
		ExtraArgs:       []string{"--lang=en-US", launch.FlagNoFirstRun},
	}
	b := f.newBrowser(t, cfg)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	start := time.Now()
	h, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Same(t, f.handle, h)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, f.spawner.spawns)
	assert.Equal(t, "/usr/bin/google-chrome", f.spawner.path)
	assert.Equal(t, 4, f.endpoint.calls)
	assert.Equal(t, []string{"cdp"}, f.engine.calls)
	assert.Same(t, f.process, b.Process())

	args := f.spawner.args
	assert.Contains(t, args, launch.FlagDebugPort)
	assert.Contains(t, args, "--disable-web-security")
	assert.Contains(t, args, "--lang=en-US")
	assert.Equal(t, launch.Unique(args), args, "arguments are duplicate free")
	for _, arg := range args {
		assert.NotContains(t, arg, "--window-size", "local binary does not get window geometry")
	}
}

func TestLocalBinary_PollBudgetExhausted(t *testing.T) {
	f := newFixture()
	f.engine.err = errors.New("connect ECONNREFUSED 127.0.0.1:9222")
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"}, WithPolling(time.Millisecond, 3))

	_, err := b.EngineHandle(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDebugEndpointUnavailable)
	assert.Contains(t, err.Error(), "close all existing chrome instances")
	assert.Equal(t, 1+3, f.endpoint.calls)
	assert.Equal(t, 1, f.process.kills, "unusable process is killed")
	assert.Equal(t, Uninitialized, b.State())
	assert.Nil(t, b.Process())
}

func TestLocalBinary_PollingCancelledByContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.endpoint.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"}, WithPolling(time.Hour, DefaultPollAttempts))

	_, err := b.EngineHandle(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.engine.calls)
	assert.Equal(t, 1, f.process.kills)
}

func TestLocalBinary_SpawnFailure(t *testing.T) {
	f := newFixture()
	f.spawner.err = errors.New("exec: permission denied")
	b := f.newBrowser(t, Config{BinaryPath: "/opt/chrome"})

	_, err := b.EngineHandle(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Empty(t, f.engine.calls)
}

func TestManaged_BinaryPathConflict(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"}, WithTarget(ManagedTarget{}))

	_, err := b.EngineHandle(context.Background())

	assert.ErrorIs(t, err, ErrBinaryPathConflict)
	assert.Empty(t, f.engine.calls)
}

func TestManaged_HeadlessLaunch(t *testing.T) {
	f := newFixture()
	cfg := Config{
		Headless:        true,
		DisableSecurity: true,
		Proxy:           &ProxySettings{Server: "http://proxy:3128", Username: "u", Password: "p"},
		ExtraArgs:       []string{"--mute-audio"},
	}
	b := f.newBrowser(t, cfg)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	h, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Same(t, f.handle, h)
	assert.Equal(t, []string{"launch"}, f.engine.calls)

	opts := f.engine.opts
	assert.True(t, opts.Headless)
	assert.Equal(t, LaunchTimeout, opts.Timeout)
	assert.Equal(t, cfg.Proxy, opts.Proxy)
	assert.Contains(t, opts.Args, "--headless=new")
	assert.Contains(t, opts.Args, "--window-position=0,0")
	assert.Contains(t, opts.Args, "--window-size=1920,1080")
	assert.Contains(t, opts.Args, "--mute-audio")
	assert.Contains(t, opts.Args, launch.FlagDebugPort)
	assert.Equal(t, launch.Unique(opts.Args), opts.Args)
}

func TestManaged_HeadfulUsesScreenGeometry(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{}, WithScreen(StaticScreen{Width: 3440, Height: 1440, X: -4, Y: 24}))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Contains(t, f.engine.opts.Args, "--window-position=-4,24")
	assert.Contains(t, f.engine.opts.Args, "--window-size=3440,1440")
}

func TestManaged_DebugPortInUse(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{}, WithPortProber(fakePorts{inUse: true}))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.NotContains(t, f.engine.opts.Args, launch.FlagDebugPort)
	assert.NotContains(t, f.engine.opts.Args, launch.FlagDebugAddress)
}

func TestManaged_ContainerArgs(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{}, WithContainerized(true))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Contains(t, f.engine.opts.Args, "--no-sandbox")
}

func TestManaged_NewUserDataDirWithProfile(t *testing.T) {
	f := newFixture()
	dir := "/home/agent/.config/browseruse/profiles/work"
	cfg := Config{UserDataDir: dir, ProfileDirectory: "Profile 1"}
	b := f.newBrowser(t, cfg)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	persistent, err := b.PersistentContext(context.Background())
	require.NoError(t, err)
	h, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	assert.Same(t, f.ctx, persistent)
	assert.Nil(t, h, "persistent launch has no bare engine handle")
	assert.Equal(t, []string{"persistent"}, f.engine.calls)
	assert.Equal(t, dir, f.engine.userDataDir)
	assert.Equal(t, 1, f.driver.starts)

	exists, err := afero.DirExists(f.fs, dir)
	require.NoError(t, err)
	assert.True(t, exists)

	args := f.engine.opts.Args
	assert.NotContains(t, args, launch.FlagNoFirstRun)
	assert.Contains(t, args, "--profile-directory=Profile 1")
	assert.Equal(t, LaunchTimeout, f.engine.opts.Timeout)
}

func TestManaged_ExistingUserDataDirRemovesLock(t *testing.T) {
	f := newFixture()
	dir := "/profiles/shared"
	require.NoError(t, f.fs.MkdirAll(filepath.Join(dir, "Default"), 0755))
	require.NoError(t, afero.WriteFile(f.fs, filepath.Join(dir, profile.LockFile), []byte("otherhost-99"), 0644))
	b := f.newBrowser(t, Config{UserDataDir: dir, ProfileDirectory: "Default"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.PersistentContext(context.Background())

	require.NoError(t, err)
	locked, err := afero.Exists(f.fs, filepath.Join(dir, profile.LockFile))
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Contains(t, f.engine.opts.Args, launch.FlagNoFirstRun, "existing profiles keep --no-first-run")
	assert.Contains(t, f.logs.String(), "Detected multiple browser processes")
}

func TestManaged_ProfileDirectoryIgnoredForNonChromium(t *testing.T) {
	for _, engine := range []EngineKind{Firefox, WebKit} {
		t.Run(string(engine), func(t *testing.T) {
			f := newFixture()
			b := f.newBrowser(t, Config{Engine: engine, ProfileDirectory: "Profile 1"})
			t.Cleanup(func() { _ = b.Close(context.Background()) })

			_, err := b.EngineHandle(context.Background())

			require.NoError(t, err)
			for _, arg := range f.engine.opts.Args {
				assert.NotContains(t, arg, "--profile-directory")
			}
			assert.Contains(t, f.logs.String(), "ignored for non-Chromium browser")
		})
	}
}

func TestManaged_ProfileDirectoryWarnsOnceForNonChromium(t *testing.T) {
	for _, engine := range []EngineKind{Firefox, WebKit} {
		t.Run(string(engine), func(t *testing.T) {
			f := newFixture()
			require.NoError(t, f.fs.MkdirAll("/data/profile", 0o755))
			b := f.newBrowser(t, Config{Engine: engine, UserDataDir: "/data/profile", ProfileDirectory: "Profile 1"})
			t.Cleanup(func() { _ = b.Close(context.Background()) })

			_, err := b.EngineHandle(context.Background())

			require.NoError(t, err)
			logs := f.logs.String()
			assert.Equal(t, 1, strings.Count(logs, "Profile 1"), logs)
			assert.Contains(t, logs, "ignored for non-Chromium browser")
			assert.NotContains(t, logs, "will be created")
		})
	}
}

func TestManaged_ProfileDirectoryWithoutUserDataDir(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{ProfileDirectory: "Profile 2"})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"launch"}, f.engine.calls)
	assert.Contains(t, f.engine.opts.Args, "--profile-directory=Profile 2")
}

func TestManaged_ParentCreationFailure(t *testing.T) {
	f := newFixture()
	f.fs = afero.NewReadOnlyFs(afero.NewMemMapFs())
	b := f.newBrowser(t, Config{UserDataDir: "/nope/profile"})

	_, err := b.PersistentContext(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot create parent directory")
	assert.Empty(t, f.engine.calls)
	assert.Equal(t, Uninitialized, b.State())
}

func TestManaged_LaunchFailure(t *testing.T) {
	f := newFixture()
	f.engine.err = errors.New("browserType.launch: Executable doesn't exist")
	b := f.newBrowser(t, Config{})

	_, err := b.EngineHandle(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Executable doesn't exist")
	assert.Contains(t, f.logs.String(), "[ERROR] Failed to initialize browser")
}

func TestClose_OrderForSpawnedBinary(t *testing.T) {
	f := newFixture()
	f.endpoint.answers = []bool{false, true}
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"})
	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, []string{"engine.close", "driver.stop", "process.kill", "reap"}, f.rec.list())
	assert.Equal(t, Uninitialized, b.State())
	assert.Nil(t, b.Process())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.processesKilled))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.clientsReaped))
}

func TestClose_OrderForPersistentContext(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{UserDataDir: "/data/profile"})
	_, err := b.PersistentContext(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, []string{"persistent.close", "driver.stop", "reap"}, f.rec.list())
}

func TestClose_ContinuesPastFailures(t *testing.T) {
	f := newFixture()
	f.endpoint.answers = []bool{false, true}
	f.handle.closeErr = errors.New("Target page, context or browser has been closed")
	f.runtime.stopErr = errors.New("driver already exited")
	f.process.killErr = errors.New("no such process")
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"})
	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	err = b.Close(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, []string{"engine.close", "driver.stop", "process.kill", "reap"}, f.rec.list())
	assert.Equal(t, Uninitialized, b.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.closeStepFailures.WithLabelValues("engine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.closeStepFailures.WithLabelValues("driver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.closeStepFailures.WithLabelValues("subprocess")))
	assert.Contains(t, f.logs.String(), "[DEBUG] Failed to close browser")
	assert.Contains(t, f.logs.String(), "[DEBUG] Failed to terminate browser subprocess")
}

func TestClose_CancelledContextStillReleases(t *testing.T) {
	f := newFixture()
	f.endpoint.answers = []bool{false, true}
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium"})
	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, []string{"engine.close", "driver.stop", "process.kill", "reap"}, f.rec.list())
	assert.NoError(t, f.process.ctxErr, "kill runs on a live context")
	assert.Equal(t, Uninitialized, b.State())
}

func TestClose_CancelledContextKillsSpawnedTree(t *testing.T) {
	requirePosix(t, "sh", "sleep")

	script := filepath.Join(t.TempDir(), "fake-chromium")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 30 &\nsleep 30 &\nwait\n"), 0o755))

	f := newFixture()
	f.endpoint.answers = []bool{false, true}
	b := f.newBrowser(t, Config{BinaryPath: script}, WithSpawner(ExecSpawner{}))
	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)
	sp, ok := b.Process().(*Subprocess)
	require.True(t, ok)
	children := waitChildren(t, sp.Pid(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Close(ctx))

	waitExited(t, sp)
	assertGone(t, children)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.processesKilled))
}

func TestClose_Twice(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{CDPURL: "http://cdp:9222"})
	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	events := f.rec.list()
	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, events, f.rec.list(), "second close does nothing")
	assert.Equal(t, 1, f.handle.closes)
	assert.Equal(t, 1, f.reaper.calls)
	assert.Equal(t, Uninitialized, b.State())
}

func TestClose_BeforeInitialization(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, DefaultConfig())

	assert.NoError(t, b.Close(context.Background()))
	assert.Empty(t, f.rec.list())
}

func TestClose_KeepAlive(t *testing.T) {
	f := newFixture()
	f.endpoint.answers = []bool{false, true}
	b := f.newBrowser(t, Config{BinaryPath: "/usr/bin/chromium", KeepAlive: true})
	h, err := b.EngineHandle(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, []string{"reap"}, f.rec.list())
	assert.Zero(t, f.handle.closes)
	assert.Zero(t, f.runtime.stops)
	assert.Zero(t, f.process.kills)
	assert.Equal(t, Ready, b.State())

	again, err := b.EngineHandle(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Equal(t, 1, f.driver.starts)
}

func TestClose_ThenReinitialize(t *testing.T) {
	f := newFixture()
	b := f.newBrowser(t, Config{})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.EngineHandle(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Close(context.Background()))
	_, err = b.EngineHandle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.driver.starts)
	assert.Equal(t, Ready, b.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.acquisitions.WithLabelValues("managed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.browsersReady))
}

func TestRun_AlwaysCloses(t *testing.T) {
	f := newFixture()
	boom := errors.New("agent step failed")

	err := Run(context.Background(), Config{CDPURL: "http://cdp:9222"}, func(ctx context.Context, b *Browser) error {
		_, err := b.EngineHandle(ctx)
		require.NoError(t, err)
		return boom
	}, f.options()...)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.handle.closes)
	assert.Equal(t, 1, f.runtime.stops)
}

func TestRun_ClosesAfterCancellation(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	err := Run(ctx, Config{CDPURL: "http://cdp:9222"}, func(ctx context.Context, b *Browser) error {
		_, err := b.EngineHandle(ctx)
		require.NoError(t, err)
		cancel()
		return ctx.Err()
	}, f.options()...)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.reaper.calls)
	assert.Equal(t, 1, f.handle.closes)
}

func TestRun_InvalidConfig(t *testing.T) {
	called := false
	err := Run(context.Background(), Config{Engine: "lynx"}, func(context.Context, *Browser) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, called)
}

func TestCleanup_ClosesCollectedBrowser(t *testing.T) {
	f := newFixture()
	done := make(chan struct{})
	reaper := &signalReaper{done: done}

	func() {
		b := f.newBrowser(t, Config{CDPURL: "http://cdp:9222"}, WithReaper(reaper))
		_, err := b.EngineHandle(context.Background())
		require.NoError(t, err)
	}()

	deadline := time.After(5 * time.Second)
	for {
		runtime.GC()
		select {
		case <-done:
			assert.Equal(t, 1, f.handle.closes)
			return
		case <-deadline:
			t.Fatal("collected browser was never closed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// signalReaper closes done on its first reap.
type signalReaper struct {
	done chan struct{}
}

func (r *signalReaper) Reap(ctx context.Context) int {
	close(r.done)
	return 0
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "State(9)", State(9).String())
}
