// Package main provides the browseruse command, which acquires a browser
// through the configured connection strategy, optionally opens a URL, holds
// the session and always releases the browser on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/profile"
	appconfig "github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile       string
	SettingsFile     string
	CDPURL           string
	WSSURL           string
	BinaryPath       string
	Engine           string
	Headless         bool
	DisableSecurity  bool
	Deterministic    bool
	KeepAlive        bool
	UserDataDir      string
	ProfileDirectory string
	Proxy            string
	Args             stringList
	URL              string
	Hold             holdValue
	MetricsAddr      string
	Save             bool
	ShowVersion      bool

	// set records the flags given on the command line.
	set map[string]bool
}

// session is what the browser does once the configuration is resolved.
type session struct {
	URL   string
	Hold  holdValue
	Proxy *browser.ProxySettings
}

func main() {
	cli, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if cli.ShowVersion {
		fmt.Printf("browseruse v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down, closing browser...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "browseruse: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	defaults := browser.DefaultConfig()
	cli := &CLIConfig{}

	fs := flag.NewFlagSet("browseruse", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cli.ConfigFile, "config", "", "Path to a YAML run file")
	fs.StringVar(&cli.SettingsFile, "settings", "", "Path to persisted settings (default ~/.browseruse/config.json)")
	fs.StringVar(&cli.CDPURL, "cdp-url", "", "Connect to a running browser over CDP")
	fs.StringVar(&cli.WSSURL, "wss-url", "", "Connect to a remote browser server over a websocket")
	fs.StringVar(&cli.BinaryPath, "binary", "", "Launch or reuse a local Chromium binary")
	fs.StringVar(&cli.Engine, "engine", string(defaults.Engine), "Browser engine: chromium, firefox or webkit")
	fs.BoolVar(&cli.Headless, "headless", defaults.Headless, "Run without a visible window")
	fs.BoolVar(&cli.DisableSecurity, "disable-security", defaults.DisableSecurity, "Disable web security and site isolation")
	fs.BoolVar(&cli.Deterministic, "deterministic", defaults.DeterministicRendering, "Force deterministic rendering")
	fs.BoolVar(&cli.KeepAlive, "keep-alive", defaults.KeepAlive, "Leave the browser running on exit")
	fs.StringVar(&cli.UserDataDir, "user-data-dir", "", "Persistent profile root")
	fs.StringVar(&cli.ProfileDirectory, "profile-directory", "", "Profile inside the user data dir, e.g. \"Profile 1\" (Chromium only)")
	fs.StringVar(&cli.Proxy, "proxy", "", "Proxy server URL")
	fs.Var(&cli.Args, "arg", "Extra browser argument (repeatable)")
	fs.StringVar(&cli.URL, "url", "", "URL to open once the browser is ready")
	fs.Var(&cli.Hold, "hold", "Keep the browser open for a duration, or \"forever\" until interrupted")
	fs.StringVar(&cli.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&cli.Save, "save", false, "Persist the resolved browser settings")
	fs.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(output, "browseruse - browser lifecycle manager\n\n")
		fmt.Fprintf(output, "Usage: browseruse [options]\n\n")
		fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(output, "\nExamples:\n")
		fmt.Fprintf(output, "  # Attach to a browser started with --remote-debugging-port=9222\n")
		fmt.Fprintf(output, "  browseruse -cdp-url http://localhost:9222 -url https://example.com\n\n")
		fmt.Fprintf(output, "  # Launch with a persistent profile and keep it open\n")
		fmt.Fprintf(output, "  browseruse -user-data-dir ~/.browseruse/profile -profile-directory \"Profile 1\" -hold forever\n\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cli.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })
	return cli, nil
}

// run resolves the configuration and drives one browser session.
func run(ctx context.Context, cli *CLIConfig) error {
	log, err := logging.NewLogger("cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging to stderr: %v\n", err)
	}
	defer log.Close()

	if initErr := appconfig.Initialize(cli.SettingsFile); initErr != nil {
		return fmt.Errorf("failed to initialize settings: %w", initErr)
	}

	env, err := appconfig.LoadEnv()
	if err != nil {
		return err
	}

	cfg, sess, err := resolve(cli, appconfig.GetBrowser(), env)
	if err != nil {
		return err
	}

	if cli.Save {
		appconfig.GetBrowser().Capture(cfg)
		if saveErr := appconfig.Global().SaveAll(); saveErr != nil {
			return fmt.Errorf("failed to save settings: %w", saveErr)
		}
		if store, ok := appconfig.Global().Store().(*appconfig.FileStore); ok {
			fmt.Printf("Saved browser settings to %s\n", store.Path())
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cli.MetricsAddr != "" {
		stop, serveErr := serveMetrics(cli.MetricsAddr, reg, log)
		if serveErr != nil {
			return serveErr
		}
		defer stop()
	}

	if _, managed := cfg.Target().(browser.ManagedTarget); managed {
		warnIfLocked(cfg.UserDataDir, log)
	}

	log.Infof("Starting browser via %s strategy", cfg.Target().Strategy())
	return browser.Run(ctx, cfg, sess.run,
		browser.WithLogger(log.With("browser")),
		browser.WithMetrics(browser.NewMetrics(reg)),
		browser.WithContainerized(env.Containerized),
	)
}

// resolve merges the configuration layers. Later layers win: defaults,
// persisted settings, run file, environment, flags.
func resolve(cli *CLIConfig, persisted *appconfig.BrowserSection, env *appconfig.Env) (browser.Config, session, error) {
	cfg := browser.DefaultConfig()
	if persisted != nil {
		persisted.Apply(&cfg)
	}

	var sess session
	if cli.ConfigFile != "" {
		rf, err := appconfig.LoadRunFile(cli.ConfigFile, cfg)
		if err != nil {
			return browser.Config{}, session{}, err
		}
		cfg = rf.Browser
		sess.URL = rf.URL
		sess.Hold.duration = rf.Hold
	}

	if env != nil {
		env.Apply(&cfg)
	}

	applyFlags(cli, &cfg)
	if cli.set["url"] {
		sess.URL = cli.URL
	}
	if cli.set["hold"] {
		sess.Hold = cli.Hold
	}

	if err := cfg.Validate(); err != nil {
		return browser.Config{}, session{}, err
	}
	sess.Proxy = cfg.Proxy
	return cfg, sess, nil
}

func applyFlags(cli *CLIConfig, cfg *browser.Config) {
	set := cli.set
	if set["cdp-url"] {
		cfg.CDPURL = cli.CDPURL
	}
	if set["wss-url"] {
		cfg.WSSURL = cli.WSSURL
	}
	if set["binary"] {
		cfg.BinaryPath = cli.BinaryPath
	}
	if set["engine"] {
		cfg.Engine = browser.EngineKind(cli.Engine)
	}
	if set["headless"] {
		cfg.Headless = cli.Headless
	}
	if set["disable-security"] {
		cfg.DisableSecurity = cli.DisableSecurity
	}
	if set["deterministic"] {
		cfg.DeterministicRendering = cli.Deterministic
	}
	if set["keep-alive"] {
		cfg.KeepAlive = cli.KeepAlive
	}
	if set["user-data-dir"] {
		cfg.UserDataDir = cli.UserDataDir
	}
	if set["profile-directory"] {
		cfg.ProfileDirectory = cli.ProfileDirectory
	}
	if set["proxy"] {
		cfg.Proxy = nil
		if cli.Proxy != "" {
			cfg.Proxy = &browser.ProxySettings{Server: cli.Proxy}
		}
	}
	if set["arg"] {
		cfg.ExtraArgs = append(cfg.ExtraArgs, cli.Args...)
	}
}

// warnIfLocked tells the user when another browser appears to own the
// profile. The launch clears the lock and continues regardless.
func warnIfLocked(userDataDir string, log *logging.Logger) {
	locked, err := profile.NewManager(nil, log.With("profile")).Locked(userDataDir)
	if err != nil {
		log.Debugf("Failed to check profile lock: %v", err)
		return
	}
	if locked {
		fmt.Printf("Warning: %s is locked by another browser; close it first or expect launch failures\n", userDataDir)
	}
}

// run opens the session URL if any and holds the browser.
func (s session) run(ctx context.Context, b *browser.Browser) error {
	if s.URL == "" {
		if _, err := b.EngineHandle(ctx); err != nil {
			return err
		}
		fmt.Printf("Browser ready via %s\n", b.Config().Target().Strategy())
	} else {
		if r := route(s.URL, s.Proxy); r != "" {
			fmt.Printf("Opening %s %s\n", s.URL, r)
		}

		c := b.NewContext(nil)
		defer func() { _ = c.Close() }()

		if err := c.Navigate(ctx, s.URL); err != nil {
			return fmt.Errorf("failed to open %s: %w", s.URL, err)
		}
		title, err := c.Title(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Opened %s (%q)\n", c.CurrentURL(), title)
	}

	hold(ctx, s.Hold)
	return nil
}

// route describes how rawURL is reached when a proxy is configured. It is
// empty without a proxy.
func route(rawURL string, proxy *browser.ProxySettings) string {
	if proxy == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err == nil && proxy.Bypasses(u.Hostname()) {
		return "directly (proxy bypass)"
	}
	return "via proxy " + proxy.Server
}

func hold(ctx context.Context, h holdValue) {
	if h.forever {
		fmt.Println("Holding browser open, press Ctrl+C to close")
		<-ctx.Done()
		return
	}
	if h.duration <= 0 {
		return
	}

	timer := time.NewTimer(h.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// serveMetrics exposes reg on addr/metrics until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	fmt.Printf("Prometheus metrics endpoint: http://%s/metrics\n", lis.Addr())

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
	}, nil
}
