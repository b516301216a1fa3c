package launch

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Engine identifies one of the three browser engines the driver can run.
type Engine string

const (
	Chromium Engine = "chromium"
	Firefox  Engine = "firefox"
	WebKit   Engine = "webkit"
)

// Valid reports whether e names a known engine.
func (e Engine) Valid() bool {
	switch e {
	case Chromium, Firefox, WebKit:
		return true
	}
	return false
}

// Geometry is a window size and its offset on screen.
type Geometry struct {
	Width  int
	Height int
	X      int
	Y      int
}

// PortProber reports whether something on localhost is already listening
// on a port.
type PortProber interface {
	InUse(port int) bool
}

// TCPPortProber dials localhost to detect a bound port.
type TCPPortProber struct {
	Timeout time.Duration
}

// InUse returns true when a TCP connection to localhost:port succeeds.
func (p TCPPortProber) InUse(port int) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Options selects the overlays applied on top of an engine's baseline.
type Options struct {
	Engine          Engine
	Headless        bool
	DisableSecurity bool
	Deterministic   bool
	Containerized   bool

	// Window adds --window-position/--window-size for Chromium when set.
	Window *Geometry

	// ProbeDebugPort drops the debugging-port flags when the port is
	// already bound on localhost.
	ProbeDebugPort bool

	// Extra is appended last.
	Extra []string
}

// Builder computes launch arguments for an engine.
type Builder struct {
	ports PortProber
}

// NewBuilder returns a Builder. A nil prober uses TCPPortProber.
func NewBuilder(ports PortProber) *Builder {
	if ports == nil {
		ports = TCPPortProber{}
	}
	return &Builder{ports: ports}
}

// Build returns the duplicate-free argument list for opts. The first
// occurrence of a flag fixes its position; relative order across overlays
// is otherwise not significant to the engines.
func (b *Builder) Build(opts Options) []string {
	switch opts.Engine {
	case Firefox:
		return Unique([]string{FirefoxNoRemote}, opts.Extra)
	case WebKit:
		return Unique([]string{WebKitNoStartupWindow}, opts.Extra)
	}

	groups := [][]string{ChromeBaseArgs}
	if opts.Containerized {
		groups = append(groups, ChromeDockerArgs)
	}
	if opts.Headless {
		groups = append(groups, ChromeHeadlessArgs)
	}
	if opts.DisableSecurity {
		groups = append(groups, ChromeDisableSecurityArgs)
	}
	if opts.Deterministic {
		groups = append(groups, ChromeDeterministicArgs)
	}
	if opts.Window != nil {
		groups = append(groups, WindowArgs(*opts.Window))
	}
	groups = append(groups, opts.Extra)

	args := Unique(groups...)
	if opts.ProbeDebugPort && b.ports.InUse(DebugPort) {
		args = Without(args, FlagDebugPort, FlagDebugAddress)
	}
	return args
}

// WindowArgs returns the window position and size flags for g.
func WindowArgs(g Geometry) []string {
	return []string{
		fmt.Sprintf("--window-position=%d,%d", g.X, g.Y),
		fmt.Sprintf("--window-size=%d,%d", g.Width, g.Height),
	}
}

// ProfileDirectoryArg returns the Chromium flag selecting a named profile.
func ProfileDirectoryArg(name string) string {
	return "--profile-directory=" + name
}

// Unique concatenates groups, keeping only the first occurrence of each arg.
func Unique(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, arg := range group {
			if _, ok := seen[arg]; ok {
				continue
			}
			seen[arg] = struct{}{}
			out = append(out, arg)
		}
	}
	return out
}

// Without returns args minus every occurrence of flags.
func Without(args []string, flags ...string) []string {
	drop := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		drop[f] = struct{}{}
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if _, ok := drop[arg]; ok {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// Contains reports whether flag is present in args.
func Contains(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

type containerEnv struct {
	InDocker string `envconfig:"IN_DOCKER" default:"false"`
}

// InContainer reports whether the IN_DOCKER environment flag is set. Any
// value starting with t, y or 1 counts as true.
func InContainer() bool {
	var env containerEnv
	if err := envconfig.Process("", &env); err != nil {
		return false
	}
	return ParseContainerFlag(env.InDocker)
}

// ParseContainerFlag interprets an IN_DOCKER value.
func ParseContainerFlag(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	return strings.ContainsRune("ty1", rune(value[0]))
}
