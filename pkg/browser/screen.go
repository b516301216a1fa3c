package browser

import (
	"os/exec"
	"regexp"
	"runtime"
	"strconv"

	"github.com/entrhq/browseruse/pkg/browser/launch"
)

// Fallback screen size, also used for every headless launch.
const (
	FallbackScreenWidth  = 1920
	FallbackScreenHeight = 1080
)

// ScreenProber reports the geometry a headful window should take.
type ScreenProber interface {
	Geometry() launch.Geometry
}

// StaticScreen always returns the same geometry.
type StaticScreen launch.Geometry

// Geometry implements ScreenProber.
func (s StaticScreen) Geometry() launch.Geometry {
	return launch.Geometry(s)
}

// HostScreen asks the display server for the primary screen size and
// offsets the window for the platform's window decorations.
type HostScreen struct {
	// query returns raw xrandr output; replaced in tests.
	query func() ([]byte, error)
}

var xrandrCurrent = regexp.MustCompile(`current (\d+) x (\d+)`)

// Geometry implements ScreenProber. It falls back to 1920x1080 when the
// size cannot be read.
func (h HostScreen) Geometry() launch.Geometry {
	g := launch.Geometry{Width: FallbackScreenWidth, Height: FallbackScreenHeight}
	g.X, g.Y = windowOffset(runtime.GOOS)

	query := h.query
	if query == nil {
		query = func() ([]byte, error) { return exec.Command("xrandr", "--current").Output() }
	}
	out, err := query()
	if err != nil {
		return g
	}
	m := xrandrCurrent.FindSubmatch(out)
	if m == nil {
		return g
	}
	w, errW := strconv.Atoi(string(m[1]))
	ht, errH := strconv.Atoi(string(m[2]))
	if errW != nil || errH != nil || w == 0 || ht == 0 {
		return g
	}
	g.Width, g.Height = w, ht
	return g
}

func windowOffset(goos string) (int, int) {
	switch goos {
	case "darwin":
		return -4, 24
	case "windows":
		return -8, 0
	default:
		return 0, 0
	}
}
