package browser

import "errors"

// Configuration errors. They are returned before any connection attempt and
// are never retried.
var (
	ErrInvalidConfig          = errors.New("invalid browser configuration")
	ErrMissingCDPURL          = errors.New("CDP URL is required")
	ErrMissingWSSURL          = errors.New("WSS URL is required")
	ErrMissingBinaryPath      = errors.New("a browser_binary_path is required")
	ErrBinaryRequiresChromium = errors.New("browser_binary_path only supports chromium browsers (make sure browser_class=chromium)")
	ErrBinaryPathConflict     = errors.New("browser_binary_path must be empty when using the built-in browsers")
)

// ErrCDPUnsupported is a permanent incompatibility: Firefox no longer speaks
// the Chrome DevTools Protocol.
var ErrCDPUnsupported = errors.New("CDP has been deprecated for firefox, check: https://fxdx.dev/deprecating-cdp-support-in-firefox-embracing-the-future-with-webdriver-bidi/")

// ErrDebugEndpointUnavailable is returned when a spawned browser never
// exposed its debugging endpoint within the polling budget.
var ErrDebugEndpointUnavailable = errors.New("to start chrome in debug mode, close all existing chrome instances and try again, otherwise the instance cannot be reached")
