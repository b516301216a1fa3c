package browser

import (
	"time"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/spf13/afero"
)

// Option customizes a Browser.
type Option func(*Browser)

// WithDriver sets the protocol driver. The default is PlaywrightDriver.
func WithDriver(d Driver) Option {
	return func(b *Browser) { b.driver = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Browser) { b.log = l }
}

// WithTarget overrides the connection target resolved from the Config.
func WithTarget(t Target) Option {
	return func(b *Browser) { b.target = t }
}

// WithPortProber sets how the managed launch detects a bound debugging port.
func WithPortProber(p launch.PortProber) Option {
	return func(b *Browser) { b.ports = p }
}

// WithEndpointProber sets how the local-binary strategy probes the
// debugging endpoint.
func WithEndpointProber(p EndpointProber) Option {
	return func(b *Browser) { b.endpoint = p }
}

// WithSpawner sets how the local-binary strategy starts the binary.
func WithSpawner(s Spawner) Option {
	return func(b *Browser) { b.spawner = s }
}

// WithScreen sets the screen geometry source for headful managed launches.
func WithScreen(s ScreenProber) Option {
	return func(b *Browser) { b.screen = s }
}

// WithFs sets the filesystem user-data directories live on.
func WithFs(fs afero.Fs) Option {
	return func(b *Browser) { b.fs = fs }
}

// WithClients sets the registry outbound clients are tracked in and reaped
// from. The default is DefaultClients.
func WithClients(r *ClientRegistry) Option {
	return func(b *Browser) {
		b.clients = r
		b.reaper = r
	}
}

// WithReaper replaces only the reap step of Close.
func WithReaper(r Reaper) Option {
	return func(b *Browser) { b.reaper = r }
}

// WithMetrics sets the metrics sink. The default is unregistered.
func WithMetrics(m *Metrics) Option {
	return func(b *Browser) { b.metrics = m }
}

// WithContainerized overrides IN_DOCKER detection.
func WithContainerized(v bool) Option {
	return func(b *Browser) { b.containerized = &v }
}

// WithPolling sets the local-binary endpoint polling budget.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(b *Browser) {
		b.pollInterval = interval
		b.pollAttempts = attempts
	}
}
