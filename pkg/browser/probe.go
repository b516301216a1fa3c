package browser

import (
	"context"
	"net/http"
	"time"

	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/go-resty/resty/v2"
)

// DebugEndpoint is the fixed local debugging endpoint a spawned Chromium
// binary listens on.
const DebugEndpoint = "http://localhost:9222"

const probeTimeout = 2 * time.Second

// EndpointProber reports whether the debugging endpoint answers.
type EndpointProber interface {
	Ready(ctx context.Context) bool
}

// HTTPEndpointProber probes GET <base>/json/version.
type HTTPEndpointProber struct {
	client *resty.Client
	log    *logging.Logger
}

// NewEndpointProber returns a prober for baseURL with a short per-request
// timeout. Its HTTP client is registered with clients so closing the
// Browser releases the probe's sockets.
func NewEndpointProber(baseURL string, clients *ClientRegistry, log *logging.Logger) *HTTPEndpointProber {
	if log == nil {
		log = logging.Discard("probe")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(probeTimeout).
		SetLogger(log)
	clients.TrackHTTP(client.GetClient())
	return &HTTPEndpointProber{client: client, log: log}
}

// Ready returns true only for a 200 response. Any other status, transport
// error or timeout means the endpoint is not ready.
func (p *HTTPEndpointProber) Ready(ctx context.Context) bool {
	resp, err := p.client.R().
		SetContext(ctx).
		Get("/json/version")
	if err != nil {
		p.log.Debugf("Debug endpoint not reachable: %v", err)
		return false
	}
	if resp.StatusCode() != http.StatusOK {
		p.log.Debugf("Debug endpoint answered %d", resp.StatusCode())
		return false
	}
	return true
}
