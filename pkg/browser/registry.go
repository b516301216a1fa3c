package browser

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"sync"
	"weak"

	"github.com/entrhq/browseruse/pkg/logging"
)

// ClientRegistry tracks outbound clients without keeping them alive, so a
// closing Browser can release their sockets.
//
// Reaping is best effort: a client that was never registered, or that the
// garbage collector already reclaimed, is simply not seen.
type ClientRegistry struct {
	mu      sync.Mutex
	entries []*clientEntry
	log     *logging.Logger
}

type clientEntry struct {
	// close returns false when the client has been collected.
	close func() (alive bool, err error)
	// reusable entries stay registered after a reap while still alive.
	reusable bool
}

// DefaultClients is the process-wide registry used when a Browser is not
// given one.
var DefaultClients = NewClientRegistry(nil)

// NewClientRegistry returns an empty registry. A nil logger discards.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	if log == nil {
		log = logging.Discard("reaper")
	}
	return &ClientRegistry{log: log}
}

// Track records a weak reference to c. P is the pointer type of T so the
// registry never holds c strongly.
//
// Track is for clients opened by callers next to a Browser, such as a
// websocket or gRPC connection used by an agent step. Registering them in
// the Browser's registry (DefaultClients unless WithClients is given) makes
// Close release them. The Browser itself only opens HTTP clients and
// registers those with TrackHTTP.
func Track[T any, P interface {
	*T
	io.Closer
}](r *ClientRegistry, c P) {
	if r == nil || c == nil {
		return
	}
	ref := weak.Make((*T)(c))
	r.add(false, func() (bool, error) {
		v := ref.Value()
		if v == nil {
			return false, nil
		}
		return true, P(v).Close()
	})
}

// TrackHTTP records a weak reference to an *http.Client. Reaping closes its
// idle connections. The client can open new ones afterwards, so it stays
// registered until it is collected.
func (r *ClientRegistry) TrackHTTP(c *http.Client) {
	if r == nil || c == nil {
		return
	}
	ref := weak.Make(c)
	r.add(true, func() (bool, error) {
		v := ref.Value()
		if v == nil {
			return false, nil
		}
		v.CloseIdleConnections()
		return true, nil
	})
}

func (r *ClientRegistry) add(reusable bool, closeFn func() (bool, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &clientEntry{close: closeFn, reusable: reusable})
}

// Len returns the number of registered entries, including collected ones
// that have not been swept yet.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reap closes every tracked client still alive and returns how many it
// closed. Closers are forgotten once reaped. HTTP clients stay registered
// until collected so later reaps release their new connections. Close
// failures are logged at debug level and otherwise ignored. A cancelled ctx
// stops the walk and keeps the unvisited entries for the next call.
func (r *ClientRegistry) Reap(ctx context.Context) int {
	// Collect first so unreachable clients drop out of the walk.
	runtime.GC()

	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var keep []*clientEntry
	closed := 0
	for i, e := range entries {
		if ctx.Err() != nil {
			keep = append(keep, entries[i:]...)
			break
		}

		alive, err := e.close()
		if !alive {
			continue
		}
		if e.reusable {
			keep = append(keep, e)
		}
		if err != nil {
			r.log.Debugf("Failed to close client during reap: %v", err)
			continue
		}
		closed++
	}

	r.mu.Lock()
	r.entries = append(keep, r.entries...)
	r.mu.Unlock()

	if closed > 0 {
		r.log.Debugf("Reaped %d outbound clients", closed)
	}
	return closed
}
