package bridge

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"github.com/google/uuid"
)

// Registry maps identifiers to bridges. Bridges waiting for a client are
// pending; consumed bridges stay tracked as active until teardown so that
// shutdown can reach them.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Bridge
	active  map[string]*Bridge
	nowFunc func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*Bridge),
		active:  make(map[string]*Bridge),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock used by SweepStale (for testing).
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}

// Register stores b under a fresh random identifier and returns it.
func (r *Registry) Register(b *Bridge) (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	id := u.String()

	r.mu.Lock()
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		r.mu.Unlock()
		return "", ErrClosed
	}
	if b.id != "" {
		existing := b.id
		b.mu.Unlock()
		r.mu.Unlock()
		return "", fmt.Errorf("bridge already registered as %s", logutil.Fingerprint(existing))
	}
	b.id = id
	b.registry = r
	b.mu.Unlock()
	r.pending[id] = b
	r.mu.Unlock()

	log.Printf("[registry] registered %s for %s", logutil.Fingerprint(id), b.session.Addr())
	return id, nil
}

// Consume hands out the pending bridge for id. Every later call for the same
// id returns ErrNotFound.
func (r *Registry) Consume(id string) (*Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.pending, id)
	r.active[id] = b
	return b, nil
}

// Remove forgets id. It is idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
	delete(r.active, id)
}

// Pending returns the number of bridges waiting for a client.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Active returns the number of consumed bridges not yet torn down.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) + len(r.active)
}

// List returns stats of every tracked bridge, oldest first.
func (r *Registry) List() []Stats {
	r.mu.Lock()
	bridges := make([]*Bridge, 0, len(r.pending)+len(r.active))
	for _, b := range r.pending {
		bridges = append(bridges, b)
	}
	for _, b := range r.active {
		bridges = append(bridges, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SweepStale closes pending bridges registered more than maxAge ago and
// returns how many were closed.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	r.mu.Lock()
	cutoff := r.nowFunc().Add(-maxAge)
	var stale []*Bridge
	for id, b := range r.pending {
		if b.createdAt.Before(cutoff) {
			// Unreachable for Consume before it is closed.
			delete(r.pending, id)
			stale = append(stale, b)
		}
	}
	r.mu.Unlock()

	for _, b := range stale {
		log.Printf("[registry] closing %s: no client attached within %s", b.label(), maxAge)
		b.Close(fmt.Sprintf("no client attached within %s", maxAge))
	}
	return len(stale)
}

// CloseAll closes every tracked bridge and returns how many were closed.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	all := make([]*Bridge, 0, len(r.pending)+len(r.active))
	for _, b := range r.pending {
		all = append(all, b)
	}
	for _, b := range r.active {
		all = append(all, b)
	}
	r.mu.Unlock()

	for _, b := range all {
		b.Close(reason)
	}
	if len(all) > 0 {
		log.Printf("[registry] closed %d sessions: %s", len(all), reason)
	}
	return len(all)
}
