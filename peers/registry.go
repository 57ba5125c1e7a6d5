// Package peers tracks the configured peer set and each peer's believed
// reachability, fed by the outcome of every replication push and
// reconciliation pull.
package peers

import "sync"

// DefaultFailureThreshold is how many consecutive failures it takes to
// mark a peer unreachable. A single transient error does not flap a
// peer's state.
const DefaultFailureThreshold = 3

// Peer is one remote node as this node sees it.
type Peer struct {
	ID                  string
	Addr                string // http base url, e.g. http://127.0.0.1:8081
	Reachable           bool
	ConsecutiveFailures int
}

// Registry holds the peer set in insertion order. Safe for concurrent
// use. The set is static after startup; only the reachability state
// mutates.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	peers     map[string]*Peer
	threshold int
}

// NewRegistry creates an empty registry. A threshold <= 0 falls back to
// DefaultFailureThreshold.
func NewRegistry(threshold int) *Registry {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Registry{
		peers:     make(map[string]*Peer),
		threshold: threshold,
	}
}

// Add registers a peer. Peers start out as reachable; the first pushes
// or pulls will correct that if the peer is down. Re-adding an existing
// ID updates the address only.
func (r *Registry) Add(id, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, exists := r.peers[id]; exists {
		p.Addr = addr
		return
	}
	r.peers[id] = &Peer{ID: id, Addr: addr, Reachable: true}
	r.order = append(r.order, id)
}

// List returns a copy of the peer entries in insertion order.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.peers[id])
	}
	return out
}

// Get returns a copy of one peer entry.
func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// MarkResult records the outcome of a network attempt against a peer.
// Success resets the failure count and restores reachability; failures
// accumulate and flip the peer to unreachable once the threshold is
// crossed.
func (r *Registry) MarkResult(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return
	}
	if success {
		p.ConsecutiveFailures = 0
		p.Reachable = true
		return
	}
	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= r.threshold {
		p.Reachable = false
	}
}

// Len returns the number of configured peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
