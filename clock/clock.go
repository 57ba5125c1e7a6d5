// Package clock implements the Lamport logical clock used to order
// board messages across nodes.
//
// Each timestamp is a (counter, node id) pair. Counters advance on every
// local event and jump forward to the highest counter observed in merged
// remote messages, so the lexicographic (counter, node_id) order is a
// total order consistent with causality on every node.
package clock

import "sync"

// Timestamp is a Lamport timestamp. NodeID breaks ties between counters
// issued concurrently on different nodes.
type Timestamp struct {
	Counter uint64 `json:"counter"`
	NodeID  string `json:"node_id"`
}

// Less reports whether t orders strictly before other under the
// (counter, node_id) lexicographic total order.
func (t Timestamp) Less(other Timestamp) bool {
	if t.Counter != other.Counter {
		return t.Counter < other.Counter
	}
	return t.NodeID < other.NodeID
}

// Clock issues monotonically increasing timestamps for one node.
// Safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	nodeID  string
	counter uint64
}

// New creates a clock for the given node, starting at zero.
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID}
}

// Next increments the counter and returns a timestamp strictly greater
// than every timestamp previously issued or observed on this node.
func (c *Clock) Next() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return Timestamp{Counter: c.counter, NodeID: c.nodeID}
}

// Observe advances the counter to at least the given value. Called with
// the highest counter seen in messages merged from a peer, and with the
// persisted counter on startup.
func (c *Clock) Observe(counter uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counter > c.counter {
		c.counter = counter
	}
}

// Current returns the counter without advancing it.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// NodeID returns the node id stamped into issued timestamps.
func (c *Clock) NodeID() string {
	return c.nodeID
}
