// Package server wires the node together: local store, clock, auth
// gate, peer registry, replication and reconciliation, plus the HTTP
// surface for clients, peers and admin.
package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mural-io/mural/auth"
	"github.com/mural-io/mural/board"
	"github.com/mural-io/mural/clock"
	"github.com/mural-io/mural/config"
	"github.com/mural-io/mural/peers"
	"github.com/mural-io/mural/reconcile"
	"github.com/mural-io/mural/replication"
	"github.com/mural-io/mural/storage"
)

// Node is one member of the board fleet. Every node is symmetric: it
// accepts client writes, replicates them to peers, and reconciles with
// peers after simulated outages.
type Node struct {
	id       string
	store    *storage.Store
	clock    *clock.Clock
	gate     *auth.Gate
	registry *peers.Registry
	repl     *replication.Manager
	recon    *reconcile.Service

	mu      sync.RWMutex
	offline bool
}

// New builds a node from configuration, loading persisted state and
// seeding the clock so restarts never reissue counters.
func New(cfg *config.Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	n := &Node{
		id:       cfg.NodeID,
		store:    store,
		clock:    clock.New(cfg.NodeID),
		gate:     auth.NewGate(cfg.Users),
		registry: peers.NewRegistry(cfg.FailureThreshold),
	}
	n.clock.Observe(store.MaxCounter())
	if store.Len() > 0 {
		log.Printf("[%s] loaded %d persisted message(s), clock at %d",
			n.id, store.Len(), n.clock.Current())
	}

	for _, p := range cfg.Peers {
		n.registry.Add(p.ID, p.Addr)
	}

	n.repl = replication.NewManager(replication.Config{
		NodeID:      cfg.NodeID,
		Workers:     cfg.ReplicationWorkers,
		MaxAttempts: cfg.PushMaxAttempts,
		BackoffBase: cfg.PushBackoffBase,
		BackoffCap:  cfg.PushBackoffCap,
		PushTimeout: cfg.PushTimeout,
	}, n.registry, n)

	n.recon = reconcile.New(reconcile.Config{
		NodeID:      cfg.NodeID,
		PullTimeout: cfg.PullTimeout,
		Interval:    cfg.ReconcileInterval,
	}, n, n.registry, n)

	return n, nil
}

// Start launches the replication workers and, if configured, the
// periodic reconciliation loop.
func (n *Node) Start() {
	n.repl.Start()
	n.recon.Start()
}

// Close stops background work and releases the store.
func (n *Node) Close() error {
	n.recon.Stop()
	n.repl.Stop()
	return n.store.Close()
}

// ID returns the node id.
func (n *Node) ID() string {
	return n.id
}

// AddPeer registers a peer after construction. Used by tests that learn
// peer addresses only once their listeners are up.
func (n *Node) AddPeer(id, addr string) {
	n.registry.Add(id, addr)
}

// Offline reports whether replication is simulated as down. Implements
// replication.NodeState and reconcile.NodeState.
func (n *Node) Offline() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.offline
}

// GoOffline disables replication. Local writes keep being accepted and
// persisted; outbound pushes are suppressed and inbound pushes refused.
func (n *Node) GoOffline() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.offline {
		n.offline = true
		log.Printf("[%s] going offline (simulated)", n.id)
	}
}

// GoOnline clears the offline flag and then reconciles with every peer
// in the background. The ordering matters: the flag must be clear before
// the pull so the round is not skipped.
func (n *Node) GoOnline() {
	n.mu.Lock()
	wasOffline := n.offline
	n.offline = false
	n.mu.Unlock()

	if !wasOffline {
		return
	}
	log.Printf("[%s] back online, reconciling with peers", n.id)
	go func() {
		if _, err := n.recon.ReconcileAll(context.Background()); err != nil {
			log.Printf("[%s] catch-up reconciliation: %v", n.id, err)
		}
	}()
}

// Publish creates, persists and asynchronously replicates a message
// authored by the given user. This is the client write path; it returns
// once the message is durable locally.
func (n *Node) Publish(author, content string) (board.Message, error) {
	msg := board.New(author, content, n.clock.Next(), n.id)
	if err := n.store.Insert(msg); err != nil {
		return board.Message{}, err
	}
	n.repl.OnLocalWrite(msg)
	return msg, nil
}

// MergeRemote adopts messages received from a peer, advancing the
// Lamport clock past the highest counter seen before merging. Implements
// reconcile.Merger; also used by the push ingest handler.
func (n *Node) MergeRemote(msgs []board.Message) (int, error) {
	n.clock.Observe(board.MaxCounter(msgs))
	return n.store.Merge(msgs)
}
