// Package reconcile implements the anti-entropy protocol: pull each
// reachable peer's full message set and merge it into the local store.
//
// Reconciliation runs when the node transitions back online after a
// simulated outage, on demand via the admin surface, and optionally on a
// periodic timer to heal partial push losses. Because merge is a set
// union, repeated rounds are safe and reach a fixed point once all
// reachable peers are in sync.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mural-io/mural/board"
	"github.com/mural-io/mural/peers"
	"github.com/mural-io/mural/telemetry"
)

// Merger adopts messages pulled from a peer. Satisfied by the server
// node, which advances its Lamport clock before merging into the store.
type Merger interface {
	MergeRemote(msgs []board.Message) (int, error)
}

// NodeState reports the node's own simulated-outage flag.
type NodeState interface {
	Offline() bool
}

// PartialError reports that one or more peers could not be reconciled
// with. Not fatal: the merged peers took effect, and the failed ones are
// retried on the next trigger.
type PartialError struct {
	Failures map[string]error
}

func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("reconciliation failed for %d peer(s): %s",
		len(ids), strings.Join(ids, ", "))
}

// Config holds service tuning.
type Config struct {
	NodeID      string
	PullTimeout time.Duration
	Interval    time.Duration // 0 disables the periodic loop
}

// Service pulls snapshots from peers and merges them locally.
type Service struct {
	cfg      Config
	merger   Merger
	registry *peers.Registry
	state    NodeState
	client   *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciliation service.
func New(cfg Config, merger Merger, registry *peers.Registry, state NodeState) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		merger:   merger,
		registry: registry,
		state:    state,
		client:   &http.Client{Timeout: cfg.PullTimeout},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the periodic loop, if an interval is configured.
func (s *Service) Start() {
	if s.cfg.Interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReconcileAll(s.ctx); err != nil {
					log.Printf("[%s] periodic reconciliation: %v", s.cfg.NodeID, err)
				}
			}
		}
	}()
}

// Stop stops the periodic loop.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

// ReconcileWith pulls one peer's full snapshot and merges it. Returns
// the number of newly-adopted messages.
func (s *Service) ReconcileWith(ctx context.Context, p peers.Peer) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Addr+"/internal/snapshot", nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.registry.MarkResult(p.ID, false)
		telemetry.ReconcilesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to pull snapshot from %s: %w", p.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.registry.MarkResult(p.ID, false)
		telemetry.ReconcilesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("snapshot from %s returned status %d", p.ID, resp.StatusCode)
	}

	var snap board.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		s.registry.MarkResult(p.ID, false)
		telemetry.ReconcilesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to decode snapshot from %s: %w", p.ID, err)
	}

	added, err := s.merger.MergeRemote(snap.Messages)
	if err != nil {
		// Persistence failure, not a peer failure; leave reachability alone.
		telemetry.ReconcilesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to merge snapshot from %s: %w", p.ID, err)
	}

	s.registry.MarkResult(p.ID, true)
	telemetry.ReconcilesTotal.WithLabelValues("ok").Inc()
	if added > 0 {
		telemetry.MessagesMerged.Add(float64(added))
		log.Printf("[%s] reconciled with %s, adopted %d message(s)", s.cfg.NodeID, p.ID, added)
	}
	return added, nil
}

// ReconcileAll reconciles with every configured peer in parallel. A
// peer's failure does not block the others. Returns the total number of
// adopted messages, and a *PartialError if any peer failed.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	if s.state.Offline() {
		log.Printf("[%s] offline, skipping reconciliation", s.cfg.NodeID)
		return 0, nil
	}

	list := s.registry.List()
	if len(list) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		total    int
		failures = make(map[string]error)
		wg       sync.WaitGroup
	)
	for _, p := range list {
		wg.Add(1)
		go func(p peers.Peer) {
			defer wg.Done()
			added, err := s.ReconcileWith(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[p.ID] = err
				return
			}
			total += added
		}(p)
	}
	wg.Wait()

	if len(failures) > 0 {
		return total, &PartialError{Failures: failures}
	}
	return total, nil
}
