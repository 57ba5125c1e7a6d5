// Package replication propagates locally-written messages to every
// configured peer, asynchronously, without blocking the write path.
//
// Delivery is best effort: each push retries transient failures with
// capped exponential backoff and is then abandoned. A message abandoned
// here is never lost — the store remains the source of truth and the
// anti-entropy reconciliation pull recovers it on the receiving side.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/mural-io/mural/board"
	"github.com/mural-io/mural/peers"
	"github.com/mural-io/mural/telemetry"
)

// ErrPeerUnreachable marks transient network failures against a peer.
// Never surfaced to clients; the local write already succeeded.
var ErrPeerUnreachable = errors.New("peer unreachable")

// NodeState reports the node's own simulated-outage flag. While offline
// the manager records nothing and pushes nothing; reconciliation is the
// sole catch-up mechanism after coming back.
type NodeState interface {
	Offline() bool
}

// Config holds manager tuning.
type Config struct {
	NodeID      string
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	PushTimeout time.Duration
}

type task struct {
	peer peers.Peer
	msg  board.Message
}

// Manager dispatches push tasks to a bounded worker pool, one task per
// peer per message.
type Manager struct {
	cfg      Config
	registry *peers.Registry
	state    NodeState
	client   *http.Client

	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. Call Start before the first write and
// Stop on shutdown.
func NewManager(cfg Config, registry *peers.Registry, state NodeState) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		registry: registry,
		state:    state,
		client:   &http.Client{Timeout: cfg.PushTimeout},
		tasks:    make(chan task, 1024),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (m *Manager) Start() {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels pending work and waits for in-flight pushes to wind down.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// OnLocalWrite enqueues one push task per known peer. Never blocks: if
// the queue is full the task is dropped and reconciliation heals the gap
// later. While the node is offline no tasks are enqueued at all.
func (m *Manager) OnLocalWrite(msg board.Message) {
	if m.state.Offline() {
		log.Printf("[%s] offline, suppressing replication of %s", m.cfg.NodeID, msg.ID)
		return
	}
	for _, p := range m.registry.List() {
		select {
		case m.tasks <- task{peer: p, msg: msg}:
		case <-m.ctx.Done():
			return
		default:
			log.Printf("[%s] push queue full, dropping push of %s to %s", m.cfg.NodeID, msg.ID, p.ID)
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-m.tasks:
			m.pushWithRetry(t)
		}
	}
}

// pushWithRetry drives one push to one peer through its retry budget.
func (m *Manager) pushWithRetry(t task) {
	backoff := m.cfg.BackoffBase
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		err := m.pushOnce(t.peer, t.msg)
		if err == nil {
			m.registry.MarkResult(t.peer.ID, true)
			telemetry.PushesTotal.WithLabelValues(t.peer.ID, "ok").Inc()
			return
		}

		m.registry.MarkResult(t.peer.ID, false)
		telemetry.PushesTotal.WithLabelValues(t.peer.ID, "error").Inc()
		log.Printf("[%s] push of %s to %s failed (attempt %d/%d): %v",
			m.cfg.NodeID, t.msg.ID, t.peer.ID, attempt, m.cfg.MaxAttempts, err)

		if attempt == m.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-m.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > m.cfg.BackoffCap {
			backoff = m.cfg.BackoffCap
		}
	}
	telemetry.PushesAbandoned.Inc()
	log.Printf("[%s] giving up push of %s to %s, reconciliation will recover it",
		m.cfg.NodeID, t.msg.ID, t.peer.ID)
}

// pushOnce performs a single POST to the peer's ingest endpoint.
func (m *Manager) pushOnce(p peers.Peer, msg board.Message) error {
	body, err := json.Marshal(board.PushRequest{Message: msg, From: m.cfg.NodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(m.ctx, http.MethodPost,
		p.Addr+"/internal/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrPeerUnreachable, p.ID, resp.StatusCode)
	}
	return nil
}
