package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mural-io/mural/board"
	"github.com/mural-io/mural/clock"
	"github.com/mural-io/mural/peers"
)

type fakeMerger struct {
	mu       sync.Mutex
	msgs     map[string]board.Message
	failWith error
}

func newFakeMerger() *fakeMerger {
	return &fakeMerger{msgs: make(map[string]board.Message)}
}

func (f *fakeMerger) MergeRemote(msgs []board.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	added := 0
	for _, m := range msgs {
		if _, ok := f.msgs[m.ID]; !ok {
			f.msgs[m.ID] = m
			added++
		}
	}
	return added, nil
}

func (f *fakeMerger) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.msgs[id]
	return ok
}

type fakeState struct{ offline bool }

func (s *fakeState) Offline() bool { return s.offline }

func snapshotPeer(t *testing.T, nodeID string, msgs []board.Message) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/snapshot" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(board.SnapshotResponse{NodeID: nodeID, Messages: msgs})
	}))
}

func testConfig() Config {
	return Config{NodeID: "node1", PullTimeout: time.Second}
}

func remoteMessage(id string, counter uint64, node string) board.Message {
	return board.Message{
		ID:        id,
		Author:    "bob",
		Content:   "hi",
		Timestamp: clock.Timestamp{Counter: counter, NodeID: node},
		Origin:    node,
	}
}

func TestReconcileWithPullsAndMerges(t *testing.T) {
	msgs := []board.Message{
		remoteMessage("node2-1-x", 1, "node2"),
		remoteMessage("node2-2-x", 2, "node2"),
	}
	peer := snapshotPeer(t, "node2", msgs)
	defer peer.Close()

	registry := peers.NewRegistry(3)
	registry.Add("node2", peer.URL)
	merger := newFakeMerger()
	s := New(testConfig(), merger, registry, &fakeState{})

	added, err := s.ReconcileWith(context.Background(), peers.Peer{ID: "node2", Addr: peer.URL})
	if err != nil {
		t.Fatalf("ReconcileWith failed: %v", err)
	}
	if added != 2 {
		t.Errorf("Expected 2 adopted messages, got %d", added)
	}
	if !merger.has("node2-1-x") || !merger.has("node2-2-x") {
		t.Error("Merged messages missing")
	}

	// A second round is a fixed point.
	added, err = s.ReconcileWith(context.Background(), peers.Peer{ID: "node2", Addr: peer.URL})
	if err != nil {
		t.Fatalf("Second ReconcileWith failed: %v", err)
	}
	if added != 0 {
		t.Errorf("Expected 0 adopted on repeat, got %d", added)
	}
}

func TestReconcileAllSurvivesPeerFailure(t *testing.T) {
	good := snapshotPeer(t, "node2", []board.Message{remoteMessage("node2-1-x", 1, "node2")})
	defer good.Close()

	registry := peers.NewRegistry(3)
	registry.Add("node2", good.URL)
	registry.Add("node3", "http://127.0.0.1:1") // connection refused

	merger := newFakeMerger()
	s := New(testConfig(), merger, registry, &fakeState{})

	added, err := s.ReconcileAll(context.Background())
	if added != 1 {
		t.Errorf("Reachable peer should still be merged, got %d added", added)
	}

	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("Expected PartialError, got %v", err)
	}
	if _, ok := partial.Failures["node3"]; !ok {
		t.Errorf("Expected node3 in failures, got %+v", partial.Failures)
	}
	if len(partial.Failures) != 1 {
		t.Errorf("Expected exactly one failure, got %d", len(partial.Failures))
	}

	p, _ := registry.Get("node2")
	if !p.Reachable {
		t.Error("Good peer should remain reachable")
	}
}

func TestReconcileAllSkipsWhileOffline(t *testing.T) {
	var hits int
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(board.SnapshotResponse{NodeID: "node2"})
	}))
	defer peer.Close()

	registry := peers.NewRegistry(3)
	registry.Add("node2", peer.URL)
	s := New(testConfig(), newFakeMerger(), registry, &fakeState{offline: true})

	added, err := s.ReconcileAll(context.Background())
	if err != nil || added != 0 {
		t.Errorf("Offline reconcile should be a no-op, got added=%d err=%v", added, err)
	}
	if hits != 0 {
		t.Errorf("Offline node should not pull, peer saw %d request(s)", hits)
	}
}

func TestMergeFailureDoesNotMarkPeerDown(t *testing.T) {
	peer := snapshotPeer(t, "node2", []board.Message{remoteMessage("node2-1-x", 1, "node2")})
	defer peer.Close()

	registry := peers.NewRegistry(1) // single failure would flip reachability
	registry.Add("node2", peer.URL)

	merger := newFakeMerger()
	merger.failWith = errors.New("disk full")
	s := New(testConfig(), merger, registry, &fakeState{})

	if _, err := s.ReconcileWith(context.Background(), peers.Peer{ID: "node2", Addr: peer.URL}); err == nil {
		t.Fatal("Expected merge failure to surface")
	}
	p, _ := registry.Get("node2")
	if !p.Reachable {
		t.Error("Local persistence failure must not flag the peer unreachable")
	}
}

func TestPeriodicLoopReconciles(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		json.NewEncoder(w).Encode(board.SnapshotResponse{NodeID: "node2"})
	}))
	defer peer.Close()

	registry := peers.NewRegistry(3)
	registry.Add("node2", peer.URL)

	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	s := New(cfg, newFakeMerger(), registry, &fakeState{})
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := hits
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Periodic loop never reconciled")
}
