package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/mural-io/mural/auth"
	"github.com/mural-io/mural/board"
	"github.com/mural-io/mural/storage"
	"github.com/mural-io/mural/telemetry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, board.ErrorResponse{Error: msg})
}

// Handler returns the node's HTTP surface: client endpoints, the
// node-to-node replication endpoints under /internal/, and admin.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /login", telemetry.Instrument("login", http.HandlerFunc(n.handleLogin)))
	mux.Handle("POST /messages", telemetry.Instrument("post", http.HandlerFunc(n.handlePostMessage)))
	mux.Handle("GET /messages", telemetry.Instrument("list", http.HandlerFunc(n.handleListMessages)))

	mux.Handle("POST /internal/push", telemetry.Instrument("push", http.HandlerFunc(n.handlePush)))
	mux.Handle("GET /internal/snapshot", telemetry.Instrument("snapshot", http.HandlerFunc(n.handleSnapshot)))

	mux.Handle("POST /admin/offline", telemetry.Instrument("admin", http.HandlerFunc(n.handleOffline)))
	mux.Handle("POST /admin/online", telemetry.Instrument("admin", http.HandlerFunc(n.handleOnline)))
	mux.Handle("POST /admin/reconcile", telemetry.Instrument("admin", http.HandlerFunc(n.handleReconcile)))

	mux.Handle("GET /peers", telemetry.Instrument("peers", http.HandlerFunc(n.handlePeers)))
	mux.HandleFunc("GET /healthz", n.handleHealthz)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())

	return mux
}

func (n *Node) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req board.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	token, err := n.gate.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, board.LoginResponse{Token: token})
}

func (n *Node) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	user, err := n.gate.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req board.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	msg, err := n.Publish(user, content)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			// Defensive: indicates an id-generation bug, not client error.
			log.Printf("[%s] duplicate message id on publish: %v", n.id, err)
			writeError(w, http.StatusConflict, "duplicate message id")
			return
		}
		log.Printf("[%s] failed to persist message: %v", n.id, err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (n *Node) handleListMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, board.MessagesResponse{Messages: n.store.OrderedView()})
}

// handlePush is the peer ingest endpoint. Idempotent by message id.
// While the node simulates an outage it refuses ingest with 503 so
// partners observe it as down.
func (n *Node) handlePush(w http.ResponseWriter, r *http.Request) {
	if n.Offline() {
		writeError(w, http.StatusServiceUnavailable, "node not accepting replication (simulated down)")
		return
	}

	var req board.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message.ID == "" {
		writeError(w, http.StatusBadRequest, "message id required")
		return
	}

	added, err := n.MergeRemote([]board.Message{req.Message})
	if err != nil {
		log.Printf("[%s] failed to ingest %s from %s: %v", n.id, req.Message.ID, req.From, err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	if added > 0 {
		telemetry.MessagesMerged.Inc()
		log.Printf("[%s] replicated message %s from %s", n.id, req.Message.ID, req.From)
	}
	writeJSON(w, http.StatusOK, board.PushResponse{Status: "ok", Added: added > 0})
}

// handleSnapshot serves the full message set for anti-entropy pulls.
// Served even while offline, matching read availability during outages.
func (n *Node) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, board.SnapshotResponse{
		NodeID:   n.id,
		Messages: n.store.Snapshot(),
	})
}

func (n *Node) handleOffline(w http.ResponseWriter, r *http.Request) {
	n.GoOffline()
	writeJSON(w, http.StatusOK, map[string]string{"status": "replication disabled (simulated down)"})
}

func (n *Node) handleOnline(w http.ResponseWriter, r *http.Request) {
	n.GoOnline()
	writeJSON(w, http.StatusOK, map[string]string{"status": "replication enabled, reconciling with peers"})
}

func (n *Node) handleReconcile(w http.ResponseWriter, r *http.Request) {
	added, err := n.recon.ReconcileAll(context.Background())
	if err != nil {
		log.Printf("[%s] forced reconciliation: %v", n.id, err)
		writeJSON(w, http.StatusOK, board.ReconcileResponse{Status: "partial", Added: added})
		return
	}
	writeJSON(w, http.StatusOK, board.ReconcileResponse{Status: "ok", Added: added})
}

func (n *Node) handlePeers(w http.ResponseWriter, r *http.Request) {
	list := n.registry.List()
	out := make([]board.PeerStatus, 0, len(list))
	for _, p := range list {
		out = append(out, board.PeerStatus{
			ID:                  p.ID,
			Addr:                p.Addr,
			Reachable:           p.Reachable,
			ConsecutiveFailures: p.ConsecutiveFailures,
		})
	}
	writeJSON(w, http.StatusOK, board.PeersResponse{Peers: out})
}

func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
