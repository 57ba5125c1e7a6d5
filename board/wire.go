package board

// Wire shapes for the node-to-node replication endpoints and the client
// surface. Everything is JSON over HTTP.

// PushRequest replicates a single message to a peer's ingest endpoint.
type PushRequest struct {
	Message Message `json:"message"`
	From    string  `json:"from"`
}

// PushResponse acknowledges a push. Added is false when the receiver
// already held the message, which is not an error.
type PushResponse struct {
	Status string `json:"status"`
	Added  bool   `json:"added"`
}

// SnapshotResponse carries a node's full message set, used as the
// anti-entropy reconciliation payload.
type SnapshotResponse struct {
	NodeID   string    `json:"node_id"`
	Messages []Message `json:"messages"`
}

// LoginRequest authenticates a client.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns the session token to present as a Bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// PostRequest creates a new message on behalf of the authenticated user.
type PostRequest struct {
	Content string `json:"content"`
}

// MessagesResponse lists messages in display order.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ReconcileResponse reports a forced reconciliation round.
type ReconcileResponse struct {
	Status string `json:"status"`
	Added  int    `json:"added"`
}

// PeerStatus is one entry of the /peers view.
type PeerStatus struct {
	ID                  string `json:"id"`
	Addr                string `json:"addr"`
	Reachable           bool   `json:"reachable"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// PeersResponse lists the configured peer set with reachability state.
type PeersResponse struct {
	Peers []PeerStatus `json:"peers"`
}

// ErrorResponse is the JSON error body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
