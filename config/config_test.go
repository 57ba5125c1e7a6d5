package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("Expected default listen addr :8080, got %s", cfg.ListenAddr)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("Expected default data dir './data', got %s", cfg.DataDir)
	}

	if cfg.PushBackoffBase != 200*time.Millisecond {
		t.Errorf("Expected default push backoff base 200ms, got %s", cfg.PushBackoffBase)
	}

	if cfg.PushMaxAttempts != 5 {
		t.Errorf("Expected default push max attempts 5, got %d", cfg.PushMaxAttempts)
	}

	if cfg.FailureThreshold != 3 {
		t.Errorf("Expected default failure threshold 3, got %d", cfg.FailureThreshold)
	}

	if _, ok := cfg.Users["alice"]; !ok {
		t.Error("Expected demo user alice in default config")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should pass validation: %v", err)
	}

	cfg = DefaultConfig()
	cfg.NodeID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Empty node id should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Peers = []PeerConfig{{ID: cfg.NodeID, Addr: "http://localhost:8082"}}
	if err := cfg.Validate(); err == nil {
		t.Error("Peer list containing self should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Peers = []PeerConfig{
		{ID: "node2", Addr: "http://localhost:8082"},
		{ID: "node2", Addr: "http://localhost:8083"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Duplicate peer ids should fail validation")
	}

	cfg = DefaultConfig()
	cfg.PushMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Zero push attempts should fail validation")
	}

	cfg = DefaultConfig()
	cfg.PushBackoffCap = cfg.PushBackoffBase / 2
	if err := cfg.Validate(); err == nil {
		t.Error("Backoff cap below base should fail validation")
	}

	cfg = DefaultConfig()
	cfg.ReconcileInterval = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Negative reconcile interval should fail validation")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "mural.json")
	content := `{
		"node_id": "node1",
		"listen_addr": ":9001",
		"peers": [{"id": "node2", "addr": "http://localhost:9002"}]
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.NodeID != "node1" {
		t.Errorf("Expected node id node1, got %s", cfg.NodeID)
	}
	if cfg.ListenAddr != ":9001" {
		t.Errorf("Expected listen addr :9001, got %s", cfg.ListenAddr)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].ID != "node2" {
		t.Errorf("Unexpected peers: %+v", cfg.Peers)
	}
	// Untouched fields keep their defaults.
	if cfg.PushMaxAttempts != 5 {
		t.Errorf("Expected defaults to survive partial file, got %d", cfg.PushMaxAttempts)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/mural.json"); err == nil {
		t.Error("Missing config file should produce an error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MURAL_NODE_ID", "env-node")
	t.Setenv("MURAL_PEERS", "node2=http://localhost:8082,node3=http://localhost:8083")
	t.Setenv("MURAL_RECONCILE_INTERVAL", "10s")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.NodeID != "env-node" {
		t.Errorf("Expected env node id, got %s", cfg.NodeID)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1].Addr != "http://localhost:8083" {
		t.Errorf("Unexpected peers from env: %+v", cfg.Peers)
	}
	if cfg.ReconcileInterval != 10*time.Second {
		t.Errorf("Expected 10s reconcile interval, got %s", cfg.ReconcileInterval)
	}
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers("node2=http://localhost:8082, node3=http://localhost:8083/")
	if err != nil {
		t.Fatalf("ParsePeers failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(peers))
	}
	if peers[1].Addr != "http://localhost:8083" {
		t.Errorf("Expected trailing slash trimmed, got %s", peers[1].Addr)
	}

	if _, err := ParsePeers("just-an-url"); err == nil {
		t.Error("Peer entry without id= should fail")
	}
}
