package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PeerConfig identifies one remote node.
type PeerConfig struct {
	ID   string `json:"id"`
	Addr string `json:"addr"` // http base url, e.g. http://127.0.0.1:8082
}

// Config represents the node configuration.
type Config struct {
	// Node identity and HTTP surface
	NodeID     string `json:"node_id"`
	ListenAddr string `json:"listen_addr"`

	// Data storage settings
	DataDir string `json:"data_dir"`

	// Static peer set (excludes self)
	Peers []PeerConfig `json:"peers"`

	// Users allowed to post, username -> password. Demo credentials by
	// default; replace in any real deployment.
	Users map[string]string `json:"users"`

	// Replication settings
	ReplicationWorkers int           `json:"replication_workers"`
	PushTimeout        time.Duration `json:"push_timeout"`
	PushMaxAttempts    int           `json:"push_max_attempts"`
	PushBackoffBase    time.Duration `json:"push_backoff_base"`
	PushBackoffCap     time.Duration `json:"push_backoff_cap"`

	// Reconciliation settings
	PullTimeout       time.Duration `json:"pull_timeout"`
	ReconcileInterval time.Duration `json:"reconcile_interval"` // 0 disables the periodic loop
	FailureThreshold  int           `json:"failure_threshold"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	return &Config{
		NodeID:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		ListenAddr: ":8080",

		DataDir: "./data",

		Peers: []PeerConfig{},

		Users: map[string]string{
			"alice": "password1",
			"bob":   "password2",
			"carol": "password3",
		},

		ReplicationWorkers: 8,
		PushTimeout:        3 * time.Second,
		PushMaxAttempts:    5,
		PushBackoffBase:    200 * time.Millisecond,
		PushBackoffCap:     5 * time.Second,

		PullTimeout:       4 * time.Second,
		ReconcileInterval: 30 * time.Second,
		FailureThreshold:  3,
	}
}

// LoadFromFile loads configuration from a JSON file on top of defaults.
func LoadFromFile(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if filename == "" {
		return cfg, nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, fmt.Errorf("config file does not exist: %s", filename)
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("MURAL_NODE_ID"); val != "" {
		cfg.NodeID = val
	}

	if val := os.Getenv("MURAL_LISTEN_ADDR"); val != "" {
		cfg.ListenAddr = val
	}

	if val := os.Getenv("MURAL_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}

	if val := os.Getenv("MURAL_PEERS"); val != "" {
		if peers, err := ParsePeers(val); err == nil {
			cfg.Peers = peers
		}
	}

	if val := os.Getenv("MURAL_RECONCILE_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.ReconcileInterval = d
		}
	}

	if val := os.Getenv("MURAL_PUSH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.PushTimeout = d
		}
	}

	if val := os.Getenv("MURAL_FAILURE_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.FailureThreshold = n
		}
	}
}

// ParsePeers parses a comma-separated "id=url" list, e.g.
// "node2=http://localhost:8082,node3=http://localhost:8083".
func ParsePeers(s string) ([]PeerConfig, error) {
	var peers []PeerConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer entry %q (want id=url)", part)
		}
		peers = append(peers, PeerConfig{ID: id, Addr: strings.TrimRight(addr, "/")})
	}
	return peers, nil
}

// StorePath returns the path of this node's message database.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("mural-%s.db", c.NodeID))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id cannot be empty")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	seen := make(map[string]bool)
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("peer entries need both id and addr: %+v", p)
		}
		if p.ID == c.NodeID {
			return fmt.Errorf("peer list must not include self (%s)", c.NodeID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id: %s", p.ID)
		}
		seen[p.ID] = true
	}

	if c.ReplicationWorkers <= 0 {
		return fmt.Errorf("replication workers must be positive")
	}

	if c.PushMaxAttempts <= 0 {
		return fmt.Errorf("push max attempts must be positive")
	}

	if c.PushTimeout <= 0 || c.PullTimeout <= 0 {
		return fmt.Errorf("push and pull timeouts must be positive")
	}

	if c.PushBackoffBase <= 0 || c.PushBackoffCap < c.PushBackoffBase {
		return fmt.Errorf("invalid push backoff: base %s cap %s", c.PushBackoffBase, c.PushBackoffCap)
	}

	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval cannot be negative")
	}

	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}

	return nil
}

// String returns a string representation of the config.
func (c *Config) String() string {
	content, _ := json.MarshalIndent(c, "", "  ")
	return string(content)
}
