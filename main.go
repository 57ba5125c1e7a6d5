package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mural-io/mural/config"
	"github.com/mural-io/mural/server"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to JSON config file")
	nodeID := flag.String("node-id", "", "unique node id (overrides config)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data", "", "directory for persistent storage (overrides config)")
	peerList := flag.String("peers", "", "comma-separated id=url peer list (overrides config)")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.LoadFromEnv(cfg)

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *peerList != "" {
		peers, err := config.ParsePeers(*peerList)
		if err != nil {
			log.Fatalf("Invalid -peers: %v", err)
		}
		cfg.Peers = peers
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	node, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	defer node.Close()
	node.Start()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: node.Handler(),
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("[%s] listening on %s, peers: %v", node.ID(), cfg.ListenAddr, cfg.Peers)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	}
}
