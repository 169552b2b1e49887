package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OldManSaturn/siem-saltbuild/internal/duckdb"
	"github.com/OldManSaturn/siem-saltbuild/internal/filereplay"
	"github.com/OldManSaturn/siem-saltbuild/internal/httpserver"
	"github.com/OldManSaturn/siem-saltbuild/internal/supervisor"
)

// runServer starts the syslog listener pair, the optional file replay and the
// HTTP API, then blocks until SIGINT/SIGTERM.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger(cfg.LogFile)
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Create insert buffer for batched DuckDB writes
	insertBuffer := duckdb.NewInsertBuffer(store, cfg.insertBufferConfig())
	defer insertBuffer.Stop()

	retentionCleaner := duckdb.NewRetentionCleaner(store, cfg.retentionConfig())
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	sup := supervisor.New(insertBuffer, cfg.supervisorConfig())
	taskID, err := sup.StartPair(uint16(cfg.SyslogTCPPort), uint16(cfg.SyslogUDPPort))
	if err != nil {
		return fmt.Errorf("failed to start syslog listeners: %w", err)
	}

	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		apiServer = httpserver.NewServer(cfg.APIAddr, store, sup, cfg.ShutdownTimeout)
		if err := apiServer.Start(); err != nil {
			stopListeners(sup, cfg.ShutdownTimeout)
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now - not at boot. It leaves room for the
		// listener stop plus the final insert flush.
		deadline := time.NewTimer(2 * cfg.ShutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, taskID)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.LogFilePath != "" {
		g.Go(func() error {
			n, err := filereplay.Ingest(gctx, cfg.LogFilePath, insertBuffer)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("filereplay: %s stopped after %d records: %v", cfg.LogFilePath, n, err)
			}
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Printf("server: API shutdown: %v", err)
		}
	}
	stopListeners(sup, cfg.ShutdownTimeout)
	return nil
}

// stopListeners stops every supervised task, escalating to an abort once
// timeout elapses.
func stopListeners(sup *supervisor.Supervisor, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sup.StopAll(ctx); err != nil {
		log.Printf("server: stopping listeners: %v", err)
	}
}

// runReplay ingests path into the configured database and returns.
func runReplay(ctx context.Context, cfg appConfig, path string) error {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	insertBuffer := duckdb.NewInsertBuffer(store, cfg.insertBufferConfig())
	n, err := filereplay.Ingest(ctx, path, insertBuffer)
	insertBuffer.Stop()
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	fmt.Printf("Ingested %d records from %s into %s\n", n, path, shortenPath(cfg.DBPath))
	return nil
}

// configureRuntimeLogger sends the standard logger to path, or stderr when
// path is empty or cannot be opened.
func configureRuntimeLogger(path string) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)
	if path == "" {
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("server: log directory %s: %v", filepath.Dir(path), err)
		return func() {}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("server: log file %s: %v", path, err)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}
