package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gridtown.io/internal/audit"
	"gridtown.io/internal/config"
	"gridtown.io/internal/store"
	"gridtown.io/internal/transport/ws"
	"gridtown.io/internal/world"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "./config.yaml", "server config path")
		dbPath     = flag.String("db", "", "sqlite database path (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	auditLog := audit.NewLogger(filepath.Join(cfg.DataDir, "events"))
	defer auditLog.Close()

	w := world.New(cfg, st, logger, auditLog)

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Snapshot()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP gridtown_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE gridtown_clients gauge\n")
		fmt.Fprintf(rw, "gridtown_clients %d\n", m.Clients)

		fmt.Fprintf(rw, "# HELP gridtown_loaded_maps Current number of loaded maps.\n")
		fmt.Fprintf(rw, "# TYPE gridtown_loaded_maps gauge\n")
		fmt.Fprintf(rw, "gridtown_loaded_maps %d\n", m.Maps)

		fmt.Fprintf(rw, "# HELP gridtown_ticks_total Scheduler ticks since start.\n")
		fmt.Fprintf(rw, "# TYPE gridtown_ticks_total counter\n")
		fmt.Fprintf(rw, "gridtown_ticks_total %d\n", m.Ticks)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-worldDone:
			// a scheduled shutdown counted out; stop serving too
			cancel()
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-worldDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
