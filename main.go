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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/webxterm/webxterm/internal/config"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/handlers"
	"github.com/webxterm/webxterm/internal/logging"
	"github.com/webxterm/webxterm/internal/middleware"
	"github.com/webxterm/webxterm/internal/sshkeys"
	"github.com/webxterm/webxterm/internal/terminal"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--generate-key" {
		runGenerateKey()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	if err := logging.Init(cfg.LogPath); err != nil {
		log.Printf("WARNING: server log file unavailable: %v", err)
	}
	defer logging.Close()

	if err := database.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	registry := terminal.NewRegistry()
	keyring := sshkeys.NewKeyring()
	gw := handlers.NewGateway(registry, keyring, terminal.Options{
		SSHTimeout:    cfg.SSHTimeout,
		TelnetTimeout: cfg.TelnetTimeout,
		RelayCapacity: cfg.RelayCapacity,
		LoginProgram:  cfg.LocalLoginProgram,
	})
	if cfg.DefaultEncoding != "" {
		gw.DefaultEncoding = cfg.DefaultEncoding
	}
	log.Printf("Gateway initialized (ssh_timeout=%s, telnet_timeout=%s, relay=%d, encoding=%s)",
		cfg.SSHTimeout, cfg.TelnetTimeout, cfg.RelayCapacity, gw.DefaultEncoding)

	// Idle session sweep
	sweeper := cron.New()
	if cfg.SessionIdleTimeout > 0 {
		if _, err := sweeper.AddFunc(cfg.IdleSweepSchedule, func() {
			if n := registry.EvictIdle(cfg.SessionIdleTimeout); n > 0 {
				log.Printf("[sweep] closed %d idle sessions", n)
			}
		}); err != nil {
			log.Fatalf("Idle sweep schedule %q: %v", cfg.IdleSweepSchedule, err)
		}
	}
	sweeper.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.RestrictOrigins(cfg.AllowedOrigins))

	gw.Mount(r)

	// Browser terminal static files
	if cfg.StaticDir != "" {
		spa := middleware.NewSPAHandler(os.DirFS(cfg.StaticDir))
		r.NotFound(spa.ServeHTTP)
		log.Printf("Serving static files from %s", cfg.StaticDir)
	}

	// Graceful shutdown
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-sweeper.Stop().Done()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// runGenerateKey creates a stored ed25519 key and prints its public half so
// it can be installed on target hosts before the first connect.
func runGenerateKey() {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	description := fs.String("description", "", "Key description")
	fs.Parse(os.Args[2:])

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: webxterm --generate-key --name <name> [--description <text>]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if err := database.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	kr := sshkeys.NewKeyring()
	key, err := kr.Store(*name, "", "", *description)
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	pub, err := kr.PublicKey(key.ID)
	if err != nil {
		log.Fatalf("Failed to read public key: %v", err)
	}
	fmt.Printf("Key '%s' created (id %s, %s)\n%s\n", key.Name, key.ID, key.Fingerprint, pub)
}
