package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proplink/api"
	"proplink/config"
	"proplink/console"
	"proplink/driver"
	"proplink/logger"
	"proplink/reset"
	"proplink/session"
	"proplink/transport"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Initialize logging
	if cfg.LogDir != "" {
		if err := logger.Init(cfg.LogDir); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logger.Close()
	}
	logger.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := driver.NewScanner(config.MockTarget)

	switch {
	case cfg.List:
		for _, port := range scanner.Discover() {
			fmt.Println(port)
		}
	case cfg.Term:
		if err := terminal(ctx, cfg); err != nil {
			logger.Error("Terminal session ended: %v", err)
			os.Exit(1)
		}
	default:
		if err := serve(ctx, cfg, scanner); err != nil {
			logger.Error("Server stopped: %v", err)
			os.Exit(1)
		}
	}
}

func terminal(ctx context.Context, cfg *config.Config) error {
	conn, err := transport.Open(cfg.Port, cfg.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Reset {
		if err := reset.Device(conn); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Connected to %s at %d bps. Press Ctrl-] to exit.\n", cfg.Port, conn.Config().Baud)
	return runTerminal(ctx, conn, console.New())
}

func serve(ctx context.Context, cfg *config.Config, scanner *driver.Scanner) error {
	// Initialize Session; the device is attached now if present, or later by OPEN
	sess := session.New()
	if err := sess.Attach(cfg.Port, cfg.Baud); err != nil {
		logger.Warn("Initial attach of %s failed: %v", cfg.Port, err)
	}
	defer sess.Detach()

	handler := api.NewHandler(sess, scanner)
	go handler.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	srv := &http.Server{Addr: cfg.WSAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Server listening on %s", cfg.WSAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
