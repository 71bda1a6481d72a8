// Command wsgw runs a local emulator of a managed cloud WebSocket gateway:
// one listener accepts client WebSocket sessions and exposes a management
// HTTP API for pushing frames to them and tearing them down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nimbuslabs/wsgw/internal/config"
	"github.com/nimbuslabs/wsgw/internal/wsgw"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Verbose)
	defer logger.Sync()
	log := logger.Sugar()

	log.Infow("starting wsgw",
		"listen_port", cfg.ListenPort,
		"stage", cfg.Stage,
		"api_id", cfg.APIID,
		"integration_mode", cfg.IntegrationMode,
	)

	manager := wsgw.NewManager(cfg, log)
	health := wsgw.NewHealthMonitor(manager, log)
	router := wsgw.NewRouter(manager, health, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Errorw("server error, shutting down", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Close every live session (no DISCONNECT dispatch) before the listener
	// itself stops accepting connections.
	manager.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http server shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("wsgw shut down cleanly")
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}
