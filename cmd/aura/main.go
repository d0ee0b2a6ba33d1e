package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/aura/internal/auth"
	"github.com/antoniostano/aura/internal/config"
	"github.com/antoniostano/aura/internal/httpapi"
	"github.com/antoniostano/aura/internal/lifecycle"
	"github.com/antoniostano/aura/internal/observability"
	"github.com/antoniostano/aura/internal/prefs"
	"github.com/antoniostano/aura/internal/scene"
	"github.com/antoniostano/aura/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	prefStore, err := prefs.NewStore(cfg.PrefsDir)
	if err != nil {
		log.Fatalf("prefs store init failed: %v", err)
	}

	store := state.NewStore(prefStore.RequestedMediaPerms())
	quality := observability.NewQualityWindow(0)

	var tokens lifecycle.TokenFetcher
	if cfg.AuthMode == config.AuthModeTokenIssuer {
		tokens = auth.NewClient(cfg.TokenIssuerURL)
	}

	manager := lifecycle.NewManager(
		cfg,
		store,
		prefStore,
		metrics,
		quality,
		scene.NewWebsocketClient,
		tokens,
		scene.NoopSink{},
	)
	defer manager.Disconnect()

	api := httpapi.New(cfg, store, manager, quality, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("gateway listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
