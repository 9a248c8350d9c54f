package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"orderhub/internal/api"
	"orderhub/internal/config"
	"orderhub/internal/orderhub"
	"orderhub/internal/sink"
	"orderhub/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook receiver and dashboard WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sk, err := sink.Open(ctx, cfg.Sink, log)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer sk.Close()

	platforms, err := buildPlatforms(cfg, log)
	if err != nil {
		return err
	}

	hub := orderhub.NewHub(st, sk, orderhub.Options{MailboxSize: cfg.Sync.MailboxSize, Log: log})
	defer hub.Close()

	// Start actors for restaurants with persisted state so the janitor sees them.
	if l, ok := st.(store.Lister); ok {
		ids, err := l.Restaurants(ctx)
		if err != nil {
			log.WithError(err).Warn("listing persisted restaurants failed")
		}
		for _, id := range ids {
			if _, err := hub.Actor(ctx, id); err != nil {
				log.WithField("restaurant_id", id).WithError(err).Warn("restoring restaurant failed")
			}
		}
	}

	go hub.Janitor(ctx, cfg.Sync.CleanupInterval, cfg.Sync.MaxOrderAge)

	srv := api.NewServer(cfg, hub, platforms, st, log)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":      httpSrv.Addr,
			"store":     cfg.Store.Driver,
			"sink":      cfg.Sink.Driver,
			"platforms": platforms.Names(),
		}).Info("orderhub listening")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	return nil
}
