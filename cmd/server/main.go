package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kitfc/litehook/internal/api"
	"github.com/kitfc/litehook/internal/config"
	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/pkg/logger"
	"github.com/kitfc/litehook/internal/store"
	"github.com/kitfc/litehook/internal/supervisor"
)

func main() {
	logger.Info("starting litehook")

	env, global, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	st, err := store.Open(env.DBPath)
	if err != nil {
		logger.Error("failed to open store", "db_path", env.DBPath, "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	sup := supervisor.New(global, st)

	if err := seedChannels(sup, st, env); err != nil {
		logger.Error("failed to seed CHANNELS", "error", err.Error())
		os.Exit(1)
	}

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run() }()

	srv := api.NewServer(sup, st, "static")
	srvDone := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", env.Port)
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			srvDone <- err
			return
		}
		srvDone <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("shutdown signal received")
	case err := <-srvDone:
		if err != nil {
			logger.Error("control-plane server failed", "error", err.Error())
		}
	case err := <-supDone:
		if err != nil {
			logger.Error("supervisor exited unexpectedly", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("control-plane shutdown error", "error", err.Error())
	}

	sup.Stop()
	<-supDone

	logger.Info("litehook stopped")
}

// seedChannels adds a listener for every CHANNELS entry whose id
// (derived from its URL) is not yet in the store. This runs on every
// start: a channel already present is left untouched so restarts never
// reset an operator's edits, while an entry whose listener was removed
// is added again.
func seedChannels(sup *supervisor.Supervisor, st *store.Store, env config.EnvConfig) error {
	for _, handleOrURL := range env.Channels {
		channelURL := config.ChannelURL(handleOrURL)
		id := channelIDFromURL(channelURL)

		if _, err := st.GetListener(id); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		cfg := model.ListenerConfig{
			ID:         id,
			ChannelURL: channelURL,
		}
		if err := sup.AddListener(cfg); err != nil {
			return fmt.Errorf("seed channel %s: %w", channelURL, err)
		}
	}
	return nil
}

func channelIDFromURL(channelURL string) string {
	id := channelURL
	if len(channelURL) > len(model.ChannelURLPrefix) {
		id = channelURL[len(model.ChannelURLPrefix):]
	}
	return id
}
