package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/httpapi"
	"github.com/hamed0406/servicestatus/internal/logging"
	"github.com/hamed0406/servicestatus/internal/monitor"
	"github.com/hamed0406/servicestatus/internal/notify"
	"github.com/hamed0406/servicestatus/internal/repo"
	"github.com/hamed0406/servicestatus/internal/repo/file"
	"github.com/hamed0406/servicestatus/internal/repo/memory"
)

func main() {
	path := os.Getenv("STATUS_CONFIG")
	if path == "" {
		path = "status.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	cfg = config.FromEnv(cfg)

	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	var (
		store  repo.EndpointStore
		values repo.KV
	)
	if cfg.DataDir != "" {
		store = file.New(filepath.Join(cfg.DataDir, "status.json"), logger)
		values = file.NewKV(filepath.Join(cfg.DataDir, "values.json"), logger)
	} else {
		mem := memory.New()
		store, values = mem, mem
	}

	notifier := notify.Multi{notify.Log{Logger: logger}}
	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		notifier = append(notifier, slack)
	}

	mon := monitor.New(monitor.Options{
		Config:   cfg,
		Store:    store,
		Values:   values,
		Notifier: notifier,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mon.Run(ctx); err != nil {
			logger.Error("monitor_failed", zap.Error(err))
			stop()
		}
	}()
	go reloadOnHUP(ctx, path, mon, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewServer(logger, mon).Router(12, 3),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("data_dir", cfg.DataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_listen_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown")

	// closing the monitor ends open websocket streams
	mon.Close()
	<-runDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown", zap.Error(err))
	}
}

// reloadOnHUP re-reads the config file on SIGHUP and applies it to the
// running monitor. Host-only keys need a restart.
func reloadOnHUP(ctx context.Context, path string, mon *monitor.Monitor, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := config.Load(path)
			if err != nil {
				logger.Warn("config_reload_failed", zap.String("path", path), zap.Error(err))
				continue
			}
			if err := mon.ApplyConfig(ctx, config.FromEnv(next)); err != nil {
				logger.Warn("config_reload_failed", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("config_reloaded", zap.String("path", path))
		}
	}
}
