package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roman-kulish/ground-control/internal/control"
	"github.com/roman-kulish/ground-control/internal/hub"
	"github.com/roman-kulish/ground-control/internal/observability"
	"github.com/roman-kulish/ground-control/internal/storage"
)

const (
	dbFileName      = "flights.sqlite"
	recorderBuffer  = 4096
	shutdownTimeout = 5 * time.Second
)

// Run serves the ground station until ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	h, err := hub.New(config.HubConfig(), hub.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}
	defer h.Close()

	if err = observability.RegisterHub(reg, h.Stats); err != nil {
		return err
	}

	var wg sync.WaitGroup

	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		sub, err := h.Subscribe(hub.Internal(), hub.WithBuffer(recorderBuffer))
		if err != nil {
			return fmt.Errorf("failed to subscribe recorder: %w", err)
		}
		defer wg.Wait()

		recorder := storage.NewRecorder(store,
			storage.WithBatchSize(config.Storage.MaxBatchSize),
			storage.WithFlushInterval(time.Duration(config.Storage.FlushInterval)),
			storage.WithObserver(metrics),
			storage.WithRecorderLogger(logger))

		// The recorder drains until the hub closes the subscription, so the
		// final status of the last session is stored too.
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(context.WithoutCancel(ctx), sub.Events()); err != nil {
				logger.Error("recorder stopped", slog.String("error", err.Error()))
			}
		}()

		logger.Info("recording flights", slog.String("path", store.Path()))
	}
	defer h.Close()

	controller := control.New(h, config.ControlConfig(), control.WithLogger(logger))

	server := NewServer(h, controller,
		WithHeartbeat(time.Duration(config.Server.Heartbeat)),
		WithStaticDir(config.Server.StaticDir),
		WithMetrics(metrics),
		WithLogger(logger))

	return serve(ctx, config.Server.Listen, server, logger)
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx }, // ends event streams on shutdown
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	logger.Info("server started", slog.String("listen", listener.Addr().String()))

	select {
	case err = <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err = <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = DefaultDataDir
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory: %w", err)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return storage.NewSqliteStore(filepath.Join(dir, dbFileName), storage.WithMaxBatchSize(config.MaxBatchSize)), nil
}
