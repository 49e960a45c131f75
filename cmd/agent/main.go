// Command agent runs the host telemetry agent: it samples system resources on
// a fixed interval, streams snapshots to websocket subscribers, persists them
// to sqlite in batches and exposes guarded process control over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"telemetry-agent/internal/api"
	"telemetry-agent/internal/collector"
	"telemetry-agent/internal/config"
	"telemetry-agent/internal/control"
	"telemetry-agent/internal/gpu"
	"telemetry-agent/internal/hub"
	"telemetry-agent/internal/logging"
	"telemetry-agent/internal/metrics"
	"telemetry-agent/internal/protection"
	"telemetry-agent/internal/security"
	"telemetry-agent/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening metric store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := store.NewBatchWriter(st, cfg.Database.QueueCapacity, cfg.Database.FlushInterval.Duration, logger)
	broadcast := hub.New(logger)
	scanner := gpu.NewScanner(logger)

	col := collector.New(collector.Options{
		Interval:       cfg.Collection.Interval.Duration,
		EnqueueTimeout: cfg.Collection.EnqueueTimeout.Duration,
		DenseTicks:     cfg.Collection.DenseTicks,
		RarePeriod:     cfg.Collection.RarePeriod,
		ProcessPeriod:  cfg.Collection.ProcessPeriod,
		TopProcesses:   cfg.Collection.TopProcesses,
	}, scanner, broadcast, writer.Queue(), logger)

	prot := protection.Default(logger)
	validator := security.New(logger)
	ctl := control.NewService(prot, validator, func() ([]metrics.GPUProcess, error) {
		return scanner.Processes()
	}, logger)

	var wg sync.WaitGroup
	runPart := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}
	runPart(broadcast.Run)
	runPart(writer.Run)
	runPart(col.Run)
	if cfg.Database.Retention.Duration > 0 {
		runPart(func(ctx context.Context) {
			pruneLoop(ctx, st, cfg.Database.Retention.Duration, logger)
		})
	}

	handler := api.NewHandler(broadcast, col, ctl, prot, validator, scanner, st, logger)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("agent listening",
			zap.String("addr", server.Addr),
			zap.Duration("interval", cfg.Collection.Interval.Duration))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	wg.Wait()
	return nil
}

// pruneLoop removes persisted rows past the retention window once per hour.
func pruneLoop(ctx context.Context, st *store.Store, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-retention)
		removed, err := st.PruneBefore(cutoff)
		if err != nil {
			logger.Warn("retention prune failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("pruned old metrics",
				zap.Int64("rows", removed), zap.Time("cutoff", cutoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
