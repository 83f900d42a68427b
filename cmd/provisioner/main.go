// The provisioner consumes runtime provisioning jobs from the queue, drives
// the backend-specific creation, and reaps idle runtimes on a schedule.
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

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/metrics"
	"github.com/triggerkit/triggerkit/internal/queue"
	"github.com/triggerkit/triggerkit/internal/runtime"
	"github.com/triggerkit/triggerkit/internal/storage"
)

func main() {
	log := logger.FromEnv()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("invalid configuration", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("provisioner failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting record store: %w", err)
	}
	defer store.Close()

	collector := metrics.NewCollector()
	factory := runtime.NewFactory(cfg, log)

	managerOpts := []runtime.ManagerOption{
		runtime.WithMetrics(collector),
		runtime.WithIdleTTL(cfg.Runtime.IdleTTL),
	}
	if cfg.S3.Bucket != "" {
		artifacts, err := storage.NewArtifactStore(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("connecting artifact store: %w", err)
		}
		managerOpts = append(managerOpts, runtime.WithArtifacts(artifacts))
	}
	manager := runtime.NewManager(store, factory, log, managerOpts...)

	consumer, err := queue.NewConsumer(cfg.Queue, log)
	if err != nil {
		return fmt.Errorf("connecting provision queue: %w", err)
	}
	defer consumer.Close()

	reaper, err := runtime.NewReaper(manager, cfg.Runtime.ReapSchedule, log)
	if err != nil {
		return fmt.Errorf("scheduling runtime reaper: %w", err)
	}
	reaper.Start()
	defer reaper.Stop()

	go serveMetrics(cfg.Server.Port, collector, log)

	log.Info("provisioner consuming", map[string]any{
		"queue":         cfg.Queue.ProvisionQueue,
		"reap_schedule": cfg.Runtime.ReapSchedule,
	})
	return consumer.ConsumeProvision(ctx, manager.Provision)
}

func serveMetrics(port int, collector *metrics.Collector, log *logger.Logger) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      collector.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics endpoint stopped", map[string]any{"error": err.Error()})
	}
}
