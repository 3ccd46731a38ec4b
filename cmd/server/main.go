package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/DaDevFox/task-systems/pantry-core/internal/api"
	"github.com/DaDevFox/task-systems/pantry-core/internal/config"
	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
	"github.com/DaDevFox/task-systems/pantry-core/internal/events"
	"github.com/DaDevFox/task-systems/pantry-core/internal/health"
	"github.com/DaDevFox/task-systems/pantry-core/internal/inventory"
	"github.com/DaDevFox/task-systems/pantry-core/internal/metrics"
	"github.com/DaDevFox/task-systems/pantry-core/internal/scheduler"
	"github.com/DaDevFox/task-systems/pantry-core/internal/view"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeOpts, err := cfg.StoreOptions(logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid store configuration")
	}
	store, err := docstore.Open(ctx, storeOpts)
	if err != nil {
		logger.WithError(err).WithField("store", cfg.Store).Fatal("failed to open document store")
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		logger.WithError(err).Fatal("failed to register metrics")
	}

	bus := events.NewEventBus("pantry-core", logger)
	bus.Subscribe(events.OperationFailed, func(ctx context.Context, event events.Event) error {
		logger.WithError(event.Err).WithFields(logrus.Fields{
			"event_id": event.ID,
			"op":       event.Op,
			"item":     event.Item,
		}).Debug("operation failure notified")
		return nil
	})

	opts := []inventory.Option{
		inventory.WithLogger(logger),
		inventory.WithEventBus(bus),
		inventory.WithRecorder(collector),
	}
	if cfg.AtomicAdjust {
		opts = append(opts, inventory.WithAtomicAdjust())
	}
	client := inventory.NewClient(store, opts...)
	if cfg.AtomicAdjust && !client.AtomicAdjust() {
		logger.WithField("store", cfg.Store).Warn("store has no compare-and-set, adjusting with read then write")
	}

	controller := view.NewController(client, bus, logger)
	if err := controller.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("initial load failed, starting with an empty inventory")
	}

	checker := health.NewChecker(store, logger)
	_ = checker.Check(ctx)

	jobs, err := scheduler.New(ctx, cfg.RefreshInterval, client, checker, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create scheduler")
	}
	jobs.Start()

	handlers := api.NewHandlers(client, controller, store, logger)
	httpServer := api.NewServer(handlers, registry, logger)

	grpcServer := grpc.NewServer()
	checker.Register(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.WithError(err).Fatal("failed to listen")
	}

	logger.WithFields(logrus.Fields{
		"http_port": cfg.HTTPPort,
		"grpc_port": cfg.GRPCPort,
		"store":     cfg.Store,
		"items":     len(controller.Inventory()),
	}).Info("starting pantry-core server")

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.WithError(err).Error("gRPC server failed")
			cancel()
		}
	}()

	go func() {
		if err := httpServer.Start(fmt.Sprintf(":%s", cfg.HTTPPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("received shutdown signal")
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	logger.Info("shutting down pantry-core server")
	checker.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}
	grpcServer.GracefulStop()

	if err := jobs.Stop(); err != nil {
		logger.WithError(err).Warn("scheduler shutdown incomplete")
	}
	controller.Wait()
	bus.Wait()
}
