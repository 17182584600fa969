// Command eventflow-workerd hosts the Worker (component F) and the
// retry scheduler that drives FAILED_RETRYABLE rows back to QUEUED.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/bitechdev/ResolveSpec/pkg/config"
	"github.com/bitechdev/ResolveSpec/pkg/dbmanager"
	"github.com/bitechdev/ResolveSpec/pkg/errortracking"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/adminfeed"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/broker"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/handlers"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/retryscheduler"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/worker"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
	"github.com/bitechdev/ResolveSpec/pkg/metrics"
	"github.com/bitechdev/ResolveSpec/pkg/tracing"
)

func main() {
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	logger.Info("eventflow-workerd starting")

	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Warn("failed to initialize error tracking: %v", err)
		tracker = errortracking.NewNoOpProvider()
	}
	logger.InitErrorTracking(tracker)
	defer logger.CloseErrorTracking()

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Warn("failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to shut down tracing: %v", err)
		}
	}()

	metrics.SetProvider(metrics.NewPrometheusProvider(nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbMgr, err := dbmanager.NewManager(dbmanager.FromConfig(cfg.DBManager))
	if err != nil {
		logger.Error("failed to create database manager: %v", err)
		os.Exit(1)
	}
	if err := dbMgr.Connect(ctx); err != nil {
		logger.Error("failed to connect databases: %v", err)
		os.Exit(1)
	}
	defer dbMgr.Close()

	conn, err := dbMgr.GetDefault()
	if err != nil {
		logger.Error("failed to get default connection: %v", err)
		os.Exit(1)
	}
	sqlDB, err := conn.Native()
	if err != nil {
		logger.Error("failed to get native *sql.DB: %v", err)
		os.Exit(1)
	}

	events := store.NewPostgresEventStore(sqlDB)

	var streamBroker broker.StreamBroker
	switch cfg.EventBroker.Provider {
	case "nats":
		nc, err := nats.Connect(cfg.EventBroker.NATS.URL, nats.Name("eventflow-workerd"))
		if err != nil {
			logger.Error("failed to connect to nats: %v", err)
			os.Exit(1)
		}
		defer nc.Close()
		streamBroker, err = broker.NewNATSBroker(nc)
		if err != nil {
			logger.Error("failed to create nats broker: %v", err)
			os.Exit(1)
		}
	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.EventBroker.Redis.Host, cfg.EventBroker.Redis.Port),
			Password: cfg.EventBroker.Redis.Password,
			DB:       cfg.EventBroker.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis: %v", err)
			os.Exit(1)
		}
		streamBroker = broker.NewRedisBroker(redisClient)
	}

	registry := eventplatform.NewHandlerRegistry()
	for _, eventType := range cfg.Ingestion.AllowedEventTypes {
		registry.Register(eventType, handlers.Logging())
	}

	consumerName := cfg.Worker.ConsumerName
	if consumerName == "" {
		hostname, _ := os.Hostname()
		consumerName = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	var feed *adminfeed.Hub
	if cfg.Worker.AdminFeedAddr != "" {
		feed = adminfeed.NewHub()
		go feed.Run(ctx)
		mux := http.NewServeMux()
		mux.Handle("/admin/feed", feed)
		feedServer := &http.Server{Addr: cfg.Worker.AdminFeedAddr, Handler: mux}
		go func() {
			if err := feedServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("admin feed server failed: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = feedServer.Close()
		}()
	}

	w := worker.New(streamBroker, events, registry, worker.Config{
		Stream:                    cfg.Worker.StreamName,
		Group:                     cfg.Worker.GroupName,
		Consumer:                  consumerName,
		ReadBatchSize:             cfg.Worker.ReadBatchSize,
		EmptyReadDelay:            time.Duration(cfg.Worker.EmptyReadDelayMs) * time.Millisecond,
		ErrorDelay:                time.Duration(cfg.Worker.ErrorDelayMs) * time.Millisecond,
		ClaimMinIdle:              time.Duration(cfg.Worker.ClaimMinIdleMs) * time.Millisecond,
		ClaimBatchSize:            cfg.Worker.ClaimBatchSize,
		ReclaimInterval:           time.Duration(cfg.Worker.ReclaimIntervalMs) * time.Millisecond,
		DrainMaxBatches:           cfg.Worker.DrainOnStartupMaxBatches,
		DrainMaxMessages:          cfg.Worker.DrainOnStartupMaxMessages,
		BootstrapInitialDelay:     cfg.Worker.BootstrapInitialDelay,
		BootstrapMaxDelay:         cfg.Worker.BootstrapMaxDelay,
		BootstrapFactor:           cfg.Worker.BootstrapFactor,
		BootstrapMaxAttempts:      cfg.Worker.BootstrapMaxAttempts,
	}).WithAdminFeed(feed)

	sched := retryscheduler.New(events, retryscheduler.Config{})
	go sched.Run(ctx)

	logger.Info("eventflow-workerd consuming stream=%s group=%s consumer=%s", cfg.Worker.StreamName, cfg.Worker.GroupName, consumerName)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker exited: %v", err)
		os.Exit(1)
	}
	logger.Info("eventflow-workerd shutting down")
}
