// Command eventflow-ingestd hosts the Ingestion Endpoint (component D)
// and the Outbox Publisher (component E) in a single process: the
// publisher has no external surface of its own and shares the same
// storage connection as the HTTP path.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bitechdev/ResolveSpec/pkg/cache"
	"github.com/bitechdev/ResolveSpec/pkg/config"
	"github.com/bitechdev/ResolveSpec/pkg/dbmanager"
	"github.com/bitechdev/ResolveSpec/pkg/errortracking"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/broker"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/ingest"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/publisher"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
	"github.com/bitechdev/ResolveSpec/pkg/metrics"
	"github.com/bitechdev/ResolveSpec/pkg/middleware"
	"github.com/bitechdev/ResolveSpec/pkg/server"
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
	logger.Info("eventflow-ingestd starting")

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

	ctx := context.Background()

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

	outbox := store.NewPostgresOutboxStore(sqlDB)
	uow := store.NewPostgresUnitOfWork(sqlDB)

	var streamBroker broker.StreamBroker
	switch cfg.EventBroker.Provider {
	case "nats":
		nc, err := nats.Connect(cfg.EventBroker.NATS.URL, nats.Name("eventflow-ingestd"))
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

	var idempCache cache.Provider
	switch cfg.Cache.Provider {
	case "memory":
		idempCache = cache.NewMemoryProvider(nil)
	case "memcache":
		if cp, err := cache.NewMemcacheProvider(&cache.MemcacheConfig{
			Servers:      cfg.Cache.Memcache.Servers,
			MaxIdleConns: cfg.Cache.Memcache.MaxIdleConns,
			Timeout:      cfg.Cache.Memcache.Timeout,
		}); err != nil {
			logger.Warn("failed to initialize idempotency cache, continuing without it: %v", err)
		} else {
			idempCache = cp
		}
	default:
		if cp, err := cache.NewRedisProvider(&cache.RedisConfig{
			Host:     cfg.Cache.Redis.Host,
			Port:     cfg.Cache.Redis.Port,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		}); err != nil {
			logger.Warn("failed to initialize idempotency cache, continuing without it: %v", err)
		} else {
			idempCache = cp
		}
	}

	svc, err := ingest.NewService(uow, ingest.Config{
		StreamName:        cfg.Ingestion.StreamName,
		AllowedEventTypes: cfg.Ingestion.AllowedEventTypes,
		Production:        cfg.Ingestion.Production,
		IdempotencyCache:  idempCache,
	})
	if err != nil {
		logger.Error("failed to build ingestion service: %v", err)
		os.Exit(1)
	}

	r := mux.NewRouter()
	r.Handle("/v1/events", ingest.NewHandler(svc)).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Use(tracing.Middleware)
	r.Use(middleware.PanicRecovery)
	r.Use(middleware.NewRequestSizeLimiter(cfg.Ingestion.MaxBodyBytes).Middleware)
	if cfg.Ingestion.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(cfg.Ingestion.RateLimitRPS, cfg.Ingestion.RateLimitBurst).Middleware)
	}

	mgr := server.NewManager()
	host, port := parseAddr(cfg.Server.Addr)
	if _, err := mgr.Add(server.Config{
		Name:            "ingest",
		Host:            host,
		Port:            port,
		Handler:         r,
		GZIP:            true,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	}); err != nil {
		logger.Error("failed to add server: %v", err)
		os.Exit(1)
	}

	pub := publisher.New(outbox, streamBroker, publisher.Config{
		PollInterval:    time.Duration(cfg.Outbox.PollIntervalMs) * time.Millisecond,
		MaxBatchSize:    cfg.Outbox.MaxBatchSize,
		PruneEveryCycle: cfg.Outbox.PruneEveryCycle,
		PruneRetention:  cfg.Outbox.PruneRetention,
	})
	pubCtx, cancelPub := context.WithCancel(ctx)
	defer cancelPub()
	go pub.Run(pubCtx)

	logger.Info("eventflow-ingestd listening on %s", cfg.Server.Addr)
	if err := mgr.ServeWithGracefulShutdown(); err != nil {
		logger.Error("server failed: %v", err)
		os.Exit(1)
	}
}

func parseAddr(addr string) (string, int) {
	host := ""
	port := 8080
	if addr == "" {
		return host, port
	}
	if addr[0] == ':' {
		fmt.Sscanf(addr, ":%d", &port)
		return host, port
	}
	fmt.Sscanf(addr, "%[^:]:%d", &host, &port)
	return host, port
}

