package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldline/gatehouse/pkg/config"
	"github.com/fieldline/gatehouse/pkg/directory"
	"github.com/fieldline/gatehouse/pkg/httputil"
	"github.com/fieldline/gatehouse/pkg/observability"
	"github.com/fieldline/gatehouse/pkg/permissions"
)

const serviceVersion = "1.0.0"

const maxRequestBytes = 1 << 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"store":     cfg.Store.Type,
		"directory": cfg.Directory.Backend,
		"version":   serviceVersion,
	}).Info("Starting gatehouse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Backend connections. The postgres pool is shared by the mapping
	// store and the membership directory.
	var db *sql.DB
	if cfg.Store.Type == "postgres" || cfg.Directory.Backend == "postgres" {
		db, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.Store.Type == "redis" {
		redisClient, err = openRedis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	store, err := buildStore(cfg, db, redisClient, logger, metrics)
	if err != nil {
		return err
	}

	catalog, err := permissions.LoadCatalog(ctx, permissions.LoaderConfig{
		Source:      cfg.Catalog.Source,
		S3Region:    cfg.Catalog.S3Region,
		S3Endpoint:  cfg.Catalog.S3Endpoint,
		S3AccessKey: cfg.Catalog.S3AccessKey,
		S3SecretKey: cfg.Catalog.S3SecretKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to load permission catalog: %w", err)
	}

	if cfg.Catalog.WatchFile && cfg.Catalog.Source != "" {
		if err := permissions.WatchCatalogFile(ctx, cfg.Catalog.Source, logger); err != nil {
			logger.WithError(err).Warn("Catalog watcher unavailable")
		}
	}

	resolver := buildResolver(cfg, db)
	service := permissions.NewService(catalog, resolver, store, logger, metrics)
	handler := permissions.NewHandler(service, resolver.Principal, logger, metrics)

	sweeper := permissions.NewSweeper(store, catalog, logger, metrics)
	if cfg.Sweeper.Enabled {
		if err := sweeper.Start(ctx, cfg.Sweeper.Schedule); err != nil {
			return fmt.Errorf("failed to start integrity sweeper: %w", err)
		}
	}

	// API server.
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	var apiHandler http.Handler = httputil.Chain(
		permissions.RequestIDMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)
	if metrics != nil {
		apiHandler = metrics.InstrumentHandler("/api/v1", apiHandler)
	}
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "gatehouse.api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server, on its own port for probes and scrapes.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, serviceVersion))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(sweeper.Stop)
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	return shutdown.WaitForShutdown()
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Store.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Store.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Store.PostgresMinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := permissions.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Connected to postgres")
	return db, nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Store.RedisURL,
		Password:   cfg.Store.RedisPassword,
		DB:         cfg.Store.RedisDB,
		MaxRetries: cfg.Store.RedisMaxRetries,
		PoolSize:   cfg.Store.RedisPoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to redis")
	return client, nil
}

func buildStore(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (permissions.MappingStore, error) {
	switch cfg.Store.Type {
	case "postgres":
		return permissions.NewPostgresStore(db, logger, metrics), nil
	case "redis":
		return permissions.NewRedisStore(redisClient, logger, metrics), nil
	case "memory":
		logger.Warn("Using in-memory mapping store; grants do not survive restarts")
		return permissions.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}

func buildResolver(cfg *config.Config, db *sql.DB) *directory.Resolver {
	if cfg.Directory.Backend == "postgres" {
		return directory.NewResolver(directory.NewPostgresDirectory(db))
	}
	return directory.NewResolver(directory.NewMemoryDirectory())
}
