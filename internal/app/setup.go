package app

import (
	"context"
	"fmt"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/internal/exchange"
	"github.com/mreyes/tradereflect/internal/generator"
	"github.com/mreyes/tradereflect/internal/ingest"
	"github.com/mreyes/tradereflect/internal/review"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/cache"
	"github.com/mreyes/tradereflect/pkg/config"
	"github.com/mreyes/tradereflect/pkg/healthprobe"
	"github.com/mreyes/tradereflect/pkg/httpserver"
	"github.com/mreyes/tradereflect/pkg/notify"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()

	store, err := setupStore(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup store: %w", err)
	}

	symbolCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	hub := notify.NewHub(logger)

	publisher, err := setupPublisher(cfg, logger, hub)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup publisher: %w", err)
	}

	gateway := setupGateway(cfg, logger, symbolCache)
	genClient := setupGenerator(cfg, logger)

	scheduler := review.New(&review.Config{
		Deadline:     cfg.ReviewDeadline,
		MaxAttempts:  cfg.GenerationMaxAttempts,
		RetryBackoff: cfg.GenerationBackoff,
		FillStore:    store,
		ReviewStore:  store,
		Generator:    genClient,
		Events:       publisher,
		Logger:       logger,
	})

	poller := ingest.New(&ingest.Config{
		Interval:    cfg.PollInterval,
		Lookback:    cfg.PollLookback,
		Backfill:    cfg.BackfillLookback,
		AuthBackoff: cfg.AuthFailureBackoff,
		Accounts:    store,
		Fills:       store,
		Gateway:     gateway,
		Scheduler:   scheduler,
		Events:      publisher,
		Logger:      logger,
	})

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Scheduler:     scheduler,
		Store:         store,
		Hub:           hub,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		store:         store,
		poller:        poller,
		scheduler:     scheduler,
		hub:           hub,
		publisher:     publisher,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageMode {
	case "postgres":
		pgStore, err := storage.NewPostgresStore(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres store: %w", err)
		}
		return pgStore, nil
	case "sqlite":
		sqliteStore, err := storage.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("create sqlite store: %w", err)
		}
		return sqliteStore, nil
	default:
		return storage.NewMemoryStore(logger), nil
	}
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max tracked accounts
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupPublisher(cfg *config.Config, logger *zap.Logger, hub *notify.Hub) (events.Publisher, error) {
	wsPublisher := events.NewBroadcastPublisher(hub)

	if cfg.RedisAddr == "" {
		return wsPublisher, nil
	}

	redisPublisher, err := events.NewRedisPublisher(cfg.RedisAddr, cfg.RedisStream, logger)
	if err != nil {
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}

	return events.NewFanout(wsPublisher, redisPublisher), nil
}

func setupGateway(cfg *config.Config, logger *zap.Logger, symbolCache cache.Cache) *exchange.Client {
	return exchange.NewClient(&exchange.ClientConfig{
		BaseURL:        cfg.BinanceBaseURL,
		Timeout:        cfg.BinanceHTTPTimeout,
		SymbolCache:    symbolCache,
		SymbolCacheTTL: cfg.SymbolCacheTTL,
		Logger:         logger,
	})
}

func setupGenerator(cfg *config.Config, logger *zap.Logger) *generator.Client {
	return generator.NewClient(&generator.ClientConfig{
		BaseURL: cfg.GeneratorURL,
		Timeout: cfg.GeneratorTimeout,
		Logger:  logger,
	})
}
