package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"imovel-scraper/ai"
	"imovel-scraper/cache"
	"imovel-scraper/config"
	"imovel-scraper/detector"
	"imovel-scraper/extractor"
	"imovel-scraper/metrics"
	"imovel-scraper/notify"
	"imovel-scraper/orchestrator"
	"imovel-scraper/queue"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/services"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

// redisPingTimeout bounds the connection check at startup.
const redisPingTimeout = 5 * time.Second

// app is the wired object graph shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	metrics *metrics.Metrics
	store   *storage.PostgresStore
	rdb     *redis.Client
	cache   *cache.Cache
	queue   *queue.Queue
	orch    *orchestrator.Orchestrator
	monitor *detector.FailureMonitor
}

// newApp loads the configuration and connects every collaborator.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := storage.NewPostgresStore(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	c := cache.New(rdb, logger, m)
	gate := cache.NewRateGate(rdb, nil, logger, m)
	q := queue.New(rdb, logger, m, queue.WithRetryPolicy(cfg.JobMaxAttempts, nil, cfg.JobDeadline))
	notifier := notify.New(cfg.NotifyWebhookURL, logger)

	var oracle ai.Oracle
	if o, err := ai.NewAnthropicOracle(cfg); err != nil {
		logger.Warn("[cli] AI fallback disabled: %v", err)
	} else {
		oracle = o
	}
	aiExtractor := ai.NewExtractor(oracle, c, gate, cfg, logger, m)

	var (
		advisor   detector.Advisor
		selectors detector.SelectorCache
	)
	if oracle != nil {
		advisor, selectors = aiExtractor, c
	}
	det := detector.New(store, advisor, selectors, notifier, logger, m)

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:     store,
		Fetcher:   caixa.NewFetcher(cfg, logger),
		Extractor: extractor.New(logger),
		AI:        aiExtractor,
		Detector:  det,
		Cache:     c,
		Gate:      gate,
		Cleaner:   services.NewCleaner(logger),
		Queue:     q,
		Notifier:  notifier,
		Logger:    logger,
		Metrics:   m,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		rdb:     rdb,
		cache:   c,
		queue:   q,
		orch:    orch,
		monitor: detector.NewFailureMonitor(store, q, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("[cli] close redis: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("[cli] close postgres: %v", err)
	}
	_ = a.logger.Sync()
}

// openRedis connects and pings the configured Redis.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.RedisAddress, err)
	}
	return rdb, nil
}

// withApp wires the app for the duration of fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
