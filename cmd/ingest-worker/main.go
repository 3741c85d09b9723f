package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-news-relay/internal/adapters/fetcher"
	"tg-news-relay/internal/adapters/repo"
	"tg-news-relay/internal/adapters/rewriter"
	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/cache"
	"tg-news-relay/internal/infra/config"
	"tg-news-relay/internal/infra/db"
	applog "tg-news-relay/internal/infra/log"
	"tg-news-relay/internal/infra/metrics"
	"tg-news-relay/internal/infra/openai"
	"tg-news-relay/internal/infra/queue"
	"tg-news-relay/internal/usecase/ingest"
	queueusecase "tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "ingest-worker")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest-worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ingest-worker: не удалось применить схему БД")
	}

	settingsService := settings.NewService(repoAdapter)
	queueService := queueusecase.NewService(repoAdapter)

	var urlCache domain.Cache
	var jobs domain.IngestQueue
	switch cfg.Queues.Backend {
	case "rabbitmq":
		jobs, err = queue.NewRabbitIngestQueue(cfg.AMQPURL, cfg.Queues.Ingest)
		if err != nil {
			logger.Fatal().Err(err).Msg("ingest-worker: не удалось подключиться к RabbitMQ")
		}
	default:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		jobs = queue.NewRedisIngestQueue(client, cfg.Queues.Ingest)
		urlCache = cache.NewRedis(client)
	}

	// Целевая длина текста читается один раз при старте, как и период
	// due-check у публикатора. Изменение text_length применяется рестартом.
	textChars, err := settingsService.TextLengthChars(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest-worker: не удалось прочитать настройки")
	}

	var rewriterAdapter domain.Rewriter
	if cfg.DeepSeek.APIKey != "" {
		openaiClient := openai.NewClient(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, cfg.DeepSeek.Timeout)
		rewriterAdapter = rewriter.NewOpenAI(openaiClient, cfg.DeepSeek.Model, cfg.DeepSeek.Timeout, textChars)
	} else {
		logger.Warn().Msg("ingest-worker: ключ DeepSeek не задан, статьи публикуются без рерайта")
		rewriterAdapter = rewriter.NewSimple(textChars)
	}

	fetcherAdapter := fetcher.New(nil)

	worker := ingest.NewWorker(logger, jobs, fetcherAdapter, rewriterAdapter, queueService, settingsService, urlCache)

	logger.Info().Str("backend", cfg.Queues.Backend).Msg("ingest-worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("ingest-worker: остановлен")
}
