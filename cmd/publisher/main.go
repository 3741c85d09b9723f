package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-news-relay/internal/adapters/repo"
	"tg-news-relay/internal/adapters/telegram"
	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/cache"
	"tg-news-relay/internal/infra/config"
	"tg-news-relay/internal/infra/db"
	applog "tg-news-relay/internal/infra/log"
	"tg-news-relay/internal/infra/metrics"
	queueusecase "tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

// Период опроса зависших публикаций.
const stuckSweepInterval = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "publisher")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("publisher: не удалось применить схему БД")
	}

	settingsService := settings.NewService(repoAdapter)
	queueService := queueusecase.NewService(repoAdapter)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("publisher: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: не удалось создать бота")
	}
	publisherAdapter := telegram.NewChannelPublisher(botAPI, logger, cfg.Telegram.TargetChannel)

	var guard domain.Cache
	if cfg.RedisAddr != "" {
		guard = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	// Период due-check фиксируется на старте процесса: изменение
	// check_interval_seconds применяется рестартом.
	sched, err := settingsService.Reload(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("publisher: не удалось прочитать настройки")
	}
	interval := time.Duration(sched.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	p := &publisherLoop{
		log:      logger,
		queue:    queueService,
		settings: settingsService,
		sender:   publisherAdapter,
		guard:    guard,
	}

	dueTicker := time.NewTicker(interval)
	defer dueTicker.Stop()
	cleanupTicker := time.NewTicker(cfg.Publisher.CleanupInterval)
	defer cleanupTicker.Stop()
	stuckTicker := time.NewTicker(stuckSweepInterval)
	defer stuckTicker.Stop()

	logger.Info().Dur("interval", interval).Msg("publisher: запуск цикла публикации")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("publisher: остановлен")
			return
		case <-dueTicker.C:
			p.publishDue(ctx)
		case <-cleanupTicker.C:
			p.cleanup(ctx)
		case <-stuckTicker.C:
			p.releaseStuck(ctx, cfg.Publisher.StuckAfter)
		}
	}
}

type publisherLoop struct {
	log      zerolog.Logger
	queue    *queueusecase.Service
	settings *settings.Service
	sender   domain.Publisher
	guard    domain.Cache
}

// publishDue захватывает готовые новости и отправляет их в канал.
// Конкурентный экземпляр публикатора получит непересекающийся набор.
func (p *publisherLoop) publishDue(ctx context.Context) {
	sched, err := p.settings.Reload(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("publisher: не удалось перечитать настройки")
		return
	}
	items, err := p.queue.Due(ctx, time.Now(), sched.MaxItemsPerBatch)
	if err != nil {
		p.log.Error().Err(err).Msg("publisher: ошибка выборки готовых новостей")
		return
	}
	if stats, err := p.queue.Stats(ctx); err == nil {
		metrics.SetQueueDepth(stats.Pending, stats.Publishing, stats.Failed)
	}
	for _, item := range items {
		if err := p.sender.Publish(ctx, item); err != nil {
			p.log.Error().Err(err).Int64("news_id", item.ID).Msg("publisher: публикация не удалась")
			if markErr := p.queue.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				p.log.Error().Err(markErr).Int64("news_id", item.ID).Msg("publisher: не удалось отметить ошибку")
			}
			continue
		}
		if err := p.queue.MarkPublished(ctx, item.ID); err != nil {
			p.log.Error().Err(err).Int64("news_id", item.ID).Msg("publisher: не удалось отметить публикацию")
		}
	}
}

// cleanup удаляет опубликованные новости старше retention_days.
// Redis-замок следит, чтобы несколько экземпляров не чистили БД одновременно.
func (p *publisherLoop) cleanup(ctx context.Context) {
	run := func() error {
		days, err := p.settings.RetentionDays(ctx)
		if err != nil {
			return err
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		deleted, err := p.queue.Cleanup(ctx, cutoff)
		if err != nil {
			return err
		}
		p.log.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("publisher: очистка выполнена")
		return nil
	}
	if p.guard == nil {
		if err := run(); err != nil {
			p.log.Error().Err(err).Msg("publisher: ошибка очистки")
		}
		return
	}
	key := "publisher:cleanup:" + time.Now().Format("2006-01-02")
	if err := p.guard.Once(key, 23*time.Hour, run); err != nil {
		p.log.Error().Err(err).Msg("publisher: ошибка очистки")
	}
}

// releaseStuck возвращает в очередь новости, зависшие в publishing:
// процесс-публикатор умер между захватом и отметкой результата.
func (p *publisherLoop) releaseStuck(ctx context.Context, stuckAfter time.Duration) {
	released, err := p.queue.ReleaseStuck(ctx, time.Now().Add(-stuckAfter))
	if err != nil {
		p.log.Error().Err(err).Msg("publisher: ошибка возврата зависших новостей")
		return
	}
	for _, item := range released {
		p.log.Warn().Int64("news_id", item.ID).Msg("publisher: новость возвращена в очередь после зависания")
	}
}
