package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-news-relay/internal/adapters/bot"
	"tg-news-relay/internal/adapters/repo"
	"tg-news-relay/internal/adapters/telegram"
	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/config"
	"tg-news-relay/internal/infra/db"
	apphttp "tg-news-relay/internal/infra/http"
	applog "tg-news-relay/internal/infra/log"
	"tg-news-relay/internal/infra/metrics"
	"tg-news-relay/internal/infra/queue"
	queueusecase "tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "bot-gateway")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось применить схему БД")
	}

	settingsService := settings.NewService(repoAdapter)
	sched, err := settingsService.Reload(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось прочитать настройки")
	}
	queueService := queueusecase.NewService(repoAdapter)

	jobs, err := buildIngestQueue(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь задач")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}
	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: некорректный адрес вебхука")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось установить вебхук")
		}
	}

	publisher := telegram.NewChannelPublisher(botAPI, logger, cfg.Telegram.TargetChannel)
	h := bot.NewHandler(botAPI, logger, queueService, settingsService, publisher, jobs, cfg.Telegram.SourceChannel, cfg.Telegram.AdminUserID, sched)

	srv := apphttp.NewServer(logger)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildIngestQueue(cfg config.AppConfig) (domain.IngestQueue, error) {
	switch cfg.Queues.Backend {
	case "rabbitmq":
		return queue.NewRabbitIngestQueue(cfg.AMQPURL, cfg.Queues.Ingest)
	default:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisIngestQueue(client, cfg.Queues.Ingest), nil
	}
}
