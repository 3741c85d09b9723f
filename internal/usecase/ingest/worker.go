package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
	"tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

// TTL отметки «ссылка уже обрабатывалась». Защищает от повторной
// загрузки статьи при редоставке задачи, пока URL ещё не попал в БД.
const seenURLTTL = 24 * time.Hour

// Worker обрабатывает задачи из очереди ссылок: загружает статью,
// прогоняет через рерайтер и ставит результат в очередь публикации.
type Worker struct {
	log        zerolog.Logger
	jobs       domain.IngestQueue
	fetcher    domain.ArticleFetcher
	rewriter   domain.Rewriter
	queueUC    *queue.Service
	settingsUC *settings.Service
	cache      domain.Cache
}

// NewWorker создаёт обработчика.
func NewWorker(log zerolog.Logger, jobs domain.IngestQueue, fetcher domain.ArticleFetcher, rewriter domain.Rewriter, queueUC *queue.Service, settingsUC *settings.Service, cache domain.Cache) *Worker {
	return &Worker{
		log:        log,
		jobs:       jobs,
		fetcher:    fetcher,
		rewriter:   rewriter,
		queueUC:    queueUC,
		settingsUC: settingsUC,
		cache:      cache,
	}
}

// Run крутит цикл обработки до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.jobs.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("ingest: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().Str("job_id", job.ID).Int("urls", len(job.URLs)).Logger()

		if job.ID == "" {
			jobLog.Error().Msg("ingest: задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("ingest: не удалось подтвердить задачу")
			}
			continue
		}

		retry := w.ProcessJob(ctx, job, jobLog)
		if retry {
			jobLog.Warn().Msg("ingest: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("ingest: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("ingest: не удалось подтвердить задачу")
		}
	}
}

// ProcessJob обрабатывает одну задачу. Возвращает true, если задачу
// нужно вернуть в очередь на повтор: расписание недоступно либо
// хранилище не ответило. Ошибки отдельных ссылок повтора не требуют.
func (w *Worker) ProcessJob(ctx context.Context, job domain.IngestJob, jobLog zerolog.Logger) bool {
	metrics.IngestJobsTotal.Inc()

	// Снимок настроек берётся на задачу целиком: все ссылки одного
	// сообщения планируются по одному и тому же расписанию.
	sched, err := w.settingsUC.Reload(ctx)
	if err != nil {
		jobLog.Error().Err(err).Msg("ingest: не удалось перечитать настройки")
		return true
	}

	retry := false
	for _, url := range job.URLs {
		if err := w.processURL(ctx, url, sched, jobLog); err != nil {
			if errors.Is(err, domain.ErrStoreTimeout) {
				retry = true
				continue
			}
			metrics.IngestErrorsTotal.Inc()
			jobLog.Error().Err(err).Str("url", url).Msg("ingest: ссылка не обработана")
		}
	}
	return retry
}

func (w *Worker) processURL(ctx context.Context, url string, sched domain.Schedule, jobLog zerolog.Logger) error {
	process := func() error {
		article, err := w.fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}

		urgent := sched.MatchesUrgent(article.Title + " " + article.Text)

		processed, err := w.rewriter.Rewrite(ctx, article, sched.ArticleStyle)
		if err != nil {
			return err
		}

		draft := domain.NewsDraft{
			URL:           article.URL,
			Title:         article.Title,
			OriginalText:  article.Text,
			ProcessedText: processed,
			IsUrgent:      urgent,
		}
		item, err := w.queueUC.Enqueue(ctx, draft, sched)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateURL) {
				jobLog.Info().Str("url", url).Msg("ingest: ссылка уже в очереди")
				return nil
			}
			return err
		}
		jobLog.Info().
			Int64("news_id", item.ID).
			Bool("urgent", item.IsUrgent).
			Time("scheduled", item.ScheduledTime).
			Msg("ingest: новость поставлена в очередь")
		return nil
	}

	if w.cache == nil {
		return process()
	}
	return w.cache.Once("ingest:url:"+url, seenURLTTL, process)
}
