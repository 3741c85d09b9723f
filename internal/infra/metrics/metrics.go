package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IngestJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_jobs_total",
		Help: "Количество принятых задач на обработку ссылок",
	})
	IngestErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Ошибки обработки ссылок",
	})
	EnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_enqueued_total",
		Help: "Количество новостей, поставленных в очередь",
	}, []string{"urgency"})
	DuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "news_duplicates_total",
		Help: "Отклонённые повторные URL",
	})
	PublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_publish_total",
		Help: "Результаты публикаций",
	}, []string{"status"})
	StuckReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "news_stuck_released_total",
		Help: "Новости, возвращённые из publishing обратно в pending",
	})
	CleanupDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "news_cleanup_deleted_total",
		Help: "Удалённые при ретенции опубликованные новости",
	})
	SlotLeadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_lead_seconds",
		Help:    "Время от постановки в очередь до назначенного слота",
		Buckets: prometheus.ExponentialBuckets(60, 2, 14),
	})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "news_queue_depth",
		Help: "Количество новостей в очереди по статусам",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IngestJobsTotal,
		IngestErrorsTotal,
		EnqueuedTotal,
		DuplicatesTotal,
		PublishTotal,
		StuckReleasedTotal,
		CleanupDeletedTotal,
		SlotLeadSeconds,
		QueueDepth,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncEnqueued увеличивает счётчик поставленных в очередь новостей.
func IncEnqueued(urgent bool) {
	label := "normal"
	if urgent {
		label = "urgent"
	}
	EnqueuedTotal.WithLabelValues(label).Inc()
}

// SetQueueDepth обновляет глубину очереди по статусам.
func SetQueueDepth(pending, publishing, failed int) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("publishing").Set(float64(publishing))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// IncPublish учитывает результат публикации.
func IncPublish(success bool) {
	label := "published"
	if !success {
		label = "failed"
	}
	PublishTotal.WithLabelValues(label).Inc()
}
