package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов. Всё, что влияет на
// корректность расписания, живёт в настройках БД (usecase/settings);
// здесь только окружение процесса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token         string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		SourceChannel string `envconfig:"SOURCE_CHANNEL_ID"`
		TargetChannel string `envconfig:"TARGET_CHANNEL_ID"`
		AdminUserID   int64  `envconfig:"ADMIN_USER_ID"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9091"`

	DeepSeek struct {
		APIKey  string        `envconfig:"DEEPSEEK_API_KEY"`
		BaseURL string        `envconfig:"DEEPSEEK_API_URL" default:"https://api.deepseek.com/v1"`
		Model   string        `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
		Timeout time.Duration `envconfig:"DEEPSEEK_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Queues struct {
		Ingest  string `envconfig:"INGEST_QUEUE_KEY" default:"ingest_jobs"`
		Backend string `envconfig:"INGEST_QUEUE_BACKEND" default:"redis"`
	} `envconfig:""`

	Publisher struct {
		// Период ежедневной очистки и порог зависших публикаций.
		// Период due-check берётся из настройки check_interval_seconds
		// один раз при старте процесса.
		CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h"`
		StuckAfter      time.Duration `envconfig:"STUCK_AFTER" default:"30m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
