package repo

import (
	"context"
	"time"

	"tg-news-relay/internal/infra/metrics"
)

// schemaDDL создаёт таблицы и индексы очереди. Выполняется при старте
// каждого сервиса; все выражения идемпотентны.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS news_queue (
    id BIGSERIAL PRIMARY KEY,
    url TEXT UNIQUE NOT NULL,
    title TEXT,
    original_text TEXT,
    processed_text TEXT,
    scheduled_time TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    is_urgent BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    published_at TIMESTAMPTZ,
    claimed_at TIMESTAMPTZ,
    failure_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_news_queue_status ON news_queue (status);
CREATE INDEX IF NOT EXISTS idx_news_queue_scheduled_time ON news_queue (scheduled_time);
CREATE INDEX IF NOT EXISTS idx_news_queue_status_scheduled ON news_queue (status, scheduled_time);

CREATE TABLE IF NOT EXISTS bot_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema применяет DDL очереди и настроек.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schemaDDL)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "news_queue", start, err)
	return storeErr(err)
}
