package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-news-relay/internal/infra/metrics"
)

// GetSetting возвращает переопределение настройки, если оно сохранено.
func (p *Postgres) GetSetting(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var value string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT value FROM bot_settings WHERE key = $1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "setting_get", "bot_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr(err)
	}
	return value, true, nil
}

// SetSetting сохраняет переопределение настройки.
func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bot_settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`, key, value)
	metrics.ObserveNetworkRequest("postgres", "setting_set", "bot_settings", start, err)
	return storeErr(err)
}

// AllSettings возвращает все сохранённые переопределения.
func (p *Postgres) AllSettings(ctx context.Context) (map[string]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM bot_settings`)
	metrics.ObserveNetworkRequest("postgres", "settings_all", "bot_settings", start, err)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, storeErr(err)
		}
		out[key] = value
	}
	return out, storeErr(rows.Err())
}
