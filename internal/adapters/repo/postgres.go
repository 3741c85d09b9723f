package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
)

// Postgres реализует domain.QueueRepo и domain.SettingsRepo на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.QueueRepo = (*Postgres)(nil)
var _ domain.SettingsRepo = (*Postgres)(nil)

// Ключ advisory-блокировки назначения слотов: очередь одна на процесс,
// блокировка сериализует конкурентные Enqueue внутри их транзакций.
const slotLockKey = int64(0x6e657773) // "news"

const itemColumns = `id, url, title, original_text, processed_text, scheduled_time, status, is_urgent, created_at, published_at, failure_reason`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// storeErr переводит таймауты и обрывы соединения в domain.ErrStoreTimeout,
// чтобы вызывающий мог отличить временную ошибку от детерминированной.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
	}
	return err
}

func scanItem(row pgx.Row) (domain.NewsItem, error) {
	var (
		item        domain.NewsItem
		title       sql.NullString
		original    sql.NullString
		processed   sql.NullString
		publishedAt sql.NullTime
		failReason  sql.NullString
	)
	err := row.Scan(&item.ID, &item.URL, &title, &original, &processed, &item.ScheduledTime, &item.Status, &item.IsUrgent, &item.CreatedAt, &publishedAt, &failReason)
	if err != nil {
		return domain.NewsItem{}, err
	}
	item.Title = title.String
	item.OriginalText = original.String
	item.ProcessedText = processed.String
	item.FailureReason = failReason.String
	if publishedAt.Valid {
		ts := publishedAt.Time
		item.PublishedAt = &ts
	}
	return item, nil
}

// Insert атомарно назначает слот и вставляет новость. Снимок занятых
// слотов берётся в той же транзакции, что и вставка; advisory-блокировка
// исключает гонку двух конкурентных Insert за один слот.
func (p *Postgres) Insert(ctx context.Context, draft domain.NewsDraft, now time.Time, plan domain.PlanFunc) (domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "news_queue", start, err)
	if err != nil {
		return domain.NewsItem{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, slotLockKey); err != nil {
		return domain.NewsItem{}, storeErr(err)
	}

	var occupied []time.Time
	if !draft.IsUrgent {
		start = time.Now()
		rows, err := tx.Query(ctx, `
SELECT scheduled_time FROM news_queue WHERE status = 'pending' AND NOT is_urgent
`)
		metrics.ObserveNetworkRequest("postgres", "occupied_select", "news_queue", start, err)
		if err != nil {
			return domain.NewsItem{}, storeErr(err)
		}
		for rows.Next() {
			var ts time.Time
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return domain.NewsItem{}, storeErr(err)
			}
			occupied = append(occupied, ts)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return domain.NewsItem{}, storeErr(err)
		}
	}

	scheduled, err := plan(now, occupied)
	if err != nil {
		return domain.NewsItem{}, err
	}

	start = time.Now()
	row := tx.QueryRow(ctx, `
INSERT INTO news_queue (url, title, original_text, processed_text, scheduled_time, status, is_urgent)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), $5, 'pending', $6)
RETURNING `+itemColumns, draft.URL, draft.Title, draft.OriginalText, draft.ProcessedText, scheduled, draft.IsUrgent)
	item, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "news_insert", "news_queue", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.NewsItem{}, fmt.Errorf("url %s: %w", draft.URL, domain.ErrDuplicateURL)
		}
		return domain.NewsItem{}, storeErr(err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "news_queue", start, err)
	if err != nil {
		return domain.NewsItem{}, storeErr(err)
	}
	return item, nil
}

// ClaimDue переводит все готовые pending-новости в publishing и возвращает их.
// SKIP LOCKED гарантирует, что конкурентные вызовы делят множество без пересечений.
func (p *Postgres) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
UPDATE news_queue SET status = 'publishing', claimed_at = now()
WHERE id IN (
    SELECT id FROM news_queue
    WHERE status = 'pending' AND scheduled_time <= $1
    ORDER BY scheduled_time, id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING `+itemColumns, now, limit)
	metrics.ObserveNetworkRequest("postgres", "claim_due", "news_queue", start, err)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	// UPDATE…RETURNING не гарантирует порядок строк.
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ScheduledTime.Equal(items[j].ScheduledTime) {
			return items[i].ScheduledTime.Before(items[j].ScheduledTime)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// ClaimByID захватывает конкретную pending-новость (команда /publish_now).
func (p *Postgres) ClaimByID(ctx context.Context, id int64) (domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE news_queue SET status = 'publishing', claimed_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING `+itemColumns, id)
	item, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "claim_by_id", "news_queue", start, err)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.NewsItem{}, storeErr(err)
	}
	return domain.NewsItem{}, p.explainMissing(ctx, id, domain.StatusPending)
}

// explainMissing различает «нет такой записи» и «запись не в ожидаемом статусе».
func (p *Postgres) explainMissing(ctx context.Context, id int64, want domain.ItemStatus) error {
	var status domain.ItemStatus
	err := p.pool.QueryRow(ctx, `SELECT status FROM news_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("новость %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return storeErr(err)
	}
	return fmt.Errorf("новость %d в статусе %s, ожидали %s: %w", id, status, want, domain.ErrInvalidState)
}

// MarkPublished завершает публикацию. Разрешён только переход из publishing.
func (p *Postgres) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE news_queue SET status = 'published', published_at = $2, claimed_at = NULL
WHERE id = $1 AND status = 'publishing'
`, id, at)
	metrics.ObserveNetworkRequest("postgres", "mark_published", "news_queue", start, err)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainMissing(ctx, id, domain.StatusPublishing)
	}
	return nil
}

// MarkFailed фиксирует неудачную публикацию. Автоповтора нет: повторная
// отправка — явное действие оператора.
func (p *Postgres) MarkFailed(ctx context.Context, id int64, reason string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE news_queue SET status = 'failed', failure_reason = NULLIF($2,''), claimed_at = NULL
WHERE id = $1 AND status = 'publishing'
`, id, reason)
	metrics.ObserveNetworkRequest("postgres", "mark_failed", "news_queue", start, err)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainMissing(ctx, id, domain.StatusPublishing)
	}
	return nil
}

// GetByID возвращает новость по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM news_queue WHERE id = $1`, id)
	item, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "news_get", "news_queue", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewsItem{}, fmt.Errorf("новость %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.NewsItem{}, storeErr(err)
	}
	return item, nil
}

// ListByStatus возвращает новости в указанном статусе, отсортированные по слоту.
// Пустой статус означает «все».
func (p *Postgres) ListByStatus(ctx context.Context, status domain.ItemStatus, limit int) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + itemColumns + ` FROM news_queue WHERE ($1 = '' OR status = $1) ORDER BY scheduled_time, id LIMIT $2`
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, string(status), limit)
	metrics.ObserveNetworkRequest("postgres", "news_list", "news_queue", start, err)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		items = append(items, item)
	}
	return items, storeErr(rows.Err())
}

// Stats агрегирует состояние очереди для команды /status.
func (p *Postgres) Stats(ctx context.Context) (domain.QueueStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var stats domain.QueueStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE status = 'pending'),
    COUNT(*) FILTER (WHERE status = 'publishing'),
    COUNT(*) FILTER (WHERE status = 'published'),
    COUNT(*) FILTER (WHERE status = 'failed'),
    COUNT(*) FILTER (WHERE is_urgent)
FROM news_queue
`).Scan(&stats.Total, &stats.Pending, &stats.Publishing, &stats.Published, &stats.Failed, &stats.Urgent)
	metrics.ObserveNetworkRequest("postgres", "queue_stats", "news_queue", start, err)
	if err != nil {
		return domain.QueueStats{}, storeErr(err)
	}

	next, err := p.ListByStatus(ctx, domain.StatusPending, 5)
	if err != nil {
		return domain.QueueStats{}, err
	}
	stats.Next = next
	return stats, nil
}

// ClearPending удаляет все ожидающие новости; publishing/published/failed не трогает.
func (p *Postgres) ClearPending(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM news_queue WHERE status = 'pending'`)
	metrics.ObserveNetworkRequest("postgres", "clear_pending", "news_queue", start, err)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

// DeletePublishedBefore удаляет опубликованные новости старше порога.
func (p *Postgres) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM news_queue WHERE status = 'published' AND published_at < $1
`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "cleanup", "news_queue", start, err)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseStuck возвращает зависшие в publishing новости обратно в pending.
func (p *Postgres) ReleaseStuck(ctx context.Context, claimedBefore time.Time) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
UPDATE news_queue SET status = 'pending', claimed_at = NULL
WHERE status = 'publishing' AND claimed_at < $1
RETURNING `+itemColumns, claimedBefore)
	metrics.ObserveNetworkRequest("postgres", "release_stuck", "news_queue", start, err)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		items = append(items, item)
	}
	return items, storeErr(rows.Err())
}
