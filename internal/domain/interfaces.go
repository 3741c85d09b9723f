package domain

import (
	"context"
	"time"
)

// PlanFunc вычисляет время публикации по снимку занятых слотов.
// Вызывается внутри той же транзакции, что и вставка новости,
// иначе инвариант «один слот — одна новость» нарушается гонкой
// между двумя конкурентными Enqueue.
type PlanFunc func(now time.Time, occupied []time.Time) (time.Time, error)

// QueueRepo — долговременное хранилище очереди новостей.
type QueueRepo interface {
	// Insert атомарно проверяет уникальность URL, планирует слот и вставляет запись.
	Insert(ctx context.Context, draft NewsDraft, now time.Time, plan PlanFunc) (NewsItem, error)
	// ClaimDue возвращает все pending-новости с наступившим временем публикации,
	// одновременно переводя их в publishing. Два конкурентных вызова делят
	// множество готовых новостей без пересечений.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]NewsItem, error)
	// ClaimByID переводит конкретную pending-новость в publishing (режим /publish_now).
	ClaimByID(ctx context.Context, id int64) (NewsItem, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	GetByID(ctx context.Context, id int64) (NewsItem, error)
	ListByStatus(ctx context.Context, status ItemStatus, limit int) ([]NewsItem, error)
	Stats(ctx context.Context) (QueueStats, error)
	ClearPending(ctx context.Context) (int64, error)
	// DeletePublishedBefore удаляет опубликованные новости старше порога.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ReleaseStuck возвращает зависшие в publishing новости обратно в pending.
	ReleaseStuck(ctx context.Context, claimedBefore time.Time) ([]NewsItem, error)
}

// SettingsRepo хранит переопределения настроек.
type SettingsRepo interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

// ArticleFetcher извлекает контент статьи по URL.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (Article, error)
}

// Rewriter переписывает статью в заданном редакционном стиле.
type Rewriter interface {
	Rewrite(ctx context.Context, article Article, style string) (string, error)
}

// Publisher отправляет готовую новость в целевой канал.
type Publisher interface {
	Publish(ctx context.Context, item NewsItem) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
