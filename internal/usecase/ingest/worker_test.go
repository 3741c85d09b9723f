package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

type stubFetcher struct {
	articles map[string]domain.Article
	err      error
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (domain.Article, error) {
	if s.err != nil {
		return domain.Article{}, s.err
	}
	article, ok := s.articles[url]
	if !ok {
		return domain.Article{}, errors.New("статья не найдена")
	}
	return article, nil
}

type stubRewriter struct {
	lastStyle string
	err       error
}

func (s *stubRewriter) Rewrite(_ context.Context, article domain.Article, style string) (string, error) {
	s.lastStyle = style
	if s.err != nil {
		return "", s.err
	}
	return "обработанный: " + article.Title, nil
}

type stubQueueRepo struct {
	items  []domain.NewsItem
	nextID int64
	err    error
}

func (r *stubQueueRepo) Insert(_ context.Context, draft domain.NewsDraft, now time.Time, plan domain.PlanFunc) (domain.NewsItem, error) {
	if r.err != nil {
		return domain.NewsItem{}, r.err
	}
	for _, item := range r.items {
		if item.URL == draft.URL {
			return domain.NewsItem{}, domain.ErrDuplicateURL
		}
	}
	var occupied []time.Time
	for _, item := range r.items {
		if item.Status == domain.StatusPending && !item.IsUrgent {
			occupied = append(occupied, item.ScheduledTime)
		}
	}
	scheduled, err := plan(now, occupied)
	if err != nil {
		return domain.NewsItem{}, err
	}
	r.nextID++
	item := domain.NewsItem{
		ID:            r.nextID,
		URL:           draft.URL,
		Title:         draft.Title,
		OriginalText:  draft.OriginalText,
		ProcessedText: draft.ProcessedText,
		ScheduledTime: scheduled,
		Status:        domain.StatusPending,
		IsUrgent:      draft.IsUrgent,
		CreatedAt:     now,
	}
	r.items = append(r.items, item)
	return item, nil
}

func (r *stubQueueRepo) ClaimDue(context.Context, time.Time, int) ([]domain.NewsItem, error) {
	return nil, nil
}
func (r *stubQueueRepo) ClaimByID(context.Context, int64) (domain.NewsItem, error) {
	return domain.NewsItem{}, domain.ErrNotFound
}
func (r *stubQueueRepo) MarkPublished(context.Context, int64, time.Time) error { return nil }
func (r *stubQueueRepo) MarkFailed(context.Context, int64, string) error       { return nil }
func (r *stubQueueRepo) GetByID(context.Context, int64) (domain.NewsItem, error) {
	return domain.NewsItem{}, domain.ErrNotFound
}
func (r *stubQueueRepo) ListByStatus(context.Context, domain.ItemStatus, int) ([]domain.NewsItem, error) {
	return nil, nil
}
func (r *stubQueueRepo) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}
func (r *stubQueueRepo) ClearPending(context.Context) (int64, error) { return 0, nil }
func (r *stubQueueRepo) DeletePublishedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (r *stubQueueRepo) ReleaseStuck(context.Context, time.Time) ([]domain.NewsItem, error) {
	return nil, nil
}

type stubSettingsRepo struct {
	values map[string]string
}

func (r *stubSettingsRepo) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := r.values[key]
	return v, ok, nil
}
func (r *stubSettingsRepo) SetSetting(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}
func (r *stubSettingsRepo) AllSettings(context.Context) (map[string]string, error) {
	return r.values, nil
}

func newTestWorker(repo *stubQueueRepo, fetcher *stubFetcher, rewriter *stubRewriter, overrides map[string]string) *Worker {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return NewWorker(
		zerolog.Nop(),
		nil,
		fetcher,
		rewriter,
		queue.NewService(repo),
		settings.NewService(&stubSettingsRepo{values: overrides}),
		nil,
	)
}

func TestProcessJobEnqueuesNews(t *testing.T) {
	repo := &stubQueueRepo{}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/a": {URL: "https://example.com/a", Title: "Обычная новость", Text: "Текст."},
	}}
	rewriter := &stubRewriter{}
	w := newTestWorker(repo, fetcher, rewriter, map[string]string{"article_style": "ironic"})

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/a"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("повтор не ожидался")
	}
	if len(repo.items) != 1 {
		t.Fatalf("ожидалась 1 новость в очереди, получено %d", len(repo.items))
	}
	item := repo.items[0]
	if item.ProcessedText != "обработанный: Обычная новость" {
		t.Fatalf("текст не прошёл через рерайтер: %q", item.ProcessedText)
	}
	if rewriter.lastStyle != "ironic" {
		t.Fatalf("рерайтеру передан неверный стиль: %q", rewriter.lastStyle)
	}
	if item.IsUrgent {
		t.Fatal("обычная новость не должна быть срочной")
	}
}

func TestProcessJobDetectsUrgent(t *testing.T) {
	repo := &stubQueueRepo{}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/breaking": {URL: "https://example.com/breaking", Title: "МОЛНИЯ: событие", Text: "Срочный текст."},
	}}
	w := newTestWorker(repo, fetcher, &stubRewriter{}, nil)

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/breaking"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("повтор не ожидался")
	}
	if len(repo.items) != 1 || !repo.items[0].IsUrgent {
		t.Fatal("новость с ключевым словом должна быть срочной")
	}
}

func TestProcessJobSkipsBrokenLink(t *testing.T) {
	repo := &stubQueueRepo{}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/ok": {URL: "https://example.com/ok", Title: "Новость", Text: "Текст."},
	}}
	w := newTestWorker(repo, fetcher, &stubRewriter{}, nil)

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/404", "https://example.com/ok"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("битая ссылка не должна требовать повтора")
	}
	if len(repo.items) != 1 {
		t.Fatalf("рабочая ссылка должна быть обработана, в очереди %d", len(repo.items))
	}
}

func TestProcessJobDuplicateIsNotError(t *testing.T) {
	repo := &stubQueueRepo{}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/a": {URL: "https://example.com/a", Title: "Новость", Text: "Текст."},
	}}
	w := newTestWorker(repo, fetcher, &stubRewriter{}, nil)

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/a"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("повтор не ожидался")
	}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("дубликат не должен требовать повтора")
	}
	if len(repo.items) != 1 {
		t.Fatalf("дубликат не должен добавлять новость, в очереди %d", len(repo.items))
	}
}

func TestProcessJobRetriesOnStoreTimeout(t *testing.T) {
	repo := &stubQueueRepo{err: domain.ErrStoreTimeout}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/a": {URL: "https://example.com/a", Title: "Новость", Text: "Текст."},
	}}
	w := newTestWorker(repo, fetcher, &stubRewriter{}, nil)

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/a"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); !retry {
		t.Fatal("таймаут хранилища должен возвращать задачу в очередь")
	}
}

func TestProcessJobRewriteFailureSkipsURL(t *testing.T) {
	repo := &stubQueueRepo{}
	fetcher := &stubFetcher{articles: map[string]domain.Article{
		"https://example.com/a": {URL: "https://example.com/a", Title: "Новость", Text: "Текст."},
	}}
	w := newTestWorker(repo, fetcher, &stubRewriter{err: errors.New("api down")}, nil)

	job := domain.IngestJob{ID: "j1", URLs: []string{"https://example.com/a"}}
	if retry := w.ProcessJob(context.Background(), job, zerolog.Nop()); retry {
		t.Fatal("ошибка рерайта не должна требовать повтора")
	}
	if len(repo.items) != 0 {
		t.Fatalf("новость без рерайта не должна попадать в очередь, получено %d", len(repo.items))
	}
}
