package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"tg-news-relay/internal/domain"
)

// memRepo — упрощённое хранилище в памяти с теми же правилами переходов,
// что и у Postgres-адаптера.
type memRepo struct {
	nextID  int64
	items   map[int64]*domain.NewsItem
	claimed map[int64]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[int64]*domain.NewsItem{}, claimed: map[int64]time.Time{}}
}

func (m *memRepo) Insert(_ context.Context, draft domain.NewsDraft, now time.Time, plan domain.PlanFunc) (domain.NewsItem, error) {
	for _, it := range m.items {
		if it.URL == draft.URL {
			return domain.NewsItem{}, fmt.Errorf("url %s: %w", draft.URL, domain.ErrDuplicateURL)
		}
	}
	var occupied []time.Time
	if !draft.IsUrgent {
		for _, it := range m.items {
			if it.Status == domain.StatusPending && !it.IsUrgent {
				occupied = append(occupied, it.ScheduledTime)
			}
		}
	}
	when, err := plan(now, occupied)
	if err != nil {
		return domain.NewsItem{}, err
	}
	m.nextID++
	item := domain.NewsItem{
		ID:            m.nextID,
		URL:           draft.URL,
		Title:         draft.Title,
		OriginalText:  draft.OriginalText,
		ProcessedText: draft.ProcessedText,
		ScheduledTime: when,
		Status:        domain.StatusPending,
		IsUrgent:      draft.IsUrgent,
		CreatedAt:     now,
	}
	m.items[item.ID] = &item
	return item, nil
}

func (m *memRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.NewsItem, error) {
	var due []domain.NewsItem
	for _, it := range m.items {
		if it.Status == domain.StatusPending && !it.ScheduledTime.After(now) {
			due = append(due, *it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledTime.Equal(due[j].ScheduledTime) {
			return due[i].ScheduledTime.Before(due[j].ScheduledTime)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m.items[due[i].ID].Status = domain.StatusPublishing
		m.claimed[due[i].ID] = now
		due[i].Status = domain.StatusPublishing
	}
	return due, nil
}

func (m *memRepo) ClaimByID(_ context.Context, id int64) (domain.NewsItem, error) {
	it, ok := m.items[id]
	if !ok {
		return domain.NewsItem{}, domain.ErrNotFound
	}
	if it.Status != domain.StatusPending {
		return domain.NewsItem{}, domain.ErrInvalidState
	}
	it.Status = domain.StatusPublishing
	m.claimed[id] = time.Now()
	return *it, nil
}

func (m *memRepo) MarkPublished(_ context.Context, id int64, at time.Time) error {
	it, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.StatusPublishing {
		return domain.ErrInvalidState
	}
	it.Status = domain.StatusPublished
	ts := at
	it.PublishedAt = &ts
	delete(m.claimed, id)
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, id int64, reason string) error {
	it, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.StatusPublishing {
		return domain.ErrInvalidState
	}
	it.Status = domain.StatusFailed
	it.FailureReason = reason
	delete(m.claimed, id)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (domain.NewsItem, error) {
	it, ok := m.items[id]
	if !ok {
		return domain.NewsItem{}, domain.ErrNotFound
	}
	return *it, nil
}

func (m *memRepo) ListByStatus(_ context.Context, status domain.ItemStatus, limit int) ([]domain.NewsItem, error) {
	var out []domain.NewsItem
	for _, it := range m.items {
		if status == "" || it.Status == status {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	for _, it := range m.items {
		stats.Total++
		switch it.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusPublishing:
			stats.Publishing++
		case domain.StatusPublished:
			stats.Published++
		case domain.StatusFailed:
			stats.Failed++
		}
		if it.IsUrgent {
			stats.Urgent++
		}
	}
	return stats, nil
}

func (m *memRepo) ClearPending(_ context.Context) (int64, error) {
	var n int64
	for id, it := range m.items {
		if it.Status == domain.StatusPending {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, it := range m.items {
		if it.Status == domain.StatusPublished && it.PublishedAt != nil && it.PublishedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ReleaseStuck(_ context.Context, claimedBefore time.Time) ([]domain.NewsItem, error) {
	var out []domain.NewsItem
	for id, it := range m.items {
		if it.Status == domain.StatusPublishing && m.claimed[id].Before(claimedBefore) {
			it.Status = domain.StatusPending
			delete(m.claimed, id)
			out = append(out, *it)
		}
	}
	return out, nil
}

func testSchedule() domain.Schedule {
	return domain.Schedule{
		PublishHours:     []int{8, 12, 16, 20},
		UrgentKeywords:   []string{"молния", "breaking"},
		MaxItemsPerBatch: 5,
		Location:         time.UTC,
	}
}

func TestEnqueueAssignsSlotFromSchedule(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	hour := item.ScheduledTime.UTC().Hour()
	allowed := map[int]bool{8: true, 12: true, 16: true, 20: true}
	if !allowed[hour] {
		t.Fatalf("час %d не входит в расписание", hour)
	}
	if item.Status != domain.StatusPending {
		t.Fatalf("ожидали pending, получили %s", item.Status)
	}
}

func TestEnqueueDuplicateURL(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	if _, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, testSchedule()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, testSchedule())
	if !errors.Is(err, domain.ErrDuplicateURL) {
		t.Fatalf("ожидали ErrDuplicateURL, получили %v", err)
	}
	if len(repo.items) != 1 {
		t.Fatalf("ожидали ровно одну запись, получили %d", len(repo.items))
	}
}

func TestEnqueueDistinctSlots(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	seen := map[int64]bool{}
	for i := 0; i < 6; i++ {
		item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: fmt.Sprintf("https://news.example/%d", i)}, testSchedule())
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if seen[item.ScheduledTime.Unix()] {
			t.Fatalf("слот %v выдан дважды", item.ScheduledTime)
		}
		seen[item.ScheduledTime.Unix()] = true
	}
}

func TestEnqueueUrgentIsImmediatelyDue(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	before := time.Now()
	item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/urgent", IsUrgent: true}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if item.ScheduledTime.Before(before.Add(-time.Second)) || item.ScheduledTime.After(time.Now().Add(time.Second)) {
		t.Fatalf("срочная новость должна получить время «сейчас», получили %v", item.ScheduledTime)
	}

	due, err := svc.Due(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(due) != 1 || due[0].ID != item.ID {
		t.Fatalf("срочная новость не попала в ближайший due-check: %+v", due)
	}
}

func TestDueClaimsOnlyOnce(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/u", IsUrgent: true}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	first, err := svc.Due(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("ожидали одну новость, получили %d", len(first))
	}
	second, err := svc.Due(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("повторный due-check не должен вернуть захваченную новость: %+v", second)
	}

	// После возврата в pending новость снова claimable.
	released, err := svc.ReleaseStuck(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(released) != 1 || released[0].ID != item.ID {
		t.Fatalf("ожидали возврат новости %d, получили %+v", item.ID, released)
	}
	third, err := svc.Due(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("возвращённая новость должна претендовать на публикацию снова")
	}
}

func TestDueOrdering(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	base := time.Now().Add(-time.Hour)
	// Вставляем напрямую, чтобы управлять scheduled_time.
	for i, offset := range []time.Duration{30 * time.Minute, 10 * time.Minute, 10 * time.Minute} {
		when := base.Add(offset)
		_, err := repo.Insert(context.Background(), domain.NewsDraft{URL: fmt.Sprintf("https://news.example/o%d", i)}, base,
			func(time.Time, []time.Time) (time.Time, error) { return when, nil })
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	due, err := svc.Due(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("ожидали три новости, получили %d", len(due))
	}
	if due[0].ID != 2 || due[1].ID != 3 || due[2].ID != 1 {
		t.Fatalf("неверный порядок: %d, %d, %d", due[0].ID, due[1].ID, due[2].ID)
	}
}

func TestDueLimitCarriesOverToNextTick(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	base := time.Now().Add(-time.Hour)
	for i, offset := range []time.Duration{10 * time.Minute, 20 * time.Minute, 30 * time.Minute} {
		when := base.Add(offset)
		_, err := repo.Insert(context.Background(), domain.NewsDraft{URL: fmt.Sprintf("https://news.example/c%d", i)}, base,
			func(time.Time, []time.Time) (time.Time, error) { return when, nil })
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	first, err := svc.Due(context.Background(), time.Now(), 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("лимит должен ограничить захват двумя новостями, получили %d", len(first))
	}
	if first[0].ID != 1 || first[1].ID != 2 {
		t.Fatalf("захватываются самые ранние слоты: %d, %d", first[0].ID, first[1].ID)
	}

	// Не поместившаяся новость остаётся pending и забирается следующим тиком.
	second, err := svc.Due(context.Background(), time.Now(), 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(second) != 1 || second[0].ID != 3 {
		t.Fatalf("ожидали новость 3 на следующем тике, получили %+v", second)
	}
}

func TestMarkPublishedRequiresPublishing(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.MarkPublished(context.Background(), item.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ожидали ErrInvalidState, получили %v", err)
	}
	got, err := svc.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("статус изменился при отклонённом переходе: %s", got.Status)
	}
}

func TestMarkFailedIsTerminalUntilOperator(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a", IsUrgent: true}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.Due(context.Background(), time.Now(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.MarkFailed(context.Background(), item.ID, "telegram: 502"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Повторная подача того же URL отклоняется и после ошибки.
	if _, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, testSchedule()); !errors.Is(err, domain.ErrDuplicateURL) {
		t.Fatalf("ожидали ErrDuplicateURL, получили %v", err)
	}
}

func TestCleanupDeletesOnlyOldPublished(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	now := time.Now()

	old := now.Add(-10 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)

	published := func(url string, at time.Time) int64 {
		item, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: url, IsUrgent: true}, testSchedule())
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if _, err := repo.ClaimByID(context.Background(), item.ID); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if err := repo.MarkPublished(context.Background(), item.ID, at); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		return item.ID
	}

	oldID := published("https://news.example/old", old)
	freshID := published("https://news.example/fresh", fresh)
	pendingItem, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/pending"}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	deleted, err := svc.Cleanup(context.Background(), now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("ожидали одно удаление, получили %d", deleted)
	}
	if _, err := svc.Get(context.Background(), oldID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("старая опубликованная новость должна быть удалена")
	}
	if _, err := svc.Get(context.Background(), freshID); err != nil {
		t.Fatalf("свежая опубликованная новость должна остаться: %v", err)
	}
	if _, err := svc.Get(context.Background(), pendingItem.ID); err != nil {
		t.Fatalf("pending любого возраста должен остаться: %v", err)
	}
}

func TestClearPendingLeavesOtherStatuses(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	pendingItem, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/p"}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	claimed, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/c", IsUrgent: true}, testSchedule())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := repo.ClaimByID(context.Background(), claimed.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	n, err := svc.ClearPending(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 1 {
		t.Fatalf("ожидали одно удаление, получили %d", n)
	}
	if _, err := svc.Get(context.Background(), pendingItem.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("pending должен быть удалён")
	}
	if _, err := svc.Get(context.Background(), claimed.ID); err != nil {
		t.Fatalf("publishing не должен быть удалён: %v", err)
	}
}

func TestEnqueueEmptyScheduleFails(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	sched := testSchedule()
	sched.PublishHours = nil
	if _, err := svc.Enqueue(context.Background(), domain.NewsDraft{URL: "https://news.example/a"}, sched); !errors.Is(err, domain.ErrEmptySchedule) {
		t.Fatalf("ожидали ErrEmptySchedule, получили %v", err)
	}
}
