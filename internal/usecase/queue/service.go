package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
	"tg-news-relay/internal/usecase/slots"
)

// ErrEmptyURL возвращается при попытке поставить в очередь новость без URL.
var ErrEmptyURL = errors.New("url новости пуст")

// Service — движок очереди: связывает хранилище, планировщик слотов
// и снимок настроек. Все мутации проходят короткими транзакциями
// хранилища; внешние вызовы (рерайт, отправка) здесь не выполняются.
type Service struct {
	repo domain.QueueRepo
}

// NewService создаёт движок очереди.
func NewService(repo domain.QueueRepo) *Service {
	return &Service{repo: repo}
}

// Enqueue ставит новость в очередь. Срочная новость получает время
// «сейчас» и становится готовой к ближайшему due-check; обычная — первый
// свободный слот, вычисленный внутри транзакции вставки.
func (s *Service) Enqueue(ctx context.Context, draft domain.NewsDraft, sched domain.Schedule) (domain.NewsItem, error) {
	if draft.URL == "" {
		return domain.NewsItem{}, ErrEmptyURL
	}
	loc := sched.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	var plan domain.PlanFunc
	if draft.IsUrgent {
		plan = func(now time.Time, _ []time.Time) (time.Time, error) { return now, nil }
	} else {
		hours := sched.PublishHours
		plan = func(now time.Time, occupied []time.Time) (time.Time, error) {
			return slots.Next(now, occupied, hours, loc)
		}
	}

	item, err := s.repo.Insert(ctx, draft, now, plan)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateURL) {
			metrics.DuplicatesTotal.Inc()
		}
		return domain.NewsItem{}, err
	}
	metrics.IncEnqueued(item.IsUrgent)
	metrics.SlotLeadSeconds.Observe(item.ScheduledTime.Sub(now).Seconds())
	return item, nil
}

// Due возвращает готовые к публикации новости, атомарно переведя их
// в publishing. Порядок: scheduled_time, затем id. limit ограничивает
// захват одним тиком (max_items_per_batch); не поместившиеся новости
// остаются pending и забираются следующим вызовом.
func (s *Service) Due(ctx context.Context, now time.Time, limit int) ([]domain.NewsItem, error) {
	return s.repo.ClaimDue(ctx, now, limit)
}

// Claim захватывает конкретную новость для немедленной публикации.
func (s *Service) Claim(ctx context.Context, id int64) (domain.NewsItem, error) {
	return s.repo.ClaimByID(ctx, id)
}

// MarkPublished фиксирует успешную публикацию захваченной новости.
func (s *Service) MarkPublished(ctx context.Context, id int64) error {
	if err := s.repo.MarkPublished(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	metrics.IncPublish(true)
	return nil
}

// MarkFailed фиксирует неудачную публикацию. Повторной попытки не будет,
// пока оператор не вмешается.
func (s *Service) MarkFailed(ctx context.Context, id int64, reason string) error {
	if err := s.repo.MarkFailed(ctx, id, reason); err != nil {
		return err
	}
	metrics.IncPublish(false)
	return nil
}

// Get возвращает новость по идентификатору.
func (s *Service) Get(ctx context.Context, id int64) (domain.NewsItem, error) {
	return s.repo.GetByID(ctx, id)
}

// List возвращает новости в указанном статусе (пустой статус — все).
func (s *Service) List(ctx context.Context, status domain.ItemStatus, limit int) ([]domain.NewsItem, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

// Stats возвращает агрегированное состояние очереди.
func (s *Service) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// ClearPending удаляет все ожидающие новости.
func (s *Service) ClearPending(ctx context.Context) (int64, error) {
	return s.repo.ClearPending(ctx)
}

// Cleanup удаляет опубликованные новости старше cutoff.
// pending/publishing/failed любого возраста остаются.
func (s *Service) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.CleanupDeletedTotal.Add(float64(deleted))
	return deleted, nil
}

// ReleaseStuck возвращает в pending новости, зависшие в publishing
// дольше порога: внешняя отправка так и не отчиталась о результате.
func (s *Service) ReleaseStuck(ctx context.Context, claimedBefore time.Time) ([]domain.NewsItem, error) {
	released, err := s.repo.ReleaseStuck(ctx, claimedBefore)
	if err != nil {
		return nil, err
	}
	metrics.StuckReleasedTotal.Add(float64(len(released)))
	return released, nil
}

// NextPublication возвращает время ближайшего слота без учёта занятости.
func (s *Service) NextPublication(sched domain.Schedule, now time.Time) (time.Time, error) {
	next, err := slots.NextAny(now.In(locationOf(sched)), sched.PublishHours, locationOf(sched))
	if err != nil {
		return time.Time{}, fmt.Errorf("ближайший слот: %w", err)
	}
	return next, nil
}

func locationOf(sched domain.Schedule) *time.Location {
	if sched.Location != nil {
		return sched.Location
	}
	return time.UTC
}
