package domain

import (
	"strings"
	"time"
)

// ItemStatus описывает этап жизненного цикла новости в очереди.
type ItemStatus string

const (
	// StatusPending — новость ждёт своего слота публикации.
	StatusPending ItemStatus = "pending"
	// StatusPublishing — новость захвачена публикатором, идёт отправка.
	StatusPublishing ItemStatus = "publishing"
	// StatusPublished — новость успешно опубликована.
	StatusPublished ItemStatus = "published"
	// StatusFailed — публикация завершилась ошибкой, требуется вмешательство оператора.
	StatusFailed ItemStatus = "failed"
)

// NewsItem представляет одну новость в очереди публикации.
type NewsItem struct {
	ID            int64
	URL           string
	Title         string
	OriginalText  string
	ProcessedText string
	ScheduledTime time.Time
	Status        ItemStatus
	IsUrgent      bool
	CreatedAt     time.Time
	PublishedAt   *time.Time
	FailureReason string
}

// NewsDraft содержит данные новой новости до назначения слота.
type NewsDraft struct {
	URL           string
	Title         string
	OriginalText  string
	ProcessedText string
	IsUrgent      bool
}

// Article содержит извлечённый контент статьи по URL.
type Article struct {
	URL   string
	Title string
	Text  string
}

// QueueStats агрегирует состояние очереди для команды /status.
type QueueStats struct {
	Total      int
	Pending    int
	Publishing int
	Published  int
	Failed     int
	Urgent     int
	Next       []NewsItem
}

// Schedule — неизменяемый снимок настроек расписания.
// Новый снимок получают через settings.Reload; фоновые изменения
// настроек на уже выданный снимок не влияют.
type Schedule struct {
	PublishHours         []int
	UrgentKeywords       []string
	MaxItemsPerBatch     int
	ArticleStyle         string
	CheckIntervalSeconds int
	Location             *time.Location
}

// MatchesUrgent проверяет текст на срочные ключевые слова без учёта регистра.
func (s Schedule) MatchesUrgent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range s.UrgentKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
