package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tg-news-relay/internal/domain"
)

// Ключи настроек, доступные через /set и /settings.
const (
	KeyPublishHours   = "publish_hours"
	KeyUrgentKeywords = "urgent_keywords"
	KeyMaxItemsBatch  = "max_items_per_batch"
	KeyArticleStyle   = "article_style"
	KeyCheckInterval  = "check_interval_seconds"
	KeyTextLength     = "text_length"
	KeyRetentionDays  = "retention_days"
	KeyTimezone       = "timezone"
)

// Стили написания статей.
var articleStyles = []string{"informative", "ironic", "cynical", "playful", "mocking"}

// Длины текста и их примерный размер в символах.
var textLengths = map[string]int{"short": 1000, "medium": 2000, "long": 3000}

type settingDef struct {
	def   string
	check func(string) error
}

var registry = map[string]settingDef{
	KeyPublishHours:   {def: "8,12,16,20", check: checkPublishHours},
	KeyUrgentKeywords: {def: "молния,breaking", check: checkKeywords},
	KeyMaxItemsBatch:  {def: "5", check: checkPositiveInt},
	KeyArticleStyle:   {def: "informative", check: checkStyle},
	KeyCheckInterval:  {def: "60", check: checkPositiveInt},
	KeyTextLength:     {def: "medium", check: checkTextLength},
	KeyRetentionDays:  {def: "7", check: checkPositiveInt},
	KeyTimezone:       {def: "Europe/Madrid", check: checkTimezone},
}

// Service реализует хранилище настроек: значения по умолчанию плюс
// переопределения из БД. Изменения не распространяются сами по себе —
// движок и планировщик обязаны перечитать снимок через Reload.
type Service struct {
	repo domain.SettingsRepo
}

// NewService создаёт сервис настроек.
func NewService(repo domain.SettingsRepo) *Service {
	return &Service{repo: repo}
}

// Get возвращает действующее значение: переопределение из БД либо значение по умолчанию.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	def, ok := registry[key]
	if !ok {
		return "", fmt.Errorf("настройка %q: %w", key, domain.ErrNotFound)
	}
	value, found, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("чтение настройки %q: %w", key, err)
	}
	if !found {
		return def.def, nil
	}
	return value, nil
}

// Set валидирует и сохраняет значение. На уже выданные снимки не влияет.
func (s *Service) Set(ctx context.Context, key, value string) error {
	def, ok := registry[key]
	if !ok {
		return fmt.Errorf("настройка %q: %w", key, domain.ErrNotFound)
	}
	value = strings.TrimSpace(value)
	if err := def.check(value); err != nil {
		return err
	}
	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("сохранение настройки %q: %w", key, err)
	}
	return nil
}

// List возвращает действующие значения всех настроек.
func (s *Service) List(ctx context.Context) (map[string]string, error) {
	overrides, err := s.repo.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("чтение настроек: %w", err)
	}
	out := make(map[string]string, len(registry))
	for key, def := range registry {
		if v, ok := overrides[key]; ok {
			out[key] = v
		} else {
			out[key] = def.def
		}
	}
	return out, nil
}

// Reload собирает свежий неизменяемый снимок расписания.
func (s *Service) Reload(ctx context.Context) (domain.Schedule, error) {
	values, err := s.List(ctx)
	if err != nil {
		return domain.Schedule{}, err
	}

	hours, err := ParsePublishHours(values[KeyPublishHours])
	if err != nil {
		return domain.Schedule{}, err
	}
	loc, err := time.LoadLocation(values[KeyTimezone])
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("часовой пояс %q: %w", values[KeyTimezone], domain.ErrInvalidSetting)
	}
	maxBatch, _ := strconv.Atoi(values[KeyMaxItemsBatch])
	interval, _ := strconv.Atoi(values[KeyCheckInterval])

	return domain.Schedule{
		PublishHours:         hours,
		UrgentKeywords:       ParseKeywords(values[KeyUrgentKeywords]),
		MaxItemsPerBatch:     maxBatch,
		ArticleStyle:         values[KeyArticleStyle],
		CheckIntervalSeconds: interval,
		Location:             loc,
	}, nil
}

// RetentionDays возвращает срок хранения опубликованных новостей.
func (s *Service) RetentionDays(ctx context.Context) (int, error) {
	raw, err := s.Get(ctx, KeyRetentionDays)
	if err != nil {
		return 0, err
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("retention_days %q: %w", raw, domain.ErrInvalidSetting)
	}
	return days, nil
}

// TextLengthChars возвращает целевую длину текста в символах.
func (s *Service) TextLengthChars(ctx context.Context) (int, error) {
	raw, err := s.Get(ctx, KeyTextLength)
	if err != nil {
		return 0, err
	}
	chars, ok := textLengths[raw]
	if !ok {
		return textLengths["medium"], nil
	}
	return chars, nil
}

// ParsePublishHours разбирает строку «8,12,16,20» в отсортированный
// набор различных часов 0–23. Дубли схлопываются здесь, а не в планировщике.
func ParsePublishHours(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	seen := map[int]bool{}
	var hours []int
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hour, err := strconv.Atoi(part)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("час %q вне диапазона 0–23: %w", part, domain.ErrInvalidSetting)
		}
		if seen[hour] {
			continue
		}
		seen[hour] = true
		hours = append(hours, hour)
	}
	if len(hours) == 0 {
		return nil, domain.ErrEmptySchedule
	}
	sort.Ints(hours)
	return hours, nil
}

// ParseKeywords разбирает список ключевых слов, приводя их к нижнему регистру.
func ParseKeywords(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkPublishHours(value string) error {
	_, err := ParsePublishHours(value)
	return err
}

func checkKeywords(value string) error {
	if len(ParseKeywords(value)) == 0 {
		return fmt.Errorf("список ключевых слов пуст: %w", domain.ErrInvalidSetting)
	}
	return nil
}

func checkPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("ожидали положительное число, получили %q: %w", value, domain.ErrInvalidSetting)
	}
	return nil
}

func checkStyle(value string) error {
	for _, style := range articleStyles {
		if value == style {
			return nil
		}
	}
	return fmt.Errorf("стиль %q не входит в %v: %w", value, articleStyles, domain.ErrInvalidSetting)
}

func checkTextLength(value string) error {
	if _, ok := textLengths[value]; !ok {
		return fmt.Errorf("длина %q не входит в {short,medium,long}: %w", value, domain.ErrInvalidSetting)
	}
	return nil
}

func checkTimezone(value string) error {
	if _, err := time.LoadLocation(value); err != nil {
		return fmt.Errorf("часовой пояс %q: %w", value, domain.ErrInvalidSetting)
	}
	return nil
}
