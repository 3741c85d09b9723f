package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-news-relay/internal/adapters/telegram"
	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
	"tg-news-relay/internal/usecase/queue"
	"tg-news-relay/internal/usecase/settings"
)

// urlPattern повторяет шаблон извлечения ссылок из сообщений источника.
var urlPattern = regexp.MustCompile(`https?://(?:[a-zA-Z0-9$\-_@.&+!*(),/?=#:;~]|%[0-9a-fA-F]{2})+`)

// Handler обслуживает вебхук бота: посты канала-источника и
// админские команды управления очередью.
type Handler struct {
	bot           *tgbotapi.BotAPI
	log           zerolog.Logger
	queueUC       *queue.Service
	settingsUC    *settings.Service
	publisher     domain.Publisher
	jobs          domain.IngestQueue
	sourceChannel string
	adminID       int64
	startTime     time.Time

	mu    sync.RWMutex
	sched domain.Schedule
}

// NewHandler создаёт обработчик. sched — снимок настроек на момент старта.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, queueUC *queue.Service, settingsUC *settings.Service, publisher domain.Publisher, jobs domain.IngestQueue, sourceChannel string, adminID int64, sched domain.Schedule) *Handler {
	return &Handler{
		bot:           bot,
		log:           log,
		queueUC:       queueUC,
		settingsUC:    settingsUC,
		publisher:     publisher,
		jobs:          jobs,
		sourceChannel: sourceChannel,
		adminID:       adminID,
		startTime:     time.Now().UTC(),
		sched:         sched,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.ChannelPost != nil {
		h.handleChannelPost(ctx, upd.ChannelPost)
	} else if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	}
}

// handleChannelPost реагирует на новый пост канала-источника:
// извлекает ссылки и ставит задачу обработки в очередь.
func (h *Handler) handleChannelPost(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" || !h.fromSource(msg.Chat) {
		return
	}
	// Сообщения, отправленные до старта процесса, не обрабатываются:
	// иначе перезапуск бота повторно прогнал бы всю историю канала.
	if time.Unix(int64(msg.Date), 0).Before(h.startTime) {
		h.log.Debug().Int("msg_id", msg.MessageID).Msg("пропускаем сообщение до старта бота")
		return
	}

	urls := ExtractURLs(msg.Text)
	if len(urls) == 0 {
		h.log.Info().Int("msg_id", msg.MessageID).Msg("в сообщении нет ссылок")
		return
	}
	if max := h.schedule().MaxItemsPerBatch; max > 0 && len(urls) > max {
		urls = urls[:max]
	}

	job := domain.IngestJob{
		ID:         uuid.NewString(),
		URLs:       urls,
		SourceMsg:  msg.MessageID,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("не удалось поставить задачу обработки")
		return
	}
	h.log.Info().Str("job_id", job.ID).Int("urls", len(urls)).Msg("задача обработки поставлена в очередь")
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/help"):
		h.handleHelp(msg.Chat.ID)
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/queue"):
		h.handleQueue(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/publish_now"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/publish_now"))
		h.handlePublishNow(ctx, msg, payload)
	case strings.HasPrefix(text, "/clear_queue"):
		h.handleClearQueue(ctx, msg)
	case strings.HasPrefix(text, "/settings"):
		h.handleSettings(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/set"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/set"))
		h.handleSet(ctx, msg, payload)
	case strings.HasPrefix(text, "/reload"):
		h.handleReload(ctx, msg)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleStart(ctx context.Context, chatID int64) {
	sched := h.schedule()
	next, err := h.queueUC.NextPublication(sched, time.Now())
	nextStr := "—"
	if err == nil {
		nextStr = next.Format("2006-01-02 15:04")
	}
	h.reply(chatID, fmt.Sprintf(
		"Бот автоматической публикации новостей запущен!\n\n"+
			"🕐 Время запуска: %s\n"+
			"📡 Мониторинг канала: активен (только новые сообщения)\n\n"+
			"%s\n"+
			"Ближайшая публикация: %s\n\n"+
			"Используйте /help для списка команд.",
		h.startTime.Format("2006-01-02 15:04:05 UTC"), formatSchedule(sched), nextStr))
}

func (h *Handler) handleHelp(chatID int64) {
	h.reply(chatID, `Доступные команды:

/start - Информация о боте
/status - Статус очереди новостей
/queue - Показать новости в очереди
/publish_now <id> - Опубликовать новость немедленно
/clear_queue - Очистить очередь новостей
/settings - Показать настройки
/set <ключ> <значение> - Изменить настройку
/reload - Перечитать настройки расписания
/help - Это сообщение`)
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	stats, err := h.queueUC.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить статус очереди")
		h.reply(chatID, "Ошибка при получении статуса")
		return
	}
	sched := h.schedule()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Статус очереди новостей:\n\n")
	fmt.Fprintf(&b, "Всего новостей: %d\n", stats.Total)
	fmt.Fprintf(&b, "⏳ В ожидании: %d\n", stats.Pending)
	fmt.Fprintf(&b, "📤 Публикуются: %d\n", stats.Publishing)
	fmt.Fprintf(&b, "✅ Опубликовано: %d\n", stats.Published)
	fmt.Fprintf(&b, "❌ Ошибки: %d\n", stats.Failed)
	fmt.Fprintf(&b, "🔥 Срочные: %d\n\n", stats.Urgent)
	b.WriteString(formatSchedule(sched))

	if next, err := h.queueUC.NextPublication(sched, time.Now()); err == nil {
		fmt.Fprintf(&b, "Ближайшая публикация: %s\n", next.Format("2006-01-02 15:04"))
	}
	if len(stats.Next) > 0 {
		b.WriteString("\n📰 Следующие новости:\n")
		for _, item := range stats.Next {
			mark := ""
			if item.IsUrgent {
				mark = "🔥 "
			}
			fmt.Fprintf(&b, "%s%d. %s (%s)\n", mark, item.ID, clip(item.Title, 50), item.ScheduledTime.In(sched.Location).Format("02.01 15:04"))
		}
	}
	h.reply(chatID, b.String())
}

func (h *Handler) handleQueue(ctx context.Context, chatID int64) {
	items, err := h.queueUC.List(ctx, domain.StatusPending, 20)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить очередь")
		h.reply(chatID, "Ошибка при получении очереди")
		return
	}
	if len(items) == 0 {
		h.reply(chatID, "Очередь пуста")
		return
	}
	loc := h.schedule().Location

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Новости в очереди (%d):\n\n", len(items))
	for _, item := range items {
		mark := ""
		if item.IsUrgent {
			mark = "🔥 "
		}
		fmt.Fprintf(&b, "%sID %d: %s\n", mark, item.ID, clip(item.Title, 60))
		fmt.Fprintf(&b, "   ⏰ %s\n", item.ScheduledTime.In(loc).Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "   🔗 %s\n\n", clip(item.URL, 50))
	}
	h.reply(chatID, b.String())
}

func (h *Handler) handlePublishNow(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		h.reply(msg.Chat.ID, "Использование: /publish_now <id>")
		return
	}

	item, err := h.queueUC.Claim(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.reply(msg.Chat.ID, fmt.Sprintf("Новость с ID %d не найдена", id))
		case errors.Is(err, domain.ErrInvalidState):
			h.reply(msg.Chat.ID, fmt.Sprintf("Новость %d уже обрабатывается или опубликована", id))
		default:
			h.log.Error().Err(err).Int64("news_id", id).Msg("не удалось захватить новость")
			h.reply(msg.Chat.ID, "Ошибка при выполнении команды")
		}
		return
	}

	h.reply(msg.Chat.ID, fmt.Sprintf("Публикую новость ID %d...", id))
	if err := h.publisher.Publish(ctx, item); err != nil {
		h.log.Error().Err(err).Int64("news_id", id).Msg("публикация не удалась")
		if markErr := h.queueUC.MarkFailed(ctx, id, err.Error()); markErr != nil {
			h.log.Error().Err(markErr).Int64("news_id", id).Msg("не удалось отметить ошибку публикации")
		}
		h.reply(msg.Chat.ID, "❌ Ошибка при публикации новости")
		return
	}
	if err := h.queueUC.MarkPublished(ctx, id); err != nil {
		h.log.Error().Err(err).Int64("news_id", id).Msg("не удалось отметить публикацию")
		h.reply(msg.Chat.ID, "Новость отправлена, но статус не обновлён")
		return
	}
	h.reply(msg.Chat.ID, "✅ Новость успешно опубликована!")
}

func (h *Handler) handleClearQueue(ctx context.Context, msg *tgbotapi.Message) {
	if !h.requireAdmin(msg) {
		return
	}
	deleted, err := h.queueUC.ClearPending(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось очистить очередь")
		h.reply(msg.Chat.ID, "❌ Ошибка при очистке очереди")
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("✅ Очередь очищена, удалено новостей: %d", deleted))
}

func (h *Handler) handleSettings(ctx context.Context, chatID int64) {
	values, err := h.settingsUC.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить настройки")
		h.reply(chatID, "Ошибка при получении настроек")
		return
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("⚙️ Настройки:\n\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "%s = %s\n", key, values[key])
	}
	b.WriteString("\nИзменение: /set <ключ> <значение>, затем /reload")
	h.reply(chatID, b.String())
}

func (h *Handler) handleSet(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !h.requireAdmin(msg) {
		return
	}
	parts := strings.SplitN(payload, " ", 2)
	if len(parts) != 2 {
		h.reply(msg.Chat.ID, "Использование: /set <ключ> <значение>")
		return
	}
	key, value := parts[0], strings.TrimSpace(parts[1])
	if err := h.settingsUC.Set(ctx, key, value); err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Настройка не сохранена: %v", err))
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("✅ %s = %s\nПрименение к расписанию: /reload", key, value))
}

func (h *Handler) handleReload(ctx context.Context, msg *tgbotapi.Message) {
	if !h.requireAdmin(msg) {
		return
	}
	sched, err := h.settingsUC.Reload(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось перечитать настройки")
		h.reply(msg.Chat.ID, fmt.Sprintf("❌ Настройки не перечитаны: %v", err))
		return
	}
	h.mu.Lock()
	h.sched = sched
	h.mu.Unlock()
	h.reply(msg.Chat.ID, "✅ Настройки перечитаны\n\n"+formatSchedule(sched))
}

// requireAdmin отклоняет мутирующие команды от посторонних. При
// незаданном ADMIN_USER_ID ограничение не действует.
func (h *Handler) requireAdmin(msg *tgbotapi.Message) bool {
	if h.adminID == 0 {
		return true
	}
	if msg.From != nil && msg.From.ID == h.adminID {
		return true
	}
	h.reply(msg.Chat.ID, "У вас нет прав для выполнения этой команды")
	return false
}

func (h *Handler) fromSource(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if strconv.FormatInt(chat.ID, 10) == h.sourceChannel {
		return true
	}
	return chat.UserName != "" && "@"+chat.UserName == h.sourceChannel
}

func (h *Handler) schedule() domain.Schedule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sched
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

// ExtractURLs возвращает все http(s)-ссылки из текста в порядке появления.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

func formatSchedule(sched domain.Schedule) string {
	hours := make([]string, 0, len(sched.PublishHours))
	for _, h := range sched.PublishHours {
		hours = append(hours, fmt.Sprintf("%02d:00", h))
	}
	tz := "UTC"
	if sched.Location != nil {
		tz = sched.Location.String()
	}
	return fmt.Sprintf("🗓 Расписание публикаций: %s (%s)\n", strings.Join(hours, ", "), tz)
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
