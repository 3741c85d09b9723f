package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
)

// ChannelPublisher публикует готовые новости в целевой канал.
type ChannelPublisher struct {
	bot     *tgbotapi.BotAPI
	log     zerolog.Logger
	channel string
}

var _ domain.Publisher = (*ChannelPublisher)(nil)

// NewChannelPublisher создаёт публикатора. channel — @username или
// числовой ID целевого канала.
func NewChannelPublisher(bot *tgbotapi.BotAPI, log zerolog.Logger, channel string) *ChannelPublisher {
	return &ChannelPublisher{bot: bot, log: log, channel: channel}
}

// Publish отправляет новость одним сообщением с футером-ссылкой.
func (p *ChannelPublisher) Publish(ctx context.Context, item domain.NewsItem) error {
	text := item.ProcessedText
	if text == "" {
		text = item.OriginalText
	}
	msg := p.newMessage(FormatPost(text, item.URL))
	msg.ParseMode = tgbotapi.ModeMarkdown

	start := time.Now()
	_, err := p.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "publish_news", p.channel, start, err)
	if err != nil {
		return fmt.Errorf("публикация в канал %s: %w", p.channel, err)
	}
	p.log.Info().Int64("news_id", item.ID).Str("url", item.URL).Msg("новость опубликована")
	return nil
}

func (p *ChannelPublisher) newMessage(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(p.channel, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(p.channel, text)
}
