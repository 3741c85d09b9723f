package rewriter

import (
	"context"
	"strings"

	"tg-news-relay/internal/domain"
)

// Simple — запасной рерайтер без LLM: заголовок плюс усечённый
// оригинальный текст. Используется, когда API-ключ не задан.
type Simple struct {
	maxChars int
}

var _ domain.Rewriter = (*Simple)(nil)

func NewSimple(maxChars int) *Simple {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &Simple{maxChars: maxChars}
}

func (s *Simple) Rewrite(_ context.Context, article domain.Article, _ string) (string, error) {
	var b strings.Builder
	title := strings.TrimSpace(article.Title)
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(article.Text))
	return truncate(b.String(), s.maxChars), nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	// Обрезаем по границе предложения, если она недалеко от лимита.
	if idx := strings.LastIndexAny(cut, ".!?"); idx > limit/2 {
		return cut[:idx+1]
	}
	return strings.TrimSpace(cut) + "…"
}
