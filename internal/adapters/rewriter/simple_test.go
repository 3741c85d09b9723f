package rewriter

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"tg-news-relay/internal/domain"
)

func TestSimpleRewriteJoinsTitleAndText(t *testing.T) {
	r := NewSimple(2000)
	article := domain.Article{Title: "Заголовок", Text: "Первый абзац новости."}

	got, err := r.Rewrite(context.Background(), article, "informative")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.HasPrefix(got, "Заголовок\n\n") {
		t.Fatalf("ожидался заголовок в начале, получено: %q", got)
	}
	if !strings.Contains(got, "Первый абзац") {
		t.Fatalf("ожидался текст статьи, получено: %q", got)
	}
}

func TestSimpleRewriteTruncatesLongText(t *testing.T) {
	r := NewSimple(100)
	long := strings.Repeat("слово ", 50) + "Конец."
	article := domain.Article{Title: "Длинная статья", Text: long}

	got, err := r.Rewrite(context.Background(), article, "informative")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if utf8.RuneCountInString(got) > 101 {
		t.Fatalf("текст не усечён: %d символов", utf8.RuneCountInString(got))
	}
}

func TestStripFormattingRemovesMarkdown(t *testing.T) {
	in := "# Заголовок\n**жирный** и `код`, а также ~зачёркнутый~"
	got := StripFormatting(in)
	for _, ch := range []string{"*", "#", "`", "~"} {
		if strings.Contains(got, ch) {
			t.Fatalf("символ %q не удалён: %q", ch, got)
		}
	}
	if !strings.Contains(got, "жирный") || !strings.Contains(got, "Заголовок") {
		t.Fatalf("потерян текст при очистке: %q", got)
	}
}
