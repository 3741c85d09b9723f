package rewriter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tg-news-relay/internal/domain"
	openai "tg-news-relay/internal/infra/openai"
)

type fakeChatClient struct {
	resp    openai.ChatCompletionResponse
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func chatResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatMessage{Role: "assistant", Content: text}},
		},
	}
}

func TestOpenAIRewriteStripsFormatting(t *testing.T) {
	fake := &fakeChatClient{resp: chatResponse("**Новость** дня")}
	r := NewOpenAI(fake, "deepseek-chat", time.Second, 2000)

	got, err := r.Rewrite(context.Background(), domain.Article{Title: "t", Text: "x"}, "informative")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "Новость дня" {
		t.Fatalf("ожидался очищенный текст, получено: %q", got)
	}
}

func TestOpenAIRewriteUsesStylePrompt(t *testing.T) {
	fake := &fakeChatClient{resp: chatResponse("ок")}
	r := NewOpenAI(fake, "deepseek-chat", time.Second, 2000)

	if _, err := r.Rewrite(context.Background(), domain.Article{Title: "t", Text: "x"}, "cynical"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	prompt := fake.lastReq.Messages[1].Content
	if !strings.Contains(prompt, "циничном") {
		t.Fatalf("в промпте нет описания стиля: %q", prompt)
	}
}

func TestOpenAIRewriteUnknownStyleFallsBack(t *testing.T) {
	fake := &fakeChatClient{resp: chatResponse("ок")}
	r := NewOpenAI(fake, "deepseek-chat", time.Second, 2000)

	if _, err := r.Rewrite(context.Background(), domain.Article{Title: "t", Text: "x"}, "nonexistent"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.Contains(fake.lastReq.Messages[1].Content, "журналистском") {
		t.Fatalf("ожидался информативный стиль по умолчанию")
	}
}

func TestOpenAIRewritePropagatesError(t *testing.T) {
	fake := &fakeChatClient{err: errors.New("api down")}
	r := NewOpenAI(fake, "deepseek-chat", time.Second, 2000)

	if _, err := r.Rewrite(context.Background(), domain.Article{Title: "t", Text: "x"}, "informative"); err == nil {
		t.Fatal("ожидалась ошибка API")
	}
}
