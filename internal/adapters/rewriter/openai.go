package rewriter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tg-news-relay/internal/domain"
	openai "tg-news-relay/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Описания редакционных стилей для промпта.
var styleDescriptions = map[string]string{
	"informative": `объективном журналистском стиле:
- нейтральный тон без эмоциональных оценок
- только факты: кто, что, где, когда, почему
- прямые утверждения без намёков
- структурированное изложение событий`,
	"ironic": `ироничном стиле с явным сарказмом:
- кавычки для иронических эпитетов: «эффективные меры», «блестящее решение»
- риторические вопросы и контрастные сопоставления
- подчёркнутая абсурдность через преувеличение`,
	"cynical": `циничном и недоверчивом стиле:
- сомнение в официальных заявлениях
- маркеры недоверия: «якобы», «по словам», «так называемый»
- указания на возможные скрытые мотивы`,
	"playful": `лёгком развлекательном стиле:
- разговорная речь и современный сленг
- неожиданные сравнения и яркие метафоры
- лёгкая ирония без злого сарказма`,
	"mocking": `стебно-сатирическом стиле:
- гиперболы и абсурдные преувеличения
- саркастические комментарии в скобках
- насмешливый тон юмористической колонки`,
}

// OpenAI реализует Rewriter через OpenAI-совместимый Chat Completions API.
type OpenAI struct {
	client    chatClient
	model     string
	timeout   time.Duration
	textChars int
}

var _ domain.Rewriter = (*OpenAI)(nil)

// NewOpenAI создаёт рерайтер. textChars задаёт целевую длину текста.
func NewOpenAI(client chatClient, model string, timeout time.Duration, textChars int) *OpenAI {
	if model == "" {
		model = "deepseek-chat"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if textChars <= 0 {
		textChars = 2000
	}
	return &OpenAI{client: client, model: model, timeout: timeout, textChars: textChars}
}

// Rewrite переписывает статью в заданном стиле. Ответ очищается от
// символов разметки: публикация идёт простым текстом со своим футером.
func (r *OpenAI) Rewrite(ctx context.Context, article domain.Article, style string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.7,
		MaxTokens:   2000,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты профессиональный редактор новостного портала. Отвечай только готовым текстом статьи, без пояснений и без символов форматирования.",
			},
			{
				Role:    openai.RoleUser,
				Content: r.buildPrompt(article, style),
			},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("рерайт статьи: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("рерайт статьи: пустой ответ модели")
	}
	content := StripFormatting(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("рерайт статьи: пустой текст после очистки")
	}
	return content, nil
}

func (r *OpenAI) buildPrompt(article domain.Article, style string) string {
	desc, ok := styleDescriptions[style]
	if !ok {
		desc = styleDescriptions["informative"]
	}
	return fmt.Sprintf(`Обработай новостную статью.

СТИЛЬ НАПИСАНИЯ: в %s

ТРЕБОВАНИЯ:
1. Переведи текст на русский язык, если он на другом
2. Длина примерно %d символов
3. Разбей на абзацы для удобного чтения
4. Не используй символы форматирования: *, _, #, `+"`"+`, ~
5. Не добавляй ссылок и подписей — только текст статьи

ЗАГОЛОВОК: %s

ТЕКСТ СТАТЬИ:
%s`, desc, r.textChars, article.Title, clipRunes(article.Text, 8000))
}

// StripFormatting убирает markdown-символы из ответа модели.
func StripFormatting(text string) string {
	replacer := strings.NewReplacer("**", "", "__", "", "*", "", "`", "", "~", "", "#", "")
	return strings.TrimSpace(replacer.Replace(text))
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
