package telegram

import (
	"fmt"
	"strings"
)

// Жёсткий лимит Telegram на длину одного сообщения.
const MessageLimit = 4096

// Запас под футер и служебные символы при форматировании поста.
const postReserve = 100

// FormatPost собирает текст публикации: обработанный текст плюс
// футер со ссылкой на источник. Текст усекается так, чтобы результат
// гарантированно уложился в один Telegram-месседж.
func FormatPost(text, sourceURL string) string {
	footer := fmt.Sprintf("\n\n[Источник](%s)", sourceURL)

	maxText := MessageLimit - len([]rune(footer)) - postReserve
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > maxText {
		text = string(runes[:maxText]) + "..."
	} else {
		text = string(runes)
	}
	return text + footer
}

// SplitMessage режет текст на куски, укладывающиеся в лимит Telegram.
// Предпочитает границы строк, чтобы не рвать абзацы посередине.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= MessageLimit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + MessageLimit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}
