package gemini

import "strings"

// extractJSON вырезает JSON-значение из ответа модели. Модель часто оборачивает
// ответ в markdown или добавляет пояснения до и после.
// openCh и closeCh задают тип значения: '[' и ']' для массива, '{' и '}' для объекта.
func extractJSON(text string, openCh, closeCh byte) string {
	originalText := text
	text = stripCodeFence(text)
	if text == "" {
		text = originalText
	}

	start := strings.IndexByte(text, openCh)
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}

// stripCodeFence возвращает содержимое первого блока ```json ... ``` или ``` ... ```.
func stripCodeFence(text string) string {
	fence := "```json"
	start := strings.Index(text, fence)
	if start == -1 {
		fence = "```"
		start = strings.Index(text, fence)
	}
	if start == -1 {
		return text
	}

	remaining := strings.TrimLeft(text[start+len(fence):], " \t\r\n")
	end := strings.Index(remaining, "```")
	if end == -1 {
		return text
	}
	return strings.TrimSpace(remaining[:end])
}

// truncateRunes обрезает текст по числу символов, а не байт.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
