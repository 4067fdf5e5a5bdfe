// Очистка аргументов вызовов инструментов, которые модель прислала
// в markdown-обёртке или вместе с пояснительным текстом.

package utils

import (
	"strings"
)

// CleanJsonBlock удаляет markdown-обёртку вокруг JSON.
//
//	```json {"a": 1} ``` → {"a": 1}
//	``` {"a": 1} ```     → {"a": 1}
//
// Язык после ``` сравнивается без учёта регистра.
func CleanJsonBlock(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}

// ExtractJSON возвращает первый JSON объект верхнего уровня из текста.
//
// Скобки внутри строковых литералов не считаются. Объект внутри массива
// не извлекается: модель прислала не аргументы. Незакрытый объект
// возвращается до конца строки, json.Unmarshal сообщит ошибку.
// Пустая строка - объекта нет.
func ExtractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	if before := strings.TrimRight(s[:start], " \t\r\n"); strings.HasSuffix(before, "[") {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return s[start:]
}

// ToolArguments сводит сырые аргументы вызова к JSON объекту.
//
// Второе значение false, если в тексте нет объекта.
func ToolArguments(raw string) (string, bool) {
	cleaned := CleanJsonBlock(raw)
	if strings.HasPrefix(cleaned, "{") && strings.HasSuffix(cleaned, "}") {
		return cleaned, true
	}
	if obj := ExtractJSON(cleaned); obj != "" {
		return obj, true
	}
	return "", false
}
