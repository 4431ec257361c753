// Package timeparse разбирает временные метки панели.
//
// Панель отдаёт даты в ISO-8601, но иногда с задвоенным суффиксом
// таймзоны ("2025-01-02T03:04:05.000Z+00:00"). Перед парсингом строка
// нормализуется.
package timeparse

import (
	"fmt"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Normalize убирает задвоенный суффикс таймзоны: если после "Z" идёт
// ещё одно смещение вида "+00:00", оно отбрасывается.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'Z'); i >= 0 && i < len(s)-1 {
		rest := s[i+1:]
		if strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "-") {
			return s[:i+1]
		}
	}
	return s
}

// ParsePanelTime нормализует и разбирает временную метку панели.
// Возвращает время в UTC.
func ParsePanelTime(s string) (time.Time, error) {
	const op = "timeparse.ParsePanelTime"

	normalized := Normalize(s)
	if normalized == "" {
		return time.Time{}, fmt.Errorf("%s: empty timestamp", op)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: unsupported timestamp %q", op, s)
}
