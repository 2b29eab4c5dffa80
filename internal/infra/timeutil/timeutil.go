// Пакет timeutil содержит служебные функции для работы со временем:
// парсинг таймзон, валидация формата HH:MM, вычисление локальной даты
// и принадлежности момента «тихому окну» подписчика.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseLocation разбирает либо IANA‑таймзону (например, "Europe/Moscow"),
// либо UTC‑смещение (например, "+03:00", "-0700", "UTC+3", "GMT-04:30").
// Возвращает *time.Location или ошибку.
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	// Try IANA first.
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	// Try to parse UTC offset forms.
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// ParseUTCOffsetToLocation парсит строки вида "+03:00", "-0700", "UTC+3", "GMT-04:30" или "Z".
// Возвращает фиксированную таймзону и ok=true при успешном разборе.
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	// Normalize optional UTC/GMT prefix
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)
	// Patterns: +HH, -HH, +HHMM, -HHMM, +HH:MM, -HH:MM
	re := regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)
	m := re.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hourStr := m[2]
	minStr := m[3]
	hours, err := strconv.Atoi(hourStr)
	if err != nil {
		return nil, false
	}
	mins := 0
	if minStr != "" {
		var err2 error
		mins, err2 = strconv.Atoi(minStr)
		if err2 != nil {
			return nil, false
		}
	}
	if hours < 0 || hours > 14 || mins < 0 || mins > 59 {
		return nil, false
	}
	const (
		secInHour = 60 * 60
		secInMin  = 60
	)
	offset := sign * ((hours * secInHour) + (mins * secInMin))
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}

// IsValidScheduleEntry проверяет формат времени HH:MM и диапазоны часов/минут.
// Это простая синтаксическая проверка, логика исполнения расписания — снаружи.
func IsValidScheduleEntry(value string) bool {
	if len(value) != 5 || value[2] != ':' {
		return false
	}
	hour, err := strconv.Atoi(value[:2])
	if err != nil {
		return false
	}
	minute, err := strconv.Atoi(value[3:])
	if err != nil {
		return false
	}
	if hour < 0 || hour > 23 {
		return false
	}
	if minute < 0 || minute > 59 {
		return false
	}
	return true
}

// ParseClock разбирает строку HH:MM в минуты от полуночи.
// Формат проверяется так же, как в IsValidScheduleEntry.
func ParseClock(value string) (int, error) {
	if !IsValidScheduleEntry(value) {
		return 0, fmt.Errorf("invalid clock value %q: expected HH:MM", value)
	}
	hour, _ := strconv.Atoi(value[:2])
	minute, _ := strconv.Atoi(value[3:])
	return hour*60 + minute, nil
}

// LocalDate возвращает календарную дату момента t в таймзоне loc в виде "2006-01-02".
// Используется как ключ суточного сброса квот: сравнение строк эквивалентно
// сравнению дат, потому что формат лексикографически монотонен.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// InQuietWindow сообщает, попадает ли момент t в окно [start, end), заданное
// строками HH:MM в таймзоне loc. Окно может пересекать полночь ("22:00"–"09:00").
// Совпадающие границы означают пустое окно. Некорректные границы трактуются
// как отсутствие окна: доставку лучше не задерживать из-за битой настройки.
func InQuietWindow(t time.Time, start, end string, loc *time.Location) bool {
	startMin, err := ParseClock(start)
	if err != nil {
		return false
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return false
	}
	if startMin == endMin {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if startMin < endMin {
		return cur >= startMin && cur < endMin
	}
	// Окно через полночь: [start, 24:00) ∪ [00:00, end).
	return cur >= startMin || cur < endMin
}
