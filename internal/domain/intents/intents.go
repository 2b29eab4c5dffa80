// Package intents — поисковые интенты фильтров.
//
// Интент — короткий текст на естественном языке, описывающий, что ищет фильтр.
// Оракул релевантности сверяет закупку именно с интентом, а не с сырым списком
// ключевых слов. Версия интента — контент-хэш входов матчинга: пока входы не
// менялись, интент и закэшированные вердикты остаются действительными.
package intents

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"
	"strings"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
)

// BuildIntent собирает детерминированный текст интента из полей фильтра.
// Это фолбэк на случай недоступного оракула и одновременно основа его промпта:
// тема, ключевые слова и ограничения фильтра одной строкой.
func BuildIntent(f *subscribers.Filter) string {
	var sb strings.Builder
	sb.WriteString("Поиск тендеров по теме: ")
	sb.WriteString(strings.TrimSpace(f.Name))
	sb.WriteString(". Ключевые слова: ")
	sb.WriteString(strings.Join(f.Keywords, ", "))
	sb.WriteString(".")

	if len(f.PrimaryKeywords) > 0 {
		sb.WriteString(" Приоритетные слова: ")
		sb.WriteString(strings.Join(f.PrimaryKeywords, ", "))
		sb.WriteString(".")
	}
	if regions := regionUnion(f); len(regions) > 0 {
		sb.WriteString(" Регионы: ")
		sb.WriteString(strings.Join(regions, ", "))
		sb.WriteString(".")
	}
	if part := pricePart(f.PriceMin, f.PriceMax); part != "" {
		sb.WriteString(" Цена: ")
		sb.WriteString(part)
		sb.WriteString(".")
	}
	if len(f.TenderTypes) > 0 {
		sb.WriteString(" Тип закупок: ")
		sb.WriteString(strings.Join(kindLabels(f.TenderTypes), ", "))
		sb.WriteString(".")
	}
	return sb.String()
}

// Version — контент-хэш входов матчинга фильтра: ключевые слова трёх уровней,
// регионы, ценовой коридор и типы закупок. Исключающие слова и прочие поля в
// хэш не входят: они не меняют смысл того, что фильтр ищет.
// Регистр и окружающие пробелы не влияют на версию.
func Version(f *subscribers.Filter) string {
	parts := make([]string, 0, 16)
	parts = append(parts, section("kw", f.Keywords)...)
	parts = append(parts, section("primary", f.PrimaryKeywords)...)
	parts = append(parts, section("secondary", f.SecondaryKeywords)...)
	parts = append(parts, section("regions", f.Regions)...)
	parts = append(parts, section("exec", f.ExecutionRegions)...)
	parts = append(parts, "price", floatPart(f.PriceMin), floatPart(f.PriceMax))
	kinds := make([]string, 0, len(f.TenderTypes))
	for _, k := range f.TenderTypes {
		kinds = append(kinds, string(k))
	}
	parts = append(parts, section("types", kinds)...)
	return contentHash(parts...)
}

// Fresh сообщает, действителен ли сохранённый интент фильтра: текст есть и
// версия совпадает с вычисленной по текущим входам матчинга.
func Fresh(f *subscribers.Filter) bool {
	return f.AIIntent != "" && f.AIIntentVersion == Version(f)
}

// section строит вклад одного списка в хэш: метка секции плюс нормализованные
// значения. Пустая секция вкладывает только метку, чтобы перенос значения из
// одного списка в другой менял версию.
func section(label string, values []string) []string {
	out := make([]string, 0, len(values)+1)
	out = append(out, label)
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func floatPart(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// contentHash хэширует части FNV-1a (64 бит) с длиной-префиксом каждой части,
// чтобы конкатенация соседних строк не давала коллизий. Результат — hex-строка.
func contentHash(parts ...string) string {
	hasher := fnv.New64a()
	var buf [8]byte
	for _, part := range parts {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(part)))
		_, _ = hasher.Write(buf[:])
		_, _ = hasher.Write([]byte(part))
	}
	return strconv.FormatUint(hasher.Sum64(), 16)
}

func regionUnion(f *subscribers.Filter) []string {
	seen := make(map[string]bool, len(f.Regions)+len(f.ExecutionRegions))
	out := make([]string, 0, len(f.Regions)+len(f.ExecutionRegions))
	for _, r := range f.Regions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	for _, r := range f.ExecutionRegions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func pricePart(min, max *float64) string {
	switch {
	case min != nil && max != nil:
		return "от " + formatPrice(*min) + " до " + formatPrice(*max) + " руб"
	case min != nil:
		return "от " + formatPrice(*min) + " руб"
	case max != nil:
		return "до " + formatPrice(*max) + " руб"
	default:
		return ""
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func kindLabels(kinds []tender.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case tender.Goods:
			out = append(out, "поставка товаров")
		case tender.Services:
			out = append(out, "оказание услуг")
		case tender.Works:
			out = append(out, "выполнение работ")
		}
	}
	return out
}
