package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"tender-radar/internal/domain/intents"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/logger"
)

var _ intents.Generator = (*Oracle)(nil)

// GenerateIntent просит модель описать, какие именно закупки ищет фильтр:
// сфера, конкретные предметы, типичные ложные срабатывания. Текст уходит в
// промпт Assess; при ошибке джоба интентов откатится на детерминированный
// intents.BuildIntent.
func (o *Oracle) GenerateIntent(ctx context.Context, f *subscribers.Filter) (string, error) {
	reply, err := o.breaker.Execute(func() (any, error) {
		return o.complete(ctx, intentPrompt(f), intentMaxTokens)
	})
	if err != nil {
		return "", errors.Wrap(err, "oracle: generate intent")
	}

	text := strings.TrimSpace(reply.(string))
	if text == "" {
		return "", errors.New("oracle: empty intent reply")
	}
	logger.Debugf("Oracle: интент фильтра %s: %s", f.ID, truncateRunes(text, 120))
	return text, nil
}

// expansionPayload — контракт ответа модели на расширение ключевых слов.
type expansionPayload struct {
	Synonyms     []string `json:"synonyms"`
	RelatedTerms []string `json:"related_terms"`
	SearchQuery  string   `json:"search_query"`
}

// ExpandKeywords выпрашивает у модели синонимы и смежные термины к ключевым
// словам фильтра. Возвращается только добавка: собственные слова фильтра и
// дубликаты выброшены. Ошибка оставляет прежний список синонимов за джобой.
func (o *Oracle) ExpandKeywords(ctx context.Context, f *subscribers.Filter) ([]string, error) {
	reply, err := o.breaker.Execute(func() (any, error) {
		return o.complete(ctx, expansionPrompt(f), expandMaxTokens)
	})
	if err != nil {
		return nil, errors.Wrap(err, "oracle: expand keywords")
	}

	payload, err := parseExpansion(reply.(string))
	if err != nil {
		return nil, err
	}
	merged := mergeExpansion(f.Keywords, payload)
	logger.Debugf("Oracle: фильтр %s расширен: %d синонимов", f.ID, len(merged))
	return merged, nil
}

func parseExpansion(reply string) (expansionPayload, error) {
	var payload expansionPayload
	block := reJSONBlock.FindString(reply)
	if block == "" {
		return payload, errors.New("oracle: no json in expansion reply")
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return payload, errors.Wrap(err, "oracle: parse expansion")
	}
	return payload, nil
}

// mergeExpansion складывает синонимы и смежные термины в один список без
// пустых строк, дубликатов и повторов собственных слов фильтра. Порядок
// сохраняется: сперва синонимы, затем смежные термины.
func mergeExpansion(own []string, payload expansionPayload) []string {
	seen := make(map[string]bool, len(own)+len(payload.Synonyms)+len(payload.RelatedTerms))
	for _, kw := range own {
		seen[strings.ToLower(strings.TrimSpace(kw))] = true
	}

	out := make([]string, 0, len(payload.Synonyms)+len(payload.RelatedTerms))
	for _, list := range [][]string{payload.Synonyms, payload.RelatedTerms} {
		for _, kw := range list {
			kw = strings.TrimSpace(kw)
			folded := strings.ToLower(kw)
			if kw == "" || seen[folded] {
				continue
			}
			seen[folded] = true
			out = append(out, kw)
		}
	}
	return out
}

func intentPrompt(f *subscribers.Filter) string {
	var sb strings.Builder
	sb.WriteString("Ты эксперт по государственным закупкам России.\n\n")
	sb.WriteString("Пользователь создал фильтр для поиска тендеров:\n")
	fmt.Fprintf(&sb, "- Название фильтра: «%s»\n", strings.TrimSpace(f.Name))
	fmt.Fprintf(&sb, "- Ключевые слова: %s\n", strings.Join(f.Keywords, ", "))
	if len(f.ExcludeKeywords) > 0 {
		fmt.Fprintf(&sb, "- Исключить: %s\n", strings.Join(f.ExcludeKeywords, ", "))
	}
	sb.WriteString("\nОпиши ДЕТАЛЬНО, какие именно тендеры ищет пользователь.\n\n")
	sb.WriteString("Включи:\n")
	sb.WriteString("1. Основную сферу деятельности.\n")
	sb.WriteString("2. Конкретные товары, услуги или работы.\n")
	sb.WriteString("3. Что точно НЕ подходит (ложные срабатывания).\n\n")
	sb.WriteString("Формат ответа — связный текст в 2-3 предложения, по которому можно решить, релевантен ли конкретный тендер этому запросу.")
	return sb.String()
}

func expansionPrompt(f *subscribers.Filter) string {
	var sb strings.Builder
	sb.WriteString("Ты эксперт по государственным закупкам zakupki.gov.ru.\n\n")
	sb.WriteString("Пользователь ищет тендеры по следующим критериям:\n")
	fmt.Fprintf(&sb, "Ключевые слова: %s\n", strings.Join(f.Keywords, ", "))
	if name := strings.TrimSpace(f.Name); name != "" {
		fmt.Fprintf(&sb, "Контекст: %s\n", name)
	}
	sb.WriteString("\nТвоя задача — расширить эти критерии для более ТОЧНОГО поиска тендеров.\n\n")
	sb.WriteString("ВАЖНО: для узкоспециализированных технических терминов генерируй ТОЛЬКО близкие синонимы и альтернативные названия ЭТИХ КОНКРЕТНЫХ технологий, не расширяй до общих категорий.\n\n")
	sb.WriteString("Сгенерируй:\n")
	sb.WriteString("1. SYNONYMS — только прямые синонимы и альтернативные названия (3-7 вариантов).\n")
	sb.WriteString("2. RELATED_TERMS — только напрямую связанные технологии и предметы (2-4 варианта), без общих категорий вроде «оборудование» или «программное обеспечение».\n")
	sb.WriteString("3. SEARCH_QUERY — оптимальный поисковый запрос.\n\n")
	sb.WriteString("Формат ответа (СТРОГО JSON):\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "synonyms": ["синоним1", "синоним2"],` + "\n")
	sb.WriteString(`  "related_terms": ["термин1", "термин2"],` + "\n")
	sb.WriteString(`  "search_query": "оптимизированный запрос"` + "\n")
	sb.WriteString("}\n\n")
	sb.WriteString("Если не уверен в синониме — не добавляй его: лучше меньше, но точнее.")
	return sb.String()
}
