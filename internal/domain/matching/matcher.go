// Package matching — детерминированное ранжирование тендеров по фильтрам.
//
// Назначение:
//   Пакет инкапсулирует scoring-каскад: на вход подаётся тендер (сырой из
//   ленты или обогащённый с карточки) и фильтр подписчика, на выходе —
//   Report с композитным баллом 0..100, классом и диагностикой.
//
// Модель и инварианты:
//   - Сопоставление нечувствительно к регистру, границы слов учитываются
//     через Unicode-классы (^|[^\p{L}\p{N}]) ... ([^\p{L}\p{N}]|$).
//   - Жёсткие отказы (исключающее слово, чужой регион, чужой тип, близкий
//     дедлайн) обрезают каскад: балл 0, причина в RejectCause.
//   - Две точки входа над одним алгоритмом: PreScore работает только по
//     полям ленты (ключевые слова и заголовок), Score — по обогащённой
//     записи, с ценой, регионом и дедлайном.
//   - Функции чистые: ни ввода-вывода, ни глобального состояния.
//
// Каскад одного фильтра:
//   1) исключающие слова        — любое попадание отклоняет тендер;
//   2) тип закупки              — несовпадение с tender_types отклоняет;
//      для "товаров" при неопределённом типе отклоняются заголовки услуг
//      и работ, не начинающиеся со слова поставки;
//   3) дедлайн                  — ближе min_deadline_days отклоняет;
//   4) ключевые слова           — фраза +35, точное слово +25, корень +18,
//      синоним +20; ключи из primary_keywords весят вдвое;
//   5) цена                     — в диапазоне +20, у кромки +10, далеко −20;
//   6) регион                   — свой +10, чужой отклоняет, неизвестный по
//      политике pass|penalize|reject;
//   7) негативные паттерны      — по −5, суммарно не ниже −30;
//   8) строгий режим            — при ≥8 ключах и <10% совпавших
//      положительные компоненты умножаются на 0.6.
package matching

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
)

// Policy — поведение при неизвестном регионе тендера.
type Policy string

const (
	PolicyPass     Policy = "pass"
	PolicyPenalize Policy = "penalize"
	PolicyReject   Policy = "reject"
)

// Class — итоговая классификация отчёта.
type Class string

const (
	ClassReject   Class = "reject"
	ClassConsider Class = "consider"
	ClassAccept   Class = "accept"
)

const (
	compoundBonus     = 35
	exactBonus        = 25
	rootBonus         = 18
	synonymBonus      = 20
	priceInsideBonus  = 20
	priceNearBonus    = 10
	priceFarPenalty   = -20
	regionBonus       = 10
	regionNullPenalty = -20
	negativePenalty   = -5
	negativeFloor     = -30

	rootMinRunes   = 5
	shortKeyRunes  = 3
	priceEdgeShare = 0.20

	strictKeywordCount = 8
	strictMatchedShare = 0.10
	strictFactor       = 0.6

	acceptScore = 70
)

// Components — разложение композитного балла по семействам сигналов.
// Keywords включает синонимы, Negative всегда ≤ 0.
type Components struct {
	Keywords int `json:"keywords"`
	Price    int `json:"price"`
	Region   int `json:"region"`
	Negative int `json:"negative"`
}

// Report — результат прогона одного тендера через один фильтр.
// OracleConfidence заполняет конвейер после опроса оракула; -1 — не опрошен.
type Report struct {
	Composite        int        `json:"composite"`
	Class            Class      `json:"class"`
	Components       Components `json:"components"`
	Matched          []string   `json:"matched,omitempty"`
	RejectCause      string     `json:"reject_cause,omitempty"`
	OracleConfidence int        `json:"oracle_confidence"`
}

// Rejected сообщает, оборвался ли каскад жёстким отказом.
func (r *Report) Rejected() bool {
	return r.RejectCause != ""
}

// Matcher — scoring-движок. Создаётся один на процесс, состояния не держит.
type Matcher struct {
	nullRegion Policy
}

func New(nullRegion Policy) *Matcher {
	switch nullRegion {
	case PolicyPass, PolicyPenalize, PolicyReject:
	default:
		nullRegion = PolicyPenalize
	}
	return &Matcher{nullRegion: nullRegion}
}

// PreScore оценивает сырой тендер по полям ленты: исключающие слова, тип и
// ключевые слова. Цена, регион и дедлайн до обогащения неизвестны.
func (m *Matcher) PreScore(raw *tender.Raw, f *subscribers.Filter) *Report {
	return m.run(scoreInput{
		title:     raw.Title,
		matchText: raw.MatchText(),
		kind:      raw.Kind,
		filter:    f,
	})
}

// Score оценивает обогащённый тендер полным каскадом.
func (m *Matcher) Score(t *tender.Enriched, f *subscribers.Filter, now time.Time) *Report {
	return m.run(scoreInput{
		title:        t.Title,
		matchText:    t.MatchText(),
		kind:         t.Kind,
		filter:       f,
		price:        t.Price,
		region:       t.CanonicalRegion,
		deadline:     t.Deadline,
		now:          now,
		withPrice:    true,
		withRegion:   true,
		withDeadline: true,
	})
}

type scoreInput struct {
	title     string
	matchText string
	kind      tender.Kind
	filter    *subscribers.Filter

	price    float64
	region   string
	deadline time.Time
	now      time.Time

	withPrice    bool
	withRegion   bool
	withDeadline bool
}

func (m *Matcher) run(in scoreInput) *Report {
	f := in.filter
	text := strings.ToLower(in.matchText)

	// Жёсткие отказы идут до подсчёта очков.
	for _, kw := range f.ExcludeKeywords {
		if containsExclude(text, strings.ToLower(kw)) {
			return rejected(fmt.Sprintf("исключающее слово %q", kw))
		}
	}
	if cause := typeReject(in.title, in.kind, f.TenderTypes); cause != "" {
		return rejected(cause)
	}
	if in.withDeadline && !in.deadline.IsZero() && f.MinDeadlineDays >= 0 {
		daysLeft := int(in.deadline.Sub(in.now).Hours() / 24)
		if daysLeft < f.MinDeadlineDays {
			return rejected(fmt.Sprintf("до дедлайна %d дн. при минимуме %d", daysLeft, f.MinDeadlineDays))
		}
	}

	var comp Components
	var matched []string

	primary := make(map[string]struct{}, len(f.PrimaryKeywords))
	for _, kw := range f.PrimaryKeywords {
		primary[strings.ToLower(kw)] = struct{}{}
	}

	keywords := orderedUnion(f.PrimaryKeywords, f.Keywords, f.SecondaryKeywords)
	matchedCount := 0
	for _, kw := range keywords {
		bonus, label := keywordBonus(text, kw)
		if bonus == 0 {
			continue
		}
		if _, ok := primary[strings.ToLower(kw)]; ok {
			bonus *= 2
		}
		comp.Keywords += bonus
		matched = append(matched, label)
		matchedCount++
	}
	for _, kw := range f.ExpandedKeywords {
		if synonymHit(text, kw) {
			comp.Keywords += synonymBonus
			matched = append(matched, kw+" (синоним)")
		}
	}

	if in.withPrice {
		comp.Price = priceScore(in.price, f.PriceMin, f.PriceMax)
	}

	if in.withRegion {
		bonus, cause := m.regionScore(in.region, f.Regions, f.ExecutionRegions)
		if cause != "" {
			return rejected(cause)
		}
		comp.Region = bonus
	}

	for _, pattern := range negativePatterns {
		if strings.Contains(text, pattern) {
			comp.Negative += negativePenalty
			if comp.Negative <= negativeFloor {
				comp.Negative = negativeFloor
				break
			}
		}
	}

	// Строгий режим: большой список ключей почти без совпадений означает
	// случайное попадание, положительные сигналы приглушаются.
	if len(keywords) >= strictKeywordCount {
		share := float64(matchedCount) / float64(len(keywords))
		if share < strictMatchedShare {
			comp.Keywords = scalePositive(comp.Keywords)
			comp.Price = scalePositive(comp.Price)
			comp.Region = scalePositive(comp.Region)
		}
	}

	composite := comp.Keywords + comp.Price + comp.Region + comp.Negative
	if composite < 0 {
		composite = 0
	}
	if composite > 100 {
		composite = 100
	}

	class := ClassConsider
	if composite >= acceptScore {
		class = ClassAccept
	}
	return &Report{
		Composite:        composite,
		Class:            class,
		Components:       comp,
		Matched:          matched,
		OracleConfidence: -1,
	}
}

// keywordBonus возвращает лучший бонус одного ключа и подпись для диагностики.
// Фраза целиком, точное слово, затем корень; стоп-слова и короткие ключи вне
// белого списка не дают ничего.
func keywordBonus(text, kw string) (int, string) {
	kw = strings.TrimSpace(kw)
	if kw == "" || isStopWord(kw) {
		return 0, ""
	}
	lowered := strings.ToLower(kw)

	if isWhitelisted(kw) {
		if containsExact(text, lowered) {
			return exactBonus, kw
		}
		return 0, ""
	}
	if utf8.RuneCountInString(kw) < shortKeyRunes {
		return 0, ""
	}

	if strings.ContainsRune(lowered, ' ') {
		if containsExact(text, lowered) {
			return compoundBonus, kw
		}
		return 0, ""
	}
	if containsExact(text, lowered) {
		return exactBonus, kw
	}
	if root, ok := keywordRoot(lowered); ok && containsRoot(text, root) {
		return rootBonus, kw + " (по корню)"
	}
	return 0, ""
}

// keywordRoot отрезает окончание: от слова остаются первые max(5, N-2) рун.
func keywordRoot(kw string) (string, bool) {
	runes := []rune(kw)
	if len(runes) < rootMinRunes {
		return "", false
	}
	keep := len(runes) - 2
	if keep < rootMinRunes {
		keep = rootMinRunes
	}
	if keep >= len(runes) {
		return "", false
	}
	return string(runes[:keep]), true
}

// synonymHit — совпадение из расширенного набора: только целым словом или
// фразой, корни не применяются.
func synonymHit(text, kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" || isStopWord(kw) {
		return false
	}
	if !isWhitelisted(kw) && utf8.RuneCountInString(kw) < shortKeyRunes {
		return false
	}
	return containsExact(text, kw)
}

// priceScore сравнивает цену с диапазоном фильтра. Кромка диапазона имеет
// люфт 20% от граничного значения.
func priceScore(price float64, min, max *float64) int {
	if price <= 0 || (min == nil && max == nil) {
		return 0
	}
	belowMin := min != nil && price < *min
	aboveMax := max != nil && price > *max
	switch {
	case !belowMin && !aboveMax:
		return priceInsideBonus
	case belowMin && price >= *min*(1-priceEdgeShare):
		return priceNearBonus
	case aboveMax && price <= *max*(1+priceEdgeShare):
		return priceNearBonus
	default:
		return priceFarPenalty
	}
}

// regionScore решает судьбу тендера по региону заказчика. Список регионов
// фильтра — объединение регионов заказчика и регионов исполнения.
func (m *Matcher) regionScore(region string, regions, execution []string) (int, string) {
	accepted := orderedUnion(regions, execution)
	if len(accepted) == 0 {
		return 0, ""
	}
	if region == "" {
		switch m.nullRegion {
		case PolicyReject:
			return 0, "регион тендера неизвестен"
		case PolicyPenalize:
			return regionNullPenalty, ""
		default:
			return 0, ""
		}
	}
	for _, r := range accepted {
		if r == region {
			return regionBonus, ""
		}
	}
	return 0, fmt.Sprintf("регион %q вне фильтра", region)
}

// typeReject — проверка типа закупки. Пустой список типов пропускает всё;
// объявленный тип сверяется напрямую. Для фильтра только по товарам
// неопределённый тип добивается эвристикой по заголовку: лента часто
// маркирует услуги и работы как товары.
func typeReject(title string, kind tender.Kind, types []tender.Kind) string {
	if len(types) == 0 {
		return ""
	}
	if kind != "" {
		for _, t := range types {
			if t == kind {
				return ""
			}
		}
		return fmt.Sprintf("тип %q вне фильтра", kind)
	}
	if goodsOnly(types) && !tender.TitleStartsWithDelivery(title) {
		if indicator, ok := tender.TitleIndicatesServiceOrWork(title); ok {
			return fmt.Sprintf("заголовок услуги/работы (%q) при фильтре по товарам", indicator)
		}
	}
	return ""
}

func goodsOnly(types []tender.Kind) bool {
	return len(types) == 1 && types[0] == tender.Goods
}

func rejected(cause string) *Report {
	return &Report{
		Composite:        0,
		Class:            ClassReject,
		RejectCause:      cause,
		OracleConfidence: -1,
	}
}

func scalePositive(v int) int {
	if v <= 0 {
		return v
	}
	return int(math.Round(float64(v) * strictFactor))
}

// orderedUnion объединяет списки, сохраняя порядок первого вхождения.
// Дубликаты сравниваются без учёта регистра.
func orderedUnion(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// containsExact — ключ найден целым словом или фразой, с Unicode-границами
// и без учёта регистра.
func containsExact(text, kw string) bool {
	if kw == "" {
		return false
	}
	pattern := `(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `([^\p{L}\p{N}]|$)`
	return regexp.MustCompile(pattern).FindStringIndex(text) != nil
}

// containsRoot — ключ найден как начало слова: граница слева, справа могут
// идти буквы (окончание).
func containsRoot(text, root string) bool {
	if root == "" {
		return false
	}
	pattern := `(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(root)
	return regexp.MustCompile(pattern).FindStringIndex(text) != nil
}

// containsExclude — правило для исключающих слов: короткие ключи матчатся
// целым словом, длинные — как основа.
func containsExclude(text, kw string) bool {
	if kw == "" {
		return false
	}
	if utf8.RuneCountInString(kw) < 4 {
		return containsExact(text, kw)
	}
	return containsRoot(text, kw)
}
