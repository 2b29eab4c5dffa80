// Package tender — доменные типы закупок: сырая запись из ленты, обогащённая
// карточка с детальной страницы и запрос к ленте. Здесь же живут правила
// определения типа закупки по тексту: лента zakupki.gov.ru часто не отдаёт
// тип явно, и его приходится выводить из названия.
package tender

import (
	"strings"
	"time"
)

// Kind — тип закупки. Значения фиксированы и хранятся в фильтрах подписчиков.
type Kind string

const (
	Goods    Kind = "goods"
	Services Kind = "services"
	Works    Kind = "works"
)

// Law — правовой режим закупки.
type Law string

const (
	Law44  Law = "44-FZ"
	Law223 Law = "223-FZ"
	LawAny Law = "any"
)

// Raw — запись ленты до обогащения. Номер закупки уникален и служит
// идентификатором во всех журналах.
type Raw struct {
	Number      string    `json:"number"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Customer    string    `json:"customer,omitempty"`
	INN         string    `json:"inn,omitempty"`
	Price       float64   `json:"price,omitempty"`    // НМЦК; 0 — лента цену не отдала
	Kind        Kind      `json:"kind,omitempty"`     // "" — тип из ленты не определён
	Law         Law       `json:"law,omitempty"`
	RegionText  string    `json:"region_text,omitempty"` // сырое упоминание региона, не канон
	PublishedAt time.Time `json:"published_at,omitempty"`
	Deadline    time.Time `json:"deadline,omitempty"` // zero — срок подачи неизвестен
}

// Enriched — карточка после обогащения детальной страницей. Встроенный Raw
// несёт уточнённые цену/срок/название; дополнительные поля заполняются только
// здесь. Partial означает, что страница не загрузилась и карточка осталась
// на данных ленты.
type Enriched struct {
	Raw
	CanonicalRegion string `json:"canonical_region,omitempty"` // "" — регион не определён
	Address         string `json:"address,omitempty"`
	Fingerprint     string `json:"fingerprint,omitempty"` // хэш детальной страницы
	Partial         bool   `json:"partial,omitempty"`
}

// goodsStartWords — слова, с которых начинаются названия товарных закупок.
// Название с таким префиксом считается товаром даже при словах про монтаж
// или обслуживание дальше по тексту.
var goodsStartWords = []string{
	"поставка", "закупка", "приобретение", "купля", "покупка", "снабжение",
}

// serviceWorkIndicators — маркеры услуг и работ в названии. Применяются
// только когда товарный префикс не найден: в summary маркеры дают слишком
// много ложных срабатываний.
var serviceWorkIndicators = []string{
	"оказание услуг", "выполнение работ", "проведение работ",
	"оказание услуги", "выполнение услуг",
	"услуги по", "работы по",
	"медицинские услуги", "медицинская помощь",
	"консультирование", "проектирование",
	"техническое обслуживание", "техобслуживание",
	"сервисное обслуживание",
}

// DetectKind выводит тип закупки из текста ленты (название плюс summary).
// Возвращает "" когда явных маркеров нет.
func DetectKind(text string) Kind {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "поставка товар"):
		return Goods
	case strings.Contains(lower, "выполнение работ"):
		return Works
	case strings.Contains(lower, "оказание услуг"):
		return Services
	}
	return ""
}

// TitleStartsWithDelivery сообщает, начинается ли название с товарного слова.
func TitleStartsWithDelivery(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, word := range goodsStartWords {
		if strings.HasPrefix(lower, word) {
			return true
		}
	}
	return false
}

// TitleIndicatesServiceOrWork ищет в названии маркеры услуг и работ.
// Возвращает найденный маркер для диагностики и флаг совпадения.
func TitleIndicatesServiceOrWork(title string) (string, bool) {
	lower := strings.ToLower(title)
	for _, indicator := range serviceWorkIndicators {
		if strings.Contains(lower, indicator) {
			return indicator, true
		}
	}
	return "", false
}

// MatchText возвращает текст, по которому работает скоринг: название,
// объект закупки из summary уже слит в Title адаптером, поэтому достаточно
// Title + Summary.
func (r Raw) MatchText() string {
	if r.Summary == "" {
		return r.Title
	}
	return r.Title + " " + r.Summary
}
