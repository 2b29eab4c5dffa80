// Package subscribers — доменные модели подписчиков и их фильтров плюс
// bbolt-хранилище. Здесь описаны тарифы, тихие часы, набор полей фильтра
// для каскада скоринга и безопасные функции клонирования, чтобы снапшоты,
// ушедшие в персист или конвейер, не зависели от дальнейших мутаций.

package subscribers

import (
	"encoding/json"
	"time"

	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/timeutil"
)

// Tier — тариф подписчика. Метки стабильны: они попадают в персист.
type Tier string

const (
	TierTrial   Tier = "trial"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// Subscriber описывает получателя уведомлений: адрес доставки, тариф,
// тихие часы в его собственной зоне и флаг блокировки доставки.
// Data — непрозрачный карман миграции; контракт составляют типизированные поля.
type Subscriber struct {
	ID              int64           `json:"id" validate:"required"`
	ChatID          int64           `json:"chat_id"`
	Tier            Tier            `json:"tier" validate:"oneof=trial basic premium"`
	Timezone        string          `json:"timezone,omitempty"`
	QuietStart      string          `json:"quiet_start,omitempty"` // "HH:MM"; пусто — окно не задано
	QuietEnd        string          `json:"quiet_end,omitempty"`
	DeliveryBlocked bool            `json:"delivery_blocked,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Filter — поисковый фильтр подписчика. Ключевые слова упорядочены;
// primary получают двойной вес, secondary — обычный. Regions хранит только
// канонические названия субъектов. Нулевые PriceMin/PriceMax означают
// неограниченную сторону диапазона.
type Filter struct {
	ID           string     `json:"id"`
	SubscriberID int64      `json:"subscriber_id" validate:"required"`
	Name         string     `json:"name" validate:"required,max=120"`
	Active       bool       `json:"is_active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	Keywords          []string `json:"keywords" validate:"required,min=1"`
	ExcludeKeywords   []string `json:"exclude_keywords,omitempty"`
	PrimaryKeywords   []string `json:"primary_keywords,omitempty"`
	SecondaryKeywords []string `json:"secondary_keywords,omitempty"`
	ExpandedKeywords  []string `json:"expanded_keywords,omitempty"` // синонимы от оракула

	Regions          []string `json:"regions,omitempty"`
	ExecutionRegions []string `json:"execution_regions,omitempty"`

	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`

	TenderTypes     []tender.Kind `json:"tender_types,omitempty" validate:"dive,oneof=goods services works"`
	LawType         tender.Law    `json:"law_type,omitempty" validate:"omitempty,oneof=44-FZ 223-FZ any"`
	MinDeadlineDays int           `json:"min_deadline_days" validate:"gte=0"`

	AIIntent        string `json:"ai_intent,omitempty"`
	AIIntentVersion string `json:"ai_intent_version,omitempty"`

	NotifyChatIDs []int64 `json:"notify_chat_ids,omitempty"`

	MatchCount  int64     `json:"match_count,omitempty"`
	LastMatchAt time.Time `json:"last_match_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Alive сообщает, участвует ли фильтр в обходе: активен и не удалён мягко.
func (f *Filter) Alive() bool {
	return f.Active && f.DeletedAt == nil
}

// Location возвращает таймзону подписчика или nil, если она не задана либо
// не разбирается. Фолбэк выбирает вызывающая сторона.
func (s *Subscriber) Location() *time.Location {
	if s.Timezone == "" {
		return nil
	}
	loc, err := timeutil.ParseLocation(s.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// Clone делает глубокую копию подписчика, чтобы мутации снаружи не затронули
// снимок, ушедший в конвейер.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	clone := *s
	if len(s.Data) > 0 {
		clone.Data = append(json.RawMessage(nil), s.Data...)
	}
	return &clone
}

// Clone создаёт независимую копию фильтра, включая все срезы.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Keywords = cloneStrings(f.Keywords)
	clone.ExcludeKeywords = cloneStrings(f.ExcludeKeywords)
	clone.PrimaryKeywords = cloneStrings(f.PrimaryKeywords)
	clone.SecondaryKeywords = cloneStrings(f.SecondaryKeywords)
	clone.ExpandedKeywords = cloneStrings(f.ExpandedKeywords)
	clone.Regions = cloneStrings(f.Regions)
	clone.ExecutionRegions = cloneStrings(f.ExecutionRegions)
	clone.TenderTypes = cloneKinds(f.TenderTypes)
	clone.NotifyChatIDs = cloneInt64s(f.NotifyChatIDs)
	if f.DeletedAt != nil {
		at := *f.DeletedAt
		clone.DeletedAt = &at
	}
	if f.PriceMin != nil {
		v := *f.PriceMin
		clone.PriceMin = &v
	}
	if f.PriceMax != nil {
		v := *f.PriceMax
		clone.PriceMax = &v
	}
	return &clone
}

// AllKeywords возвращает объединение keywords и expanded_keywords без
// дубликатов, сохраняя порядок: сначала собственные слова, затем синонимы.
func (f *Filter) AllKeywords() []string {
	seen := make(map[string]bool, len(f.Keywords)+len(f.ExpandedKeywords))
	out := make([]string, 0, len(f.Keywords)+len(f.ExpandedKeywords))
	for _, kw := range f.Keywords {
		if kw != "" && !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	for _, kw := range f.ExpandedKeywords {
		if kw != "" && !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneKinds(in []tender.Kind) []tender.Kind {
	if len(in) == 0 {
		return nil
	}
	out := make([]tender.Kind, len(in))
	copy(out, in)
	return out
}

func cloneInt64s(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int64, len(in))
	copy(out, in)
	return out
}
