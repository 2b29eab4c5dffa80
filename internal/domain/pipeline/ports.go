package pipeline

import (
	"context"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
)

// FeedSource — источник кандидатов: опрос ленты по фильтру и обогащение
// записи детальной страницей. Enrich обязан деградировать, а не падать:
// при недоступной странице возвращается частичная карточка (Partial=true)
// на данных ленты.
type FeedSource interface {
	Poll(ctx context.Context, f *subscribers.Filter) ([]tender.Raw, error)
	Enrich(ctx context.Context, raw tender.Raw) (*tender.Enriched, error)
}

// Decision — классификация вердикта оракула по уверенности.
type Decision string

const (
	DecisionUnknown Decision = "UNKNOWN"
	DecisionAccept  Decision = "ACCEPT"
	DecisionRecheck Decision = "RECHECK"
	DecisionReject  Decision = "REJECT"
)

// Verdict — ответ оракула. Confidence −1 означает, что оракул не опрошен
// (квота, транспорт, разомкнутый предохранитель) — такой вердикт не даёт
// надбавки и не кэшируется.
type Verdict struct {
	Confidence int
	Decision   Decision
}

// Unknown — вердикт «оракул не опрошен».
func Unknown() Verdict {
	return Verdict{Confidence: -1, Decision: DecisionUnknown}
}

// Consulted сообщает, был ли вердикт получен от оракула.
func (v Verdict) Consulted() bool {
	return v.Decision != DecisionUnknown
}

// Boost — надбавка к скору матчера: уверенность ≥ 60 даёт +15,
// 40–59 даёт +10, всё остальное (включая UNKNOWN) — ноль.
func (v Verdict) Boost() int {
	switch {
	case !v.Consulted():
		return 0
	case v.Confidence >= 60:
		return 15
	case v.Confidence >= 40:
		return 10
	default:
		return 0
	}
}

// DecisionFor классифицирует уверенность: ≥ 40 — ACCEPT, < 25 — REJECT,
// между ними — RECHECK (для доставки равносилен REJECT, повторных прогонов нет).
func DecisionFor(confidence int) Decision {
	switch {
	case confidence >= 40:
		return DecisionAccept
	case confidence < 25:
		return DecisionReject
	default:
		return DecisionRecheck
	}
}

// Intent — снимок поискового интента фильтра, уходящий оракулу.
// Version участвует в ключе кэша вердиктов.
type Intent struct {
	Text    string
	Version string
}

// RelevanceOracle — семантическая сверка закупки с интентом фильтра.
// Ошибка трактуется конвейером как UNKNOWN для этого кандидата.
type RelevanceOracle interface {
	Assess(ctx context.Context, t *tender.Enriched, intent Intent) (Verdict, error)
}

// VerdictPeeker — необязательное расширение оракула: чтение готового вердикта
// из кэша без обращения к модели. Попадание не тратит квоту оракула.
type VerdictPeeker interface {
	PeekVerdict(t *tender.Enriched, intent Intent) (Verdict, bool)
}

// SendOutcome — итог попытки доставки одного уведомления.
type SendOutcome string

const (
	// OutcomeSent — доставлено и подтверждено транспортом.
	OutcomeSent SendOutcome = "sent"
	// OutcomeTransient — 429/5xx/таймаут; резервирование снимается,
	// попытка повторится в следующем цикле.
	OutcomeTransient SendOutcome = "transient"
	// OutcomePermanent — получатель недоступен навсегда (бан бота, чат
	// удалён); подписчик блокируется до сигнала живости.
	OutcomePermanent SendOutcome = "permanent"
)

// Notification — полностью собранное уведомление для отправки в один чат.
// Confidence −1 означает, что оракул для этого кандидата не опрашивался.
type Notification struct {
	ChatID     int64
	Subscriber *subscribers.Subscriber
	Filter     *subscribers.Filter
	Tender     *tender.Enriched
	Composite  int
	Confidence int
}

// NotificationSink — транспорт доставки уведомлений.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) (SendOutcome, error)
}

// QuotaNoticer — необязательное расширение транспорта: разовое сервисное
// сообщение о том, что суточный лимит уведомлений исчерпан. Квоту не тратит.
type QuotaNoticer interface {
	SendQuotaNotice(ctx context.Context, sub *subscribers.Subscriber) error
}
