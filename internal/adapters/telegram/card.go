package telegram

import (
	"html"
	"math"
	"strconv"
	"strings"

	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/quota"
	"tender-radar/internal/domain/subscribers"
)

// cardDivider отделяет заголовок карточки от фактов.
const cardDivider = "━━━━━━━━━━━━━━━━━━━━━━"

// customerMaxRunes — предел длины названия заказчика в карточке.
const customerMaxRunes = 40

// renderCard собирает HTML-карточку закупки: эмодзи по скору, название,
// цена с разрядами, срок подачи, регион и заказчик (когда известны), имя
// фильтра, строка оракула (когда опрошен) и ссылка на извещение.
// Пользовательский текст экранируется: parse_mode=HTML.
func renderCard(n pipeline.Notification) string {
	t := n.Tender

	var b strings.Builder
	b.WriteString(scoreEmoji(n.Composite))
	b.WriteString(" <b>Новый тендер!</b>  📊 ")
	b.WriteString(strconv.Itoa(n.Composite))
	b.WriteString("/100\n\n<b>📋 ")
	b.WriteString(html.EscapeString(t.Title))
	b.WriteString("</b>\n")
	b.WriteString(cardDivider)
	b.WriteString("\n💰 ")
	b.WriteString(formatPrice(t.Price))

	if !t.Deadline.IsZero() {
		b.WriteString("\n⏰ Подача до: ")
		b.WriteString(t.Deadline.Format("02.01.2006"))
	}
	if t.CanonicalRegion != "" {
		b.WriteString("\n📍 ")
		b.WriteString(html.EscapeString(t.CanonicalRegion))
	}
	if t.Customer != "" {
		b.WriteString("\n🏢 ")
		b.WriteString(html.EscapeString(truncateRunes(t.Customer, customerMaxRunes)))
	}
	b.WriteString("\n🎯 Фильтр: ")
	b.WriteString(html.EscapeString(n.Filter.Name))

	if n.Confidence >= 0 {
		b.WriteString("\n🤖 AI: ")
		b.WriteString(strconv.Itoa(n.Confidence))
		b.WriteString("%")
	}

	b.WriteString("\n\n🔗 № ")
	b.WriteString(html.EscapeString(t.Number))
	if t.URL != "" {
		b.WriteString("\n<a href=\"")
		b.WriteString(html.EscapeString(t.URL))
		b.WriteString("\">Открыть на zakupki.gov.ru</a>")
	}
	return b.String()
}

// renderQuotaNotice — сервисное сообщение об исчерпанном суточном лимите.
func renderQuotaNotice(sub *subscribers.Subscriber) string {
	limit := quota.CapFor(sub.Tier, quota.Notifications)

	var b strings.Builder
	b.WriteString("⚠️ <b>Достигнут лимит уведомлений</b>\n\n")
	b.WriteString("Вы получили максимальное количество уведомлений сегодня: <b>")
	b.WriteString(strconv.Itoa(limit))
	b.WriteString("</b>\n\nМониторинг продолжится завтра автоматически.")
	return b.String()
}

// scoreEmoji подбирает эмодзи заголовка по итоговому скору.
func scoreEmoji(composite int) string {
	switch {
	case composite >= 80:
		return "🔥"
	case composite >= 60:
		return "✨"
	default:
		return "📌"
	}
}

// formatPrice печатает НМЦК с пробелами между разрядами: «2 500 000 ₽».
// Нулевая цена означает, что лента и страница цену не отдали.
func formatPrice(price float64) string {
	if price <= 0 {
		return "Не указана"
	}
	digits := strconv.FormatInt(int64(math.Round(price)), 10)

	var b strings.Builder
	b.Grow(len(digits) + len(digits)/3 + len(" ₽"))
	for i := 0; i < len(digits); i++ {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(digits[i])
	}
	b.WriteString(" ₽")
	return b.String()
}

// truncateRunes обрезает строку до limit рун, заменяя хвост многоточием.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
