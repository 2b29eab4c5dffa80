package zakupki

import (
	"bytes"
	"context"
	"encoding/xml"
	"html"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/logger"
)

// siteBaseURL достраивает относительные ссылки ленты до абсолютных.
const siteBaseURL = "https://zakupki.gov.ru"

// Запас записей при опросе: клиентская фильтрация по типу выбрасывает часть
// ленты, поэтому читаем больше, чем нужно отдать. Товары портал путает чаще
// всего — для них запас пятикратный.
const (
	goodsOverfetch = 5
	typedOverfetch = 3
)

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Poll опрашивает ленту по фильтру и возвращает разобранные записи.
// Порядок ленты сохраняется: свежие извещения первыми. Ошибка сети или
// разбора отдаётся наверх — цикл конвейера переживает её и учтёт в счётчиках.
func (c *Client) Poll(ctx context.Context, f *subscribers.Filter) ([]tender.Raw, error) {
	if f == nil {
		return nil, errors.New("zakupki: filter is nil")
	}

	body, err := c.get(ctx, c.feedURL(f))
	if err != nil {
		return nil, errors.Wrap(err, "zakupki: загрузка ленты")
	}
	items, err := decodeFeed(body)
	if err != nil {
		return nil, errors.Wrap(err, "zakupki: разбор ленты")
	}

	only := soleKind(f.TenderTypes)
	limit := c.maxResults
	switch only {
	case "":
	case tender.Goods:
		limit *= goodsOverfetch
	default:
		limit *= typedOverfetch
	}
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]tender.Raw, 0, min(len(items), c.maxResults))
	skipped := 0
	for _, it := range items {
		raw, ok := c.parseItem(it)
		if !ok {
			continue
		}
		if marker, reject := kindMismatch(only, raw.Title, raw.Summary); reject {
			skipped++
			logger.Debugf("Zakupki: %s отсеян по типу (маркер %q): %s", raw.Number, marker, raw.Title)
			continue
		}
		out = append(out, raw)
		if len(out) >= c.maxResults {
			break
		}
	}

	logger.Debugf("Zakupki: лента по фильтру %q — %d записей, отсеяно по типу %d", f.Name, len(out), skipped)
	return out, nil
}

// decodeFeed разбирает XML ленты. Портал исторически отдаёт windows-1251,
// поэтому декодер снабжён перекодировщиком.
func decodeFeed(body []byte) ([]rssItem, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader

	var feed rssFeed
	if err := dec.Decode(&feed); err != nil {
		return nil, err
	}
	return feed.Channel.Items, nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return input, nil
	case "windows-1251", "cp1251", "win-1251":
		return transform.NewReader(input, charmap.Windows1251.NewDecoder()), nil
	}
	return nil, errors.Errorf("zakupki: кодировка ленты %q не поддерживается", charset)
}

// parseItem превращает запись ленты в кандидата. Записи без регистрационного
// номера или названия отбрасываются: по ним нечего дедуплицировать.
func (c *Client) parseItem(it rssItem) (tender.Raw, bool) {
	link := strings.TrimSpace(it.Link)
	if link != "" && !strings.HasPrefix(link, "http") {
		link = siteBaseURL + link
	}
	number := extractRegNumber(link)
	if number == "" {
		return tender.Raw{}, false
	}

	// Заголовок ленты часто бюрократический («Закупка №...»); человеческое
	// название лежит в summary под «Наименование объекта закупки».
	title := collapseSpaces(html.UnescapeString(it.Title))
	summary := it.Description
	if obj := extractPurchaseObject(summary); obj != "" {
		title = obj
	}
	if title == "" {
		return tender.Raw{}, false
	}

	raw := tender.Raw{
		Number:      number,
		Title:       title,
		Summary:     plainText(summary),
		URL:         link,
		Customer:    extractCustomer(summary),
		INN:         extractINN(summary),
		Price:       extractPrice(summary),
		Law:         lawFromURL(link),
		PublishedAt: parsePubDate(it.PubDate),
		Deadline:    c.parseLocalDate(extractDeadline(summary)),
	}

	raw.Kind = tender.DetectKind(title + " " + raw.Summary)
	if raw.Kind == "" && tender.TitleStartsWithDelivery(title) {
		raw.Kind = tender.Goods
	}
	return raw, true
}

// Маркеры для строгой клиентской фильтрации услуг и работ. Товарный режим
// пользуется правилами пакета tender: товарный префикс названия сильнее
// любых маркеров услуг дальше по тексту.
var (
	feedGoodsMarkers = []string{
		"поставка товар", "закупка товар", "приобретение товар",
		"поставка оборудования", "закупка оборудования",
		"поставка материал", "закупка материал",
	}
	feedWorkMarkers = []string{
		"выполнение работ", "строительные работы", "ремонт",
		"строительство", "реконструкция",
	}
	feedServiceMarkers = []string{
		"оказание услуг", "медицинские услуги", "консультирование",
		"услуги по", "сопровождение",
	}
)

// kindMismatch решает, выбрасывать ли запись при фильтре с единственным
// типом закупки. Возвращает сработавший маркер для журнала.
//
// Товары: серверного фильтра нет, поэтому отсеиваются явные услуги и работы —
// но только по названию, summary даёт слишком много ложных срабатываний.
// Услуги и работы: серверный фильтр уже применён, здесь достраховка по
// полному тексту.
func kindMismatch(only tender.Kind, title, summary string) (string, bool) {
	switch only {
	case tender.Goods:
		if tender.TitleStartsWithDelivery(title) {
			return "", false
		}
		if marker, hit := tender.TitleIndicatesServiceOrWork(title); hit {
			return marker, true
		}

	case tender.Services:
		full := strings.ToLower(title) + " " + strings.ToLower(summary)
		for _, m := range feedGoodsMarkers {
			if strings.Contains(full, m) {
				return m, true
			}
		}
		for _, m := range feedWorkMarkers {
			if strings.Contains(full, m) {
				return m, true
			}
		}

	case tender.Works:
		full := strings.ToLower(title) + " " + strings.ToLower(summary)
		for _, m := range feedGoodsMarkers {
			if strings.Contains(full, m) {
				return m, true
			}
		}
		for _, m := range feedServiceMarkers {
			if strings.Contains(full, m) {
				return m, true
			}
		}
	}
	return "", false
}

var reRegNumber = regexp.MustCompile(`regNumber=([A-Z0-9]+)`)

func extractRegNumber(link string) string {
	m := reRegNumber.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// feedBureaucraticPhrases — обороты, по которым «объект закупки» из summary
// признаётся канцелярской отпиской, а не названием предмета.
var feedBureaucraticPhrases = []string{
	"в соответствии с", "статьи 93", "закона № 44", "закона №44",
	"осуществляемая в соответствии", "частью 12",
}

// feedObjectPatterns — варианты подачи объекта закупки в summary,
// от основного формата к редким.
var feedObjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<strong>Наименование объекта закупки:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)Наименование объекта закупки:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)<strong>Объект закупки:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)Объект закупки:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)<strong>Предмет (?:контракта|закупки):\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)<strong>Краткое описание:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)<strong>Наименование товара[^:]*:\s*</strong>([^<]+)`),
}

func extractPurchaseObject(summaryHTML string) string {
	for _, re := range feedObjectPatterns {
		m := re.FindStringSubmatch(summaryHTML)
		if m == nil {
			continue
		}
		obj := collapseSpaces(html.UnescapeString(m[1]))
		if validPurchaseObject(obj) {
			return obj
		}
	}
	return ""
}

func validPurchaseObject(text string) bool {
	if utf8.RuneCountInString(text) < 10 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range feedBureaucraticPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// feedPricePatterns — семейство форматов НМЦК в summary, от точных к общим.
var feedPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)Начальная.*?цена.*?контракта[:\s]*</strong>\s*([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)НМЦК[:\s]+([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)Начальная.*?цена[:\s]+([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)Максимальная.*?цена[:\s]+([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)цена контракта[:\s]+([0-9\s,.]+)`),
}

func extractPrice(summaryHTML string) float64 {
	for _, re := range feedPricePatterns {
		m := re.FindStringSubmatch(summaryHTML)
		if m == nil {
			continue
		}
		if price := parsePriceText(m[1]); price > 0 {
			return price
		}
	}
	return 0
}

var reNonPrice = regexp.MustCompile(`[^\d,.]`)

// parsePriceText чистит денежную строку («2 446 980,70») и валидирует сумму.
// Всё, что не разбирается или не дотягивает до 100 рублей, считается мусором
// вёрстки и отбрасывается.
func parsePriceText(text string) float64 {
	cleaned := reNonPrice.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	cleaned = strings.Trim(cleaned, ".")
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price <= 100 {
		return 0
	}
	return price
}

var feedCustomerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<strong>Наименование Заказчика:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)<strong>Заказчик:\s*</strong>([^<]+)`),
	regexp.MustCompile(`(?i)Заказчик:\s*([^<\n]+)`),
}

func extractCustomer(summaryHTML string) string {
	for _, re := range feedCustomerPatterns {
		m := re.FindStringSubmatch(summaryHTML)
		if m == nil {
			continue
		}
		if customer := collapseSpaces(html.UnescapeString(m[1])); customer != "" {
			return customer
		}
	}
	return ""
}

var reINN = regexp.MustCompile(`(?i)ИНН\D{0,12}(\d{12}|\d{10})\b`)

func extractINN(summaryHTML string) string {
	m := reINN.FindStringSubmatch(summaryHTML)
	if m == nil {
		return ""
	}
	return m[1]
}

// feedDeadlinePatterns — варианты даты окончания подачи заявок в summary.
var feedDeadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)(?:Окончание подачи заявок|Дата окончания подачи заявок|Срок подачи заявок)[:\s]*</strong>\s*([0-9.]+(?:\s+[0-9:]+)?)`),
	regexp.MustCompile(`(?is)(?:Окончание подачи заявок|Дата окончания)[:\s]*</strong>\s*([0-9.]+(?:\s+[0-9:]+)?)`),
	regexp.MustCompile(`(?is)(?:Окончание подачи заявок|Дата окончания подачи заявок|Срок подачи заявок)[:\s]+([0-9.]+(?:\s+[0-9:]+)?)`),
	regexp.MustCompile(`(?is)(?:Окончание подачи заявок|Дата окончания)[:\s]+([0-9.]+(?:\s+[0-9:]+)?)`),
	regexp.MustCompile(`(?is)до\s+([0-9.]+\s+[0-9:]+)`),
	regexp.MustCompile(`(?is)Дата и время окончания.*?([0-9]{2}\.[0-9]{2}\.[0-9]{4}(?:\s+[0-9:]+)?)`),
	regexp.MustCompile(`(?is)окончани[ея]\s+[^0-9]*([0-9]{2}\.[0-9]{2}\.[0-9]{4}(?:\s+[0-9]{2}:[0-9]{2})?)`),
}

var reDeadlineShape = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}`)

func extractDeadline(summaryHTML string) string {
	for _, re := range feedDeadlinePatterns {
		m := re.FindStringSubmatch(summaryHTML)
		if m == nil {
			continue
		}
		deadline := strings.TrimSpace(m[1])
		if reDeadlineShape.MatchString(deadline) {
			return deadline
		}
	}
	return ""
}

// parseLocalDate разбирает «дд.мм.гггг чч:мм» либо «дд.мм.гггг» в зоне
// клиента. Портал печатает время без смещения. Нулевое время — срок неизвестен.
func (c *Client) parseLocalDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"02.01.2006 15:04", "02.01.2006"} {
		if ts, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return ts
		}
	}
	return time.Time{}
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z07:00",
}

func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// lawFromURL различает правовой режим по пути извещения: раздел 223-ФЗ живёт
// под собственными маршрутами. Запрос с regNumber не учитывается, чтобы
// цифры номера не приняли за маркер.
func lawFromURL(link string) tender.Law {
	u, err := url.Parse(link)
	if err != nil {
		return tender.Law44
	}
	if strings.Contains(u.Path, "223") {
		return tender.Law223
	}
	return tender.Law44
}

var (
	reTags      = regexp.MustCompile(`<[^>]*>`)
	reManySpace = regexp.MustCompile(`\s+`)
)

// plainText снимает разметку summary: скоринг работает по живому тексту,
// а не по названиям тегов.
func plainText(htmlText string) string {
	return collapseSpaces(html.UnescapeString(reTags.ReplaceAllString(htmlText, " ")))
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(reManySpace.ReplaceAllString(s, " "))
}
