package zakupki

import (
	"bytes"
	"context"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"tender-radar/internal/domain/regions"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/logger"
)

// Enrich дополняет запись ленты детальной страницей извещения: точная НМЦК,
// срок подачи с временем, адрес заказчика, канонический регион, отпечаток
// страницы. Недоступная страница не является ошибкой — карточка помечается
// частичной и остаётся на данных ленты; регион при этом всё равно выводится
// из заказчика и ИНН.
func (c *Client) Enrich(ctx context.Context, raw tender.Raw) (*tender.Enriched, error) {
	if c.cache != nil {
		var cached tender.Enriched
		ok, err := c.cache.Get(raw.Number, &cached)
		if err != nil {
			logger.Warnf("Zakupki: кэш обогащений недоступен: %v", err)
		} else if ok {
			return &cached, nil
		}
	}

	enr := &tender.Enriched{Raw: raw}

	body, err := c.get(ctx, raw.URL)
	if err != nil {
		logger.Debugf("Zakupki: страница %s не загрузилась, карточка частичная: %v", raw.Number, err)
		enr.Partial = true
		enr.CanonicalRegion = resolveRegion(enr)
		return enr, nil
	}

	c.applyPage(ctx, enr, body)
	enr.Fingerprint = fingerprint(body)
	enr.CanonicalRegion = resolveRegion(enr)

	if c.cache != nil {
		if err := c.cache.Set(raw.Number, enr); err != nil {
			logger.Warnf("Zakupki: карточка %s не закэширована: %v", raw.Number, err)
		}
	}
	return enr, nil
}

// applyPage вычитывает поля детальной страницы. Основной путь — пары
// section__title/section__info и cardMainInfo__title/__content через goquery;
// на случай дрейфа вёрстки каждое поле имеет регулярный фолбэк по сырому HTML.
func (c *Client) applyPage(ctx context.Context, enr *tender.Enriched, body []byte) {
	page := string(body)
	var sections map[string]string
	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if docErr != nil {
		logger.Debugf("Zakupki: разметка %s не разобрана: %v", enr.Number, docErr)
		sections = map[string]string{}
	} else {
		sections = sectionPairs(doc)
	}

	if price := pagePrice(sections, page); price > 0 {
		enr.Price = price
	}
	if deadline := c.pageDeadline(sections, page); !deadline.IsZero() {
		enr.Deadline = deadline
	}
	if addr := pageAddress(sections, page); addr != "" {
		enr.Address = addr
	}
	if enr.Customer == "" {
		enr.Customer = pageCustomer(sections)
	}
	if enr.INN == "" {
		if inn := sections["инн"]; reINNDigits.MatchString(inn) {
			enr.INN = inn
		}
	}

	c.fixTitle(ctx, enr, sections, doc)
}

// sectionPairs собирает словарь «подпись → значение» из двух семейств
// разметки портала. Ключи складываются в нижнем регистре; при повторе
// подписи побеждает первое вхождение — оно ближе к шапке карточки.
func sectionPairs(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	put := func(key, val string) {
		key = strings.ToLower(collapseSpaces(key))
		val = collapseSpaces(val)
		if key == "" || val == "" {
			return
		}
		if _, busy := out[key]; !busy {
			out[key] = val
		}
	}

	doc.Find("span.section__title").Each(func(_ int, title *goquery.Selection) {
		info := title.NextAllFiltered("span.section__info").First()
		if info.Length() == 0 {
			info = title.Parent().Find("span.section__info").First()
		}
		put(title.Text(), info.Text())
	})
	doc.Find("span.cardMainInfo__title").Each(func(_ int, title *goquery.Selection) {
		content := title.NextAllFiltered("span.cardMainInfo__content").First()
		if content.Length() == 0 {
			content = title.Parent().Find("span.cardMainInfo__content").First()
		}
		put(title.Text(), content.Text())
	})
	return out
}

// sectionLookup возвращает значение первой подписи, содержащей одну из
// игл. Иглы перебираются по убыванию точности.
func sectionLookup(sections map[string]string, needles ...string) string {
	for _, needle := range needles {
		for key, val := range sections {
			if strings.Contains(key, needle) {
				return val
			}
		}
	}
	return ""
}

var pagePricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)Максимальное значение цены контракта\s*</span>\s*<span[^>]*class="section__info"[^>]*>\s*([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)Начальная цена.*?cardMainInfo__content[^>]*>\s*([0-9\s,.]+)`),
	regexp.MustCompile(`(?is)Начальная \(максимальная\) цена контракта.*?section__info[^>]*>\s*([0-9\s,.]+)`),
}

func pagePrice(sections map[string]string, page string) float64 {
	text := sectionLookup(sections,
		"максимальное значение цены контракта",
		"начальная (максимальная) цена контракта",
		"начальная цена",
		"цена контракта",
	)
	if price := parsePriceText(text); price > 0 {
		return price
	}
	for _, re := range pagePricePatterns {
		m := re.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		if price := parsePriceText(m[1]); price > 0 {
			return price
		}
	}
	return 0
}

// Дедлайн ищется в два прохода: сперва полный формат с временем, затем
// только дата. Последняя пара шаблонов — поиск даты по соседству со словами
// о подаче заявок, когда структурные блоки не нашлись.
var (
	pageDeadlineWithTime = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Дата и время окончания срока подачи заявок\s*</span>\s*<span[^>]*class="section__info"[^>]*>\s*(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2})`),
		regexp.MustCompile(`(?is)окончания срока подачи заявок.*?(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2})`),
		regexp.MustCompile(`(?is)Окончание срока подачи заявок[:\s]*(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2})`),
		regexp.MustCompile(`(?is)Прием заявок до[:\s]*(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2})`),
	}
	pageDeadlineDateOnly = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Окончание подачи заявок\s*</span>\s*<span[^>]*cardMainInfo__content[^>]*>\s*(\d{2}\.\d{2}\.\d{4})`),
		regexp.MustCompile(`(?is)Окончание подачи заявок[:\s]*</span>\s*<span[^>]*>\s*(\d{2}\.\d{2}\.\d{4})`),
		regexp.MustCompile(`(?is)(?:Срок|Дата).*?(?:окончания|подачи).*?заявок[^0-9]*(\d{2}\.\d{2}\.\d{4})`),
	}
	pageDeadlineNearby = []*regexp.Regexp{
		regexp.MustCompile(`(?is)(?:подач[иа]\s+заявок|окончани[ея])[^0-9]{0,40}(\d{2}\.\d{2}\.\d{4})`),
		regexp.MustCompile(`(?is)(\d{2}\.\d{2}\.\d{4})[^0-9]{0,40}(?:подач[иа]\s+заявок|окончани[ея])`),
	}
)

var reDeadlineToken = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}(?:\s+\d{2}:\d{2})?`)

func (c *Client) pageDeadline(sections map[string]string, page string) time.Time {
	text := sectionLookup(sections,
		"дата и время окончания срока подачи заявок",
		"окончание подачи заявок",
		"окончание срока подачи заявок",
	)
	if token := reDeadlineToken.FindString(text); token != "" {
		if ts := c.parseLocalDate(token); !ts.IsZero() {
			return ts
		}
	}

	for _, re := range pageDeadlineWithTime {
		if m := re.FindStringSubmatch(page); m != nil {
			if ts := c.parseLocalDate(m[1] + " " + m[2]); !ts.IsZero() {
				return ts
			}
		}
	}
	for _, re := range pageDeadlineDateOnly {
		if m := re.FindStringSubmatch(page); m != nil {
			if ts := c.parseLocalDate(m[1]); !ts.IsZero() {
				return ts
			}
		}
	}
	for _, re := range pageDeadlineNearby {
		if m := re.FindStringSubmatch(page); m != nil {
			if ts := c.parseLocalDate(m[1]); !ts.IsZero() {
				return ts
			}
		}
	}
	return time.Time{}
}

var pageAddressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)Почтовый адрес\s*</span>\s*<span[^>]*class="section__info"[^>]*>\s*([^<]+)`),
	regexp.MustCompile(`(?is)Место нахождения\s*</span>\s*<span[^>]*class="section__info"[^>]*>\s*([^<]+)`),
}

var reEntity = regexp.MustCompile(`&[a-z]+;|&#\d+;`)

func pageAddress(sections map[string]string, page string) string {
	for _, key := range []string{"почтовый адрес", "место нахождения"} {
		if addr := sections[key]; utf8.RuneCountInString(addr) > 10 {
			return addr
		}
	}
	for _, re := range pageAddressPatterns {
		m := re.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		addr := collapseSpaces(reEntity.ReplaceAllString(m[1], " "))
		if utf8.RuneCountInString(addr) > 10 {
			return addr
		}
	}
	return ""
}

func pageCustomer(sections map[string]string) string {
	text := sectionLookup(sections,
		"организация, осуществляющая размещение",
		"наименование заказчика",
	)
	if utf8.RuneCountInString(text) <= 10 || looksNumeric(text) {
		return ""
	}
	return text
}

func looksNumeric(s string) bool {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ',', '.':
			return -1
		}
		return r
	}, s)
	if stripped == "" {
		return true
	}
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var reINNDigits = regexp.MustCompile(`^(\d{10}|\d{12})$`)

// pageBureaucraticPhrases — признаки того, что вместо предмета закупки в
// названии лежит ссылка на статью закона.
var pageBureaucraticPhrases = []string{
	"закупка, осуществляемая в соответствии",
	"в соответствии с частью",
	"статьи 93",
	"закона № 44-фз",
	"закона №44-фз",
}

func titleNeedsReplacement(title string) bool {
	lower := strings.ToLower(title)
	for _, phrase := range pageBureaucraticPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return utf8.RuneCountInString(title) < 20
}

// fixTitle подменяет канцелярское или слишком короткое название человеческим
// объектом закупки: сперва с самой страницы, затем со вкладки позиций.
func (c *Client) fixTitle(ctx context.Context, enr *tender.Enriched, sections map[string]string, doc *goquery.Document) {
	if !titleNeedsReplacement(enr.Title) {
		return
	}

	obj := sectionLookup(sections, "наименование объекта закупки", "объект закупки")
	obj = collapseSpaces(obj)
	if !validPurchaseObject(obj) && doc != nil {
		obj = purchaseObjectFromTable(doc)
	}
	if !validPurchaseObject(obj) {
		obj = c.purchaseObjectFromTab(ctx, enr.URL)
	}
	if validPurchaseObject(obj) {
		logger.Debugf("Zakupki: название %s заменено объектом закупки: %s", enr.Number, obj)
		enr.Title = obj
	}
}

// purchaseObjectFromTable достаёт наименование позиции из таблицы раздела
// «Информация об объекте закупки»: третья колонка первой строки, текст до
// вложенного блока с характеристиками.
func purchaseObjectFromTable(doc *goquery.Document) string {
	row := doc.Find("table.blockInfo__table tbody tr.tableBlock__row").First()
	cells := row.Find("td.tableBlock__col")
	if cells.Length() < 3 {
		return ""
	}

	var b strings.Builder
	for _, n := range cells.Eq(2).Contents().Nodes {
		if n.Type == html.ElementNode && n.Data == "div" {
			break
		}
		b.WriteString(nodeText(n))
	}
	return collapseSpaces(b.String())
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

// purchaseObjectFromTab загружает вкладку purchase-objects.html того же
// извещения. Вторая загрузка идёт через общий троттлер; любой сбой означает
// просто отсутствие замены.
func (c *Client) purchaseObjectFromTab(ctx context.Context, pageURL string) string {
	tabURL := strings.Replace(pageURL, "common-info.html", "purchase-objects.html", 1)
	if tabURL == pageURL {
		return ""
	}

	body, err := c.get(ctx, tabURL)
	if err != nil {
		logger.Debugf("Zakupki: вкладка позиций недоступна: %v", err)
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	if obj := collapseSpaces(sectionLookup(sectionPairs(doc),
		"наименование объекта закупки", "объект закупки")); validPurchaseObject(obj) {
		return obj
	}
	return purchaseObjectFromTable(doc)
}

// resolveRegion выводит канонический субъект каскадом: название заказчика →
// код региона в ИНН → почтовый адрес → сырое упоминание из ленты. Пустая
// строка означает «регион не определён», её судьбу решает политика скоринга.
func resolveRegion(e *tender.Enriched) string {
	if r := regions.Normalize(e.Customer); r != "" {
		return r
	}
	if r := regions.FromINN(e.INN); r != "" {
		return r
	}
	if r := regions.Normalize(e.Address); r != "" {
		return r
	}
	return regions.Normalize(e.RegionText)
}

// fingerprint — FNV-1a свёртка страницы; меняется вместе с извещением.
func fingerprint(body []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(body)
	return strconv.FormatUint(h.Sum64(), 16)
}
