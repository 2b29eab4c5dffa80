package zakupki_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"tender-radar/internal/adapters/zakupki"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/throttle"
)

func float(v float64) *float64 { return &v }

const emptyFeed = `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Результаты поиска</title></channel></rss>`

func newThrottler(t *testing.T) *throttle.Throttler {
	t.Helper()
	thr := throttle.New(1000, throttle.WithMaxRetries(1))
	thr.Start(context.Background())
	t.Cleanup(thr.Stop)
	return thr
}

func newClient(t *testing.T, baseURL string, opts zakupki.Options) *zakupki.Client {
	t.Helper()
	opts.BaseURL = baseURL
	if opts.Throttler == nil {
		opts.Throttler = newThrottler(t)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	client, err := zakupki.New(opts)
	if err != nil {
		t.Fatalf("zakupki.New() error = %v", err)
	}
	return client
}

func baseFilter() *subscribers.Filter {
	return &subscribers.Filter{
		ID:           "f-laptops",
		SubscriberID: 1,
		Name:         "Ноутбуки",
		Active:       true,
		Keywords:     []string{"ноутбук"},
	}
}

// serveFeed поднимает сервер, отдающий одно и то же тело на любой запрос.
func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func feedXML(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Закупки</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

// feedEntry собирает запись ленты в боевом формате: объект закупки, заказчик,
// ИНН, НМЦК и срок подачи лежат в summary за тегами strong.
func feedEntry(number, object string) string {
	return fmt.Sprintf(`<item>
<title>Извещение №%s о проведении электронного аукциона</title>
<link>https://zakupki.gov.ru/epz/order/notice/ea44/view/common-info.html?regNumber=%s</link>
<description><![CDATA[<strong>Наименование объекта закупки:</strong>%s <br/><strong>Наименование Заказчика:</strong> ГКУ Дирекция по обслуживанию зданий <br/><strong>ИНН:</strong> 7707083893<br/><strong>Начальная (максимальная) цена контракта:</strong> 2 446 980,70 <br/><strong>Окончание подачи заявок:</strong> 20.03.2026 10:00]]></description>
<pubDate>Mon, 02 Mar 2026 09:15:00 +0300</pubDate>
</item>`, number, number, object)
}

func TestPollParsesFeedEntry(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, feedXML(feedEntry("0173200001426000111", "Поставка ноутбуков и док-станций")))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}

	raw := got[0]
	if raw.Number != "0173200001426000111" {
		t.Errorf("Number = %q, want %q", raw.Number, "0173200001426000111")
	}
	if raw.Title != "Поставка ноутбуков и док-станций" {
		t.Errorf("Title = %q: объект закупки должен заменить заголовок ленты", raw.Title)
	}
	if raw.Price != 2446980.70 {
		t.Errorf("Price = %v, want 2446980.70", raw.Price)
	}
	if raw.Customer != "ГКУ Дирекция по обслуживанию зданий" {
		t.Errorf("Customer = %q", raw.Customer)
	}
	if raw.INN != "7707083893" {
		t.Errorf("INN = %q, want 7707083893", raw.INN)
	}
	if raw.Kind != tender.Goods {
		t.Errorf("Kind = %q, want %q", raw.Kind, tender.Goods)
	}
	if raw.Law != tender.Law44 {
		t.Errorf("Law = %q, want %q", raw.Law, tender.Law44)
	}

	wantDeadline := time.Date(2026, time.March, 20, 10, 0, 0, 0, time.UTC)
	if !raw.Deadline.Equal(wantDeadline) {
		t.Errorf("Deadline = %v, want %v", raw.Deadline, wantDeadline)
	}
	wantPublished := time.Date(2026, time.March, 2, 6, 15, 0, 0, time.UTC)
	if !raw.PublishedAt.UTC().Equal(wantPublished) {
		t.Errorf("PublishedAt = %v, want %v", raw.PublishedAt.UTC(), wantPublished)
	}

	if strings.Contains(raw.Summary, "<") {
		t.Errorf("Summary содержит разметку: %q", raw.Summary)
	}
	if !strings.Contains(raw.Summary, "Поставка ноутбуков") {
		t.Errorf("Summary потерял текст объекта: %q", raw.Summary)
	}
}

func TestPollDecodesWindows1251(t *testing.T) {
	t.Parallel()

	utf8Body := feedXML(feedEntry("0173200001426000222", "Поставка серверного оборудования"))
	utf8Body = strings.Replace(utf8Body, `encoding="UTF-8"`, `encoding="windows-1251"`, 1)
	encoded, err := charmap.Windows1251.NewEncoder().String(utf8Body)
	if err != nil {
		t.Fatalf("кодирование фикстуры: %v", err)
	}

	srv := serveFeed(t, encoded)
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Title != "Поставка серверного оборудования" {
		t.Errorf("Title = %q: лента в windows-1251 не перекодировалась", got[0].Title)
	}
}

func TestPollUnescapesEntitiesInObject(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, feedXML(feedEntry("0173200001426000333", "Поставка картриджей &laquo;Тонер&raquo; для МФУ")))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if want := "Поставка картриджей «Тонер» для МФУ"; got[0].Title != want {
		t.Errorf("Title = %q, want %q", got[0].Title, want)
	}
}

func TestPollGoodsModeFiltersByTitle(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, feedXML(
		feedEntry("0173200001426000001", "Поставка ноутбуков для школ"),
		feedEntry("0173200001426000002", "Оказание услуг по уборке зданий"),
		feedEntry("0173200001426000003", "Выполнение работ по ремонту кровли"),
	))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	f := baseFilter()
	f.TenderTypes = []tender.Kind{tender.Goods}

	got, err := client.Poll(context.Background(), f)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1: услуги и работы должны отсеяться", len(got))
	}
	if got[0].Number != "0173200001426000001" {
		t.Errorf("Number = %q, want запись про ноутбуки", got[0].Number)
	}
}

func TestPollServicesModeExcludesGoodsAndWorks(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, feedXML(
		feedEntry("0173200001426000004", "Оказание услуг страхования автопарка"),
		feedEntry("0173200001426000005", "Поставка оборудования для пищеблока"),
		feedEntry("0173200001426000006", "Выполнение работ по благоустройству"),
	))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	f := baseFilter()
	f.TenderTypes = []tender.Kind{tender.Services}

	got, err := client.Poll(context.Background(), f)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Number != "0173200001426000004" {
		t.Errorf("Number = %q, want запись про страхование", got[0].Number)
	}
}

func TestPollCapsResults(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, feedXML(
		feedEntry("0173200001426000007", "Поставка бумаги офисной"),
		feedEntry("0173200001426000008", "Поставка картриджей лазерных"),
		feedEntry("0173200001426000009", "Поставка канцелярских товаров"),
	))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 2})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Number != "0173200001426000007" || got[1].Number != "0173200001426000008" {
		t.Errorf("порядок ленты нарушен: %s, %s", got[0].Number, got[1].Number)
	}
}

func TestPollSkipsEntriesWithoutRegNumber(t *testing.T) {
	t.Parallel()

	broken := `<item>
<title>Извещение без номера</title>
<link>https://zakupki.gov.ru/epz/order/notice/ea44/view/common-info.html</link>
<description><![CDATA[<strong>Наименование объекта закупки:</strong>Поставка мебели для актового зала]]></description>
<pubDate>Mon, 02 Mar 2026 09:15:00 +0300</pubDate>
</item>`
	srv := serveFeed(t, feedXML(broken, feedEntry("0173200001426000010", "Поставка моноблоков")))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1: запись без regNumber должна отброситься", len(got))
	}
	if got[0].Number != "0173200001426000010" {
		t.Errorf("Number = %q", got[0].Number)
	}
}

func TestPollAbsolutizesRelativeLinks(t *testing.T) {
	t.Parallel()

	relative := `<item>
<title>Извещение</title>
<link>/epz/order/notice/ea44/view/common-info.html?regNumber=REL0001426000011</link>
<description><![CDATA[<strong>Наименование объекта закупки:</strong>Поставка проекторов и экранов]]></description>
<pubDate>Mon, 02 Mar 2026 09:15:00 +0300</pubDate>
</item>`
	srv := serveFeed(t, feedXML(relative))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if want := "https://zakupki.gov.ru/epz/order/notice/ea44/view/common-info.html?regNumber=REL0001426000011"; got[0].URL != want {
		t.Errorf("URL = %q, want %q", got[0].URL, want)
	}
}

func TestPollDetects223Law(t *testing.T) {
	t.Parallel()

	item223 := `<item>
<title>Извещение</title>
<link>https://zakupki.gov.ru/epz/order/notice/notice223/view/common-info.html?regNumber=32312345678</link>
<description><![CDATA[<strong>Наименование объекта закупки:</strong>Поставка спецодежды для персонала]]></description>
<pubDate>Mon, 02 Mar 2026 09:15:00 +0300</pubDate>
</item>`
	srv := serveFeed(t, feedXML(item223))
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	got, err := client.Poll(context.Background(), baseFilter())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Law != tender.Law223 {
		t.Errorf("Law = %q, want %q", got[0].Law, tender.Law223)
	}
}

func TestPollReportsFeedFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	client := newClient(t, srv.URL, zakupki.Options{MaxResults: 10})

	if _, err := client.Poll(context.Background(), baseFilter()); err == nil {
		t.Fatal("Poll() = nil, want ошибку при недоступной ленте")
	}
}
