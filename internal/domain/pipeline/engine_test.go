package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/matching"
	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/quota"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/concurrency"
	"tender-radar/internal/infra/db"
)

// baseTime — опорный момент всех сценариев: полдень по UTC, далеко от границ
// суток, чтобы квоты и тихие часы вели себя предсказуемо.
var baseTime = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeFeed struct {
	mu          sync.Mutex
	items       []tender.Raw
	pollErr     error
	enrich      func(raw tender.Raw) (*tender.Enriched, error)
	polls       int
	enrichCalls int
}

func (f *fakeFeed) Poll(_ context.Context, _ *subscribers.Filter) ([]tender.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return append([]tender.Raw(nil), f.items...), nil
}

func (f *fakeFeed) Enrich(_ context.Context, raw tender.Raw) (*tender.Enriched, error) {
	f.mu.Lock()
	f.enrichCalls++
	fn := f.enrich
	f.mu.Unlock()
	if fn != nil {
		return fn(raw)
	}
	return &tender.Enriched{Raw: raw, CanonicalRegion: "Москва"}, nil
}

func (f *fakeFeed) setPollErr(err error) {
	f.mu.Lock()
	f.pollErr = err
	f.mu.Unlock()
}

func (f *fakeFeed) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeFeed) enrichCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrichCalls
}

type fakeOracle struct {
	mu      sync.Mutex
	verdict pipeline.Verdict
	err     error
	cached  *pipeline.Verdict // не nil — PeekVerdict отвечает попаданием
	calls   int
}

func (o *fakeOracle) Assess(_ context.Context, _ *tender.Enriched, _ pipeline.Intent) (pipeline.Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return pipeline.Unknown(), o.err
	}
	return o.verdict, nil
}

func (o *fakeOracle) PeekVerdict(_ *tender.Enriched, _ pipeline.Intent) (pipeline.Verdict, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached == nil {
		return pipeline.Unknown(), false
	}
	return *o.cached, true
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

var errTransport = errors.New("transport unavailable")

// fakeSink по умолчанию подтверждает доставку. Очередь outcomes расходуется
// по одному на вызов Send; perChat перекрывает исход для конкретного чата.
type fakeSink struct {
	mu       sync.Mutex
	sent     []pipeline.Notification
	outcomes []pipeline.SendOutcome
	perChat  map[int64]pipeline.SendOutcome
	notices  []int64
}

func (s *fakeSink) Send(_ context.Context, n pipeline.Notification) (pipeline.SendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := pipeline.OutcomeSent
	if len(s.outcomes) > 0 {
		outcome = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	if fixed, ok := s.perChat[n.ChatID]; ok {
		outcome = fixed
	}
	if outcome != pipeline.OutcomeSent {
		return outcome, errTransport
	}
	s.sent = append(s.sent, n)
	return pipeline.OutcomeSent, nil
}

func (s *fakeSink) SendQuotaNotice(_ context.Context, sub *subscribers.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, sub.ID)
	return nil
}

func (s *fakeSink) delivered() []pipeline.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Notification(nil), s.sent...)
}

func (s *fakeSink) noticeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notices)
}

// laptopTender — кандидат, который целиком проходит дефолтный фильтр окружения:
// корень ключа в названии, цена внутри диапазона, регион после обогащения.
func laptopTender(number string) tender.Raw {
	return tender.Raw{
		Number:      number,
		Title:       "Поставка ноутбуков для администрации",
		URL:         "https://zakupki.gov.ru/epz/order/notice/ea44/view/common-info.html?regNumber=" + number,
		Price:       2_000_000,
		Kind:        tender.Goods,
		Law:         tender.Law44,
		PublishedAt: baseTime.Add(-2 * time.Hour),
		Deadline:    baseTime.Add(20 * 24 * time.Hour),
	}
}

type pipeEnv struct {
	store   *subscribers.Store
	gate    *quota.Gate
	ledger  *delivery.Ledger
	journal *delivery.Journal
	feed    *fakeFeed
	oracle  *fakeOracle
	sink    *fakeSink
	clock   *fakeClock
	sub     *subscribers.Subscriber
	filter  *subscribers.Filter
}

func newPipeEnv(t *testing.T) *pipeEnv {
	t.Helper()

	dir := t.TempDir()
	handle, err := db.Open(filepath.Join(dir, "test.bbolt"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })

	store, err := subscribers.NewStore(handle)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	gate, err := quota.NewGate(handle, time.UTC)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	ledger, err := delivery.NewLedger(handle, store)
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}
	journal, err := delivery.NewJournal(filepath.Join(dir, "failed.json"))
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}

	clock := newFakeClock(baseTime)
	gate.Now = clock.Now
	ledger.Now = clock.Now

	sub := &subscribers.Subscriber{ID: 1, ChatID: 100, Tier: subscribers.TierTrial}
	if err := store.SaveSubscriber(sub); err != nil {
		t.Fatalf("SaveSubscriber() error = %v", err)
	}

	priceMin, priceMax := 1_000_000.0, 5_000_000.0
	filter := &subscribers.Filter{
		SubscriberID: 1,
		Name:         "Ноутбуки для офиса",
		Active:       true,
		Keywords:     []string{"ноутбук"},
		Regions:      []string{"Москва"},
		PriceMin:     &priceMin,
		PriceMax:     &priceMax,
		TenderTypes:  []tender.Kind{tender.Goods},
	}
	if err := store.SaveFilter(filter); err != nil {
		t.Fatalf("SaveFilter() error = %v", err)
	}

	return &pipeEnv{
		store:   store,
		gate:    gate,
		ledger:  ledger,
		journal: journal,
		feed:    &fakeFeed{items: []tender.Raw{laptopTender("0173200001426000101")}},
		oracle:  &fakeOracle{verdict: pipeline.Verdict{Confidence: 75, Decision: pipeline.DecisionAccept}},
		sink:    &fakeSink{},
		clock:   clock,
		sub:     sub,
		filter:  filter,
	}
}

func (env *pipeEnv) options() pipeline.Options {
	return pipeline.Options{
		Subscribers:  env.store,
		Matcher:      matching.New(matching.PolicyPenalize),
		Quota:        env.gate,
		Ledger:       env.ledger,
		Journal:      env.journal,
		Feed:         env.feed,
		Oracle:       env.oracle,
		Sink:         env.sink,
		PollInterval: time.Hour,
		Clock:        env.clock.Now,
	}
}

func (env *pipeEnv) start(t *testing.T, mutate func(*pipeline.Options)) *pipeline.Engine {
	t.Helper()

	opts := env.options()
	if mutate != nil {
		mutate(&opts)
	}
	engine, err := pipeline.New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	engine.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return engine
}

// waitCycles ждёт завершения n-го цикла. Интервал движка в тестах — час,
// поэтому циклы после первого наступают только через ForceCycle.
func waitCycles(t *testing.T, engine *pipeline.Engine, n uint64) pipeline.Status {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := engine.Status(); st.Cycles >= n {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("цикл %d не завершился за отведённое время", n)
	return pipeline.Status{}
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	cases := []struct {
		name   string
		mutate func(*pipeline.Options)
	}{
		{"nil subscribers", func(o *pipeline.Options) { o.Subscribers = nil }},
		{"nil matcher", func(o *pipeline.Options) { o.Matcher = nil }},
		{"nil quota", func(o *pipeline.Options) { o.Quota = nil }},
		{"nil ledger", func(o *pipeline.Options) { o.Ledger = nil }},
		{"nil feed", func(o *pipeline.Options) { o.Feed = nil }},
		{"nil sink", func(o *pipeline.Options) { o.Sink = nil }},
	}
	for _, tc := range cases {
		opts := env.options()
		tc.mutate(&opts)
		if _, err := pipeline.New(opts); err == nil {
			t.Errorf("New() с %s: ожидалась ошибка", tc.name)
		}
	}

	if _, err := pipeline.New(env.options()); err != nil {
		t.Errorf("New() с полным набором зависимостей: %v", err)
	}
}

func TestEngineDeliversMatchedTender(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d уведомлений, ожидалось 1", len(sent))
	}
	n := sent[0]
	if n.ChatID != 100 {
		t.Errorf("ChatID = %d, want 100", n.ChatID)
	}
	if n.Tender.Number != "0173200001426000101" {
		t.Errorf("Tender.Number = %q", n.Tender.Number)
	}
	// 18 за корень ключа + 20 за цену + 10 за регион + 15 надбавки оракула.
	if n.Composite != 63 {
		t.Errorf("Composite = %d, want 63", n.Composite)
	}
	if n.Confidence != 75 {
		t.Errorf("Confidence = %d, want 75", n.Confidence)
	}

	tentative, confirmed, err := env.ledger.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if tentative != 0 || confirmed != 1 {
		t.Errorf("журнал: tentative %d, confirmed %d, want 0 и 1", tentative, confirmed)
	}

	used, limit, err := env.gate.Usage(env.sub, quota.Notifications)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 1 || limit != 20 {
		t.Errorf("квота уведомлений %d/%d, want 1/20", used, limit)
	}
	if used, _, _ = env.gate.Usage(env.sub, quota.OracleCalls); used != 1 {
		t.Errorf("квота оракула = %d, want 1", used)
	}

	f, err := env.store.Filter(env.filter.ID)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if f.MatchCount != 1 {
		t.Errorf("MatchCount = %d, want 1", f.MatchCount)
	}

	if st.State != pipeline.StateIdle {
		t.Errorf("State = %q, want idle", st.State)
	}
	if st.TotalSent != 1 || st.LastCycle.Sent != 1 || st.LastCycle.Reserved != 1 {
		t.Errorf("снимок цикла: %+v", st.LastCycle)
	}
	if st.NextCycleAt.IsZero() {
		t.Error("NextCycleAt пуст после завершения цикла")
	}
}

func TestEngineSkipsDuplicateAcrossCycles(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	engine := env.start(t, nil)
	waitCycles(t, engine, 1)

	engine.ForceCycle("test")
	st := waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("после повторного цикла доставлено %d, ожидалось 1", got)
	}
	if st.LastCycle.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", st.LastCycle.Duplicates)
	}
	// Без подавителя кандидат доходит до оракула и во втором цикле:
	// от повторной отправки защищает только журнал.
	if got := env.oracle.callCount(); got != 2 {
		t.Errorf("обращений к оракулу %d, want 2", got)
	}
}

func TestEngineSuppressorShortCircuitsRepeat(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	engine := env.start(t, func(o *pipeline.Options) {
		o.Suppressor = concurrency.NewSuppressor(3600)
	})
	waitCycles(t, engine, 1)

	engine.ForceCycle("test")
	st := waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", got)
	}
	if st.LastCycle.Suppressed != 1 {
		t.Errorf("Suppressed = %d, want 1", st.LastCycle.Suppressed)
	}
	if got := env.oracle.callCount(); got != 1 {
		t.Errorf("обращений к оракулу %d, want 1: повтор не должен дойти до оценки", got)
	}
	if got := env.feed.enrichCount(); got != 1 {
		t.Errorf("обогащений %d, want 1", got)
	}
}

func TestEngineQuietHoursDeferDelivery(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.sub.QuietStart, env.sub.QuietEnd = "22:00", "08:00"
	if err := env.store.SaveSubscriber(env.sub); err != nil {
		t.Fatalf("SaveSubscriber() error = %v", err)
	}
	env.clock.Set(time.Date(2026, time.March, 2, 23, 30, 0, 0, time.UTC))

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("в тихие часы доставлено %d уведомлений", got)
	}
	if st.LastCycle.QuietHolds != 1 {
		t.Errorf("QuietHolds = %d, want 1", st.LastCycle.QuietHolds)
	}
	tentative, confirmed, err := env.ledger.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if tentative != 0 || confirmed != 0 {
		t.Errorf("резерв не снят: tentative %d, confirmed %d", tentative, confirmed)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.Notifications); used != 0 {
		t.Errorf("квота списана в тихие часы: %d", used)
	}

	// Утром кандидат уходит без участия пользователя.
	env.clock.Set(time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC))
	engine.ForceCycle("morning")
	waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("после тихих часов доставлено %d, ожидалось 1", got)
	}
}

func TestEngineQuotaExhaustedHoldsUntilNextDay(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.feed.items = append(env.feed.items, laptopTender("0173200001426000102"))
	if ok, err := env.gate.TryConsume(env.sub, quota.Notifications, 19); err != nil || !ok {
		t.Fatalf("TryConsume(19) = %v, %v", ok, err)
	}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 || sent[0].Tender.Number != "0173200001426000101" {
		t.Fatalf("доставка при остатке в одну единицу: %+v", sent)
	}
	if st.LastCycle.QuotaHolds != 1 {
		t.Errorf("QuotaHolds = %d, want 1", st.LastCycle.QuotaHolds)
	}
	if got := env.sink.noticeCount(); got != 1 {
		t.Errorf("сервисных сообщений %d, want 1", got)
	}

	// Тот же день: дубль по первому, повторный отказ по второму, сервисное
	// сообщение не повторяется.
	engine.ForceCycle("same-day")
	st = waitCycles(t, engine, 2)
	if st.LastCycle.Duplicates != 1 || st.LastCycle.QuotaHolds != 1 {
		t.Errorf("повторный цикл: %+v", st.LastCycle)
	}
	if got := env.sink.noticeCount(); got != 1 {
		t.Errorf("сервисное сообщение продублировано: %d", got)
	}

	// Следующие локальные сутки: счётчик обнулён, отложенный кандидат уходит.
	env.clock.Set(baseTime.Add(24 * time.Hour))
	engine.ForceCycle("next-day")
	waitCycles(t, engine, 3)

	sent = env.sink.delivered()
	if len(sent) != 2 {
		t.Fatalf("после сброса квоты доставлено %d, ожидалось 2", len(sent))
	}
	if sent[1].Tender.Number != "0173200001426000102" {
		t.Errorf("вторым ушёл %q", sent[1].Tender.Number)
	}
}

func TestEngineSkipsBlockedSubscriber(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	if err := env.store.SetDeliveryBlocked(1, true); err != nil {
		t.Fatalf("SetDeliveryBlocked() error = %v", err)
	}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if st.LastCycle.Filters != 0 {
		t.Errorf("Filters = %d, want 0", st.LastCycle.Filters)
	}
	if got := env.feed.pollCount(); got != 0 {
		t.Errorf("лента опрошена %d раз для заблокированного подписчика", got)
	}
	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("доставлено %d уведомлений заблокированному", got)
	}

	// Сигнал живости снимает блокировку, доставка возобновляется.
	if err := env.ledger.ClearBlocked(1); err != nil {
		t.Fatalf("ClearBlocked() error = %v", err)
	}
	engine.ForceCycle("alive")
	waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("после разблокировки доставлено %d, ожидалось 1", got)
	}
}

func TestEngineRetriesTransientSendFailure(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.sink.outcomes = []pipeline.SendOutcome{pipeline.OutcomeTransient}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("доставлено %d при сбое транспорта", got)
	}
	if st.LastCycle.SendFailures != 1 {
		t.Errorf("SendFailures = %d, want 1", st.LastCycle.SendFailures)
	}
	tentative, confirmed, err := env.ledger.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if tentative != 0 || confirmed != 0 {
		t.Errorf("резерв повис: tentative %d, confirmed %d", tentative, confirmed)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.Notifications); used != 0 {
		t.Errorf("квота не возвращена после сбоя: %d", used)
	}

	engine.ForceCycle("retry")
	waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("повторная попытка не доставила: %d", got)
	}
	if _, confirmed, _ = env.ledger.Counts(); confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", confirmed)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.Notifications); used != 1 {
		t.Errorf("квота после успешной доставки = %d, want 1", used)
	}
}

func TestEnginePermanentFailureBlocksSubscriber(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.sink.perChat = map[int64]pipeline.SendOutcome{100: pipeline.OutcomePermanent}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("доставлено %d при перманентном отказе", got)
	}
	if st.LastCycle.SendFailures != 1 || st.LastCycle.Errors != 1 {
		t.Errorf("счётчики отказа: %+v", st.LastCycle)
	}

	blocked, err := env.store.DeliveryBlocked(1)
	if err != nil {
		t.Fatalf("DeliveryBlocked() error = %v", err)
	}
	if !blocked {
		t.Error("подписчик не заблокирован после перманентного отказа")
	}

	records, err := env.journal.Load()
	if err != nil {
		t.Fatalf("journal.Load() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("в журнале отказов %d записей, ожидалась 1", len(records))
	}
	if records[0].SubscriberID != 1 || records[0].TenderID != "0173200001426000101" {
		t.Errorf("запись журнала: %+v", records[0])
	}

	tentative, confirmed, err := env.ledger.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if tentative != 0 || confirmed != 0 {
		t.Errorf("после отказа: tentative %d, confirmed %d", tentative, confirmed)
	}

	// Следующий цикл обходит заблокированного стороной.
	engine.ForceCycle("after-block")
	st = waitCycles(t, engine, 2)
	if st.LastCycle.Filters != 0 {
		t.Errorf("заблокированный подписчик снова в работе: %+v", st.LastCycle)
	}
}

// Тендер с баллом 33 (корень 18 + цена 20 − негатив 5) без надбавки не
// добирает до порога отправки 35.
func borderlineEnv(t *testing.T) *pipeEnv {
	t.Helper()

	env := newPipeEnv(t)
	env.filter.Regions = nil
	env.filter.Keywords = []string{"сервер"}
	env.filter.TenderTypes = nil
	if err := env.store.SaveFilter(env.filter); err != nil {
		t.Fatalf("SaveFilter() error = %v", err)
	}

	raw := laptopTender("0173200001426000201")
	raw.Title = "Поставка серверного оборудования для поликлиники"
	env.feed.items = []tender.Raw{raw}
	env.feed.enrich = func(r tender.Raw) (*tender.Enriched, error) {
		return &tender.Enriched{Raw: r}, nil
	}
	return env
}

func TestEngineUnknownVerdictAddsNoBoost(t *testing.T) {
	t.Parallel()

	env := borderlineEnv(t)
	engine := env.start(t, func(o *pipeline.Options) { o.Oracle = nil })
	st := waitCycles(t, engine, 1)

	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("пограничный кандидат ушёл без надбавки: %d", got)
	}
	if st.LastCycle.Matched != 1 {
		t.Errorf("Matched = %d, want 1", st.LastCycle.Matched)
	}
	if st.LastCycle.Reserved != 0 {
		t.Errorf("Reserved = %d: кандидат ниже порога не должен резервироваться", st.LastCycle.Reserved)
	}
}

func TestEngineMidConfidenceLiftsBorderline(t *testing.T) {
	t.Parallel()

	env := borderlineEnv(t)
	env.oracle.verdict = pipeline.Verdict{Confidence: 45, Decision: pipeline.DecisionAccept}

	engine := env.start(t, nil)
	waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", len(sent))
	}
	// 33 + 10 за уверенность 45.
	if sent[0].Composite != 43 {
		t.Errorf("Composite = %d, want 43", sent[0].Composite)
	}
	if sent[0].Confidence != 45 {
		t.Errorf("Confidence = %d, want 45", sent[0].Confidence)
	}
}

func TestEngineOracleQuotaExhaustedSkipsAssess(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	if ok, err := env.gate.TryConsume(env.sub, quota.OracleCalls, 20); err != nil || !ok {
		t.Fatalf("TryConsume(oracle, 20) = %v, %v", ok, err)
	}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if got := env.oracle.callCount(); got != 0 {
		t.Errorf("оракул опрошен %d раз при исчерпанной квоте", got)
	}
	if st.LastCycle.OracleCalls != 0 {
		t.Errorf("OracleCalls = %d, want 0", st.LastCycle.OracleCalls)
	}

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d: сильный кандидат должен уйти и без оракула", len(sent))
	}
	if sent[0].Composite != 48 || sent[0].Confidence != -1 {
		t.Errorf("Composite = %d, Confidence = %d, want 48 и -1", sent[0].Composite, sent[0].Confidence)
	}
}

func TestEngineCachedVerdictCostsNoQuota(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.oracle.cached = &pipeline.Verdict{Confidence: 75, Decision: pipeline.DecisionAccept}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if got := env.oracle.callCount(); got != 0 {
		t.Errorf("оракул опрошен %d раз при готовом вердикте в кэше", got)
	}
	if st.LastCycle.OracleCalls != 0 {
		t.Errorf("OracleCalls = %d, want 0", st.LastCycle.OracleCalls)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.OracleCalls); used != 0 {
		t.Errorf("квота оракула = %d, want 0: кэш бесплатен", used)
	}

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", len(sent))
	}
	if sent[0].Composite != 63 || sent[0].Confidence != 75 {
		t.Errorf("Composite = %d, Confidence = %d, want 63 и 75", sent[0].Composite, sent[0].Confidence)
	}
}

func TestEngineCachedVerdictServesExhaustedQuota(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	if ok, err := env.gate.TryConsume(env.sub, quota.OracleCalls, 20); err != nil || !ok {
		t.Fatalf("TryConsume(oracle, 20) = %v, %v", ok, err)
	}
	env.oracle.cached = &pipeline.Verdict{Confidence: 75, Decision: pipeline.DecisionAccept}

	engine := env.start(t, nil)
	waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", len(sent))
	}
	// Надбавка из кэша доступна и при нулевом остатке квоты.
	if sent[0].Composite != 63 || sent[0].Confidence != 75 {
		t.Errorf("Composite = %d, Confidence = %d, want 63 и 75", sent[0].Composite, sent[0].Confidence)
	}
	if got := env.oracle.callCount(); got != 0 {
		t.Errorf("оракул опрошен %d раз при исчерпанной квоте", got)
	}
}

func TestEngineOracleErrorMeansUnknown(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.oracle.err = errors.New("oracle down")

	engine := env.start(t, nil)
	waitCycles(t, engine, 1)

	if got := env.oracle.callCount(); got != 1 {
		t.Errorf("обращений к оракулу %d, want 1", got)
	}
	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", len(sent))
	}
	if sent[0].Composite != 48 || sent[0].Confidence != -1 {
		t.Errorf("Composite = %d, Confidence = %d, want 48 и -1", sent[0].Composite, sent[0].Confidence)
	}
	// Единица квоты потрачена на сам вызов, даже сорвавшийся.
	if used, _, _ := env.gate.Usage(env.sub, quota.OracleCalls); used != 1 {
		t.Errorf("квота оракула = %d, want 1", used)
	}
}

func TestEngineArchiveGuard(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	stale := laptopTender("0173200001426000999")
	stale.PublishedAt = baseTime.Add(-91 * 24 * time.Hour)
	env.feed.items = []tender.Raw{stale}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if st.LastCycle.Archived != 1 {
		t.Errorf("Archived = %d, want 1", st.LastCycle.Archived)
	}
	if got := env.feed.enrichCount(); got != 0 {
		t.Errorf("архивный кандидат обогащён %d раз", got)
	}
	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("архивный кандидат доставлен: %d", got)
	}
}

func TestEngineSurvivesFeedError(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.feed.setPollErr(errors.New("503 from feed"))

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	if st.LastCycle.Errors != 1 {
		t.Errorf("Errors = %d, want 1", st.LastCycle.Errors)
	}
	if st.State != pipeline.StateIdle {
		t.Errorf("State = %q: сбой ленты не должен останавливать движок", st.State)
	}
	if got := len(env.sink.delivered()); got != 0 {
		t.Fatalf("доставлено %d при сбое ленты", got)
	}

	env.feed.setPollErr(nil)
	engine.ForceCycle("recovered")
	waitCycles(t, engine, 2)

	if got := len(env.sink.delivered()); got != 1 {
		t.Fatalf("после восстановления ленты доставлено %d, ожидалось 1", got)
	}
}

func TestEngineMatchCeilingDefersRemainder(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.feed.items = []tender.Raw{
		laptopTender("0173200001426000101"),
		laptopTender("0173200001426000102"),
		laptopTender("0173200001426000103"),
	}

	engine := env.start(t, func(o *pipeline.Options) { o.MaxCandidates = 2 })
	st := waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 2 {
		t.Fatalf("доставлено %d, ожидалось 2 (потолок совпадений)", len(sent))
	}
	if st.LastCycle.Matched != 2 {
		t.Errorf("Matched = %d, want 2", st.LastCycle.Matched)
	}

	// Остаток добирается следующим циклом поверх дублей.
	engine.ForceCycle("rest")
	st = waitCycles(t, engine, 2)

	sent = env.sink.delivered()
	if len(sent) != 3 {
		t.Fatalf("после второго цикла доставлено %d, ожидалось 3", len(sent))
	}
	if sent[2].Tender.Number != "0173200001426000103" {
		t.Errorf("третьим ушёл %q", sent[2].Tender.Number)
	}
	if st.LastCycle.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", st.LastCycle.Duplicates)
	}
}

func TestEngineEvaluatesPartialEnrichment(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.filter.Regions = nil
	env.filter.PriceMin, env.filter.PriceMax = nil, nil
	env.filter.Keywords = []string{"поставка ноутбуков"}
	if err := env.store.SaveFilter(env.filter); err != nil {
		t.Fatalf("SaveFilter() error = %v", err)
	}
	env.feed.enrich = func(tender.Raw) (*tender.Enriched, error) {
		return nil, errors.New("детальная страница не отвечает")
	}

	engine := env.start(t, func(o *pipeline.Options) { o.Oracle = nil })
	waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 {
		t.Fatalf("доставлено %d, ожидалось 1", len(sent))
	}
	if !sent[0].Tender.Partial {
		t.Error("карточка не помечена частичной")
	}
	// Составная фраза даёт ровно 35: порог отправки проходится на данных ленты.
	if sent[0].Composite != 35 {
		t.Errorf("Composite = %d, want 35", sent[0].Composite)
	}
}

func TestEngineRoutesToFilterChats(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.filter.NotifyChatIDs = []int64{200, 300, 200, 0}
	if err := env.store.SaveFilter(env.filter); err != nil {
		t.Fatalf("SaveFilter() error = %v", err)
	}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 2 {
		t.Fatalf("доставлено %d копий, ожидалось 2", len(sent))
	}
	if sent[0].ChatID != 200 || sent[1].ChatID != 300 {
		t.Errorf("чаты доставки: %d и %d, want 200 и 300", sent[0].ChatID, sent[1].ChatID)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.Notifications); used != 2 {
		t.Errorf("квота = %d, want 2: по единице на чат", used)
	}
	// Одна закупка — одна запись журнала, сколько бы чатов ни было.
	if _, confirmed, _ := env.ledger.Counts(); confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", confirmed)
	}
	if st.LastCycle.Sent != 1 {
		t.Errorf("Sent = %d, want 1", st.LastCycle.Sent)
	}
}

func TestEnginePartialFanoutConfirmsAndRefunds(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.filter.NotifyChatIDs = []int64{200, 300}
	if err := env.store.SaveFilter(env.filter); err != nil {
		t.Fatalf("SaveFilter() error = %v", err)
	}
	env.sink.perChat = map[int64]pipeline.SendOutcome{300: pipeline.OutcomeTransient}

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)

	sent := env.sink.delivered()
	if len(sent) != 1 || sent[0].ChatID != 200 {
		t.Fatalf("доставка при частичном сбое: %+v", sent)
	}
	// Хотя бы один чат получил карточку — тройка подтверждена: повтор всего
	// резервирования задублировал бы успешный чат.
	if _, confirmed, _ := env.ledger.Counts(); confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", confirmed)
	}
	if used, _, _ := env.gate.Usage(env.sub, quota.Notifications); used != 1 {
		t.Errorf("квота = %d, want 1: недоставленная копия возвращена", used)
	}
	if st.LastCycle.Sent != 1 || st.LastCycle.SendFailures != 0 {
		t.Errorf("счётчики цикла: %+v", st.LastCycle)
	}
}

func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	env := newPipeEnv(t)
	env.feed.items = nil

	engine := env.start(t, nil)
	st := waitCycles(t, engine, 1)
	if st.State != pipeline.StateIdle {
		t.Errorf("State = %q, want idle", st.State)
	}

	engine.ForceCycle("")
	st = waitCycles(t, engine, 2)
	if st.Cycles != 2 {
		t.Errorf("Cycles = %d, want 2", st.Cycles)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := engine.Status().State; got != pipeline.StateStopping {
		t.Errorf("State после Stop = %q, want stopping", got)
	}
}
