// Package pipeline — координатор каскада доставки: опрос ленты по живым
// фильтрам, двухступенчатый скоринг, сверка с оракулом, квоты и отправка
// под защитой журнала идемпотентности.
//
// Модель исполнения: одна управляющая горутина держит часы циклов, внутри
// цикла работа разлетается по ограниченным пулам (взвешенные семафоры).
// Интервал отсчитывается от КОНЦА предыдущего цикла до начала следующего,
// поэтому циклы не перекрываются. Ни одна блокировка в памяти не живёт
// через внешние вызовы: критические секции квот и журнала — это одиночные
// транзакции bbolt.
//
// Отказы внешних систем не разматывают цикл: лента — пропуск фильтра до
// следующего цикла, обогащение — частичная карточка, оракул — UNKNOWN,
// транспорт — снятое резервирование. Потеря собственного хранилища —
// единственный фатальный сбой: движок уходит в Stopping.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/matching"
	"tender-radar/internal/domain/quota"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/concurrency"
	"tender-radar/internal/infra/logger"
)

// State — фаза движка. Stopping терминальна и достижима из любой фазы.
type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateDraining State = "draining"
	StateStopping State = "stopping"
)

// Значения по умолчанию; каждое перекрывается через Options.
const (
	defaultPollInterval   = 5 * time.Minute
	defaultPreScoreMin    = 1
	defaultPreNotifyScore = 30
	defaultMinNotifyScore = 35
	defaultFilterWorkers  = 4
	defaultEnrichPerBatch = 8
	defaultEnrichGlobal   = 16
	defaultMaxCandidates  = 50
	defaultArchiveAge     = 90 * 24 * time.Hour
)

// Options — зависимости и параметры движка. Обязательны хранилище
// подписчиков, матчер, квоты, журнал доставки, лента и транспорт;
// оракул и подавитель повторов опциональны.
type Options struct {
	Subscribers *subscribers.Store
	Matcher     *matching.Matcher
	Quota       *quota.Gate
	Ledger      *delivery.Ledger
	Journal     *delivery.Journal
	Feed        FeedSource
	Oracle      RelevanceOracle
	Sink        NotificationSink
	Suppressor  *concurrency.Suppressor

	PollInterval   time.Duration
	PreScoreMin    int
	PreNotifyScore int
	MinNotifyScore int
	FilterWorkers  int
	EnrichPerBatch int
	EnrichGlobal   int
	MaxCandidates  int
	ArchiveAge     time.Duration

	// Location — фолбэк-зона тихих часов для подписчиков без таймзоны.
	Location *time.Location
	// Clock внедряет время в тестах; по умолчанию time.Now.
	Clock func() time.Time
}

// CycleStats — счётчики одного цикла.
type CycleStats struct {
	Filters      int
	Candidates   int
	Suppressed   int
	Archived     int
	Enriched     int
	Matched      int
	OracleCalls  int
	Reserved     int
	Duplicates   int
	Sent         int
	QuietHolds   int
	QuotaHolds   int
	SendFailures int
	Errors       int
}

// Status — снимок движка для консоли и логов.
type Status struct {
	State        State
	Cycles       uint64
	LastCycleAt  time.Time     // конец последнего цикла
	LastDuration time.Duration // длительность последнего цикла
	NextCycleAt  time.Time     // zero, пока цикл идёт или движок остановлен
	LastCycle    CycleStats
	TotalSent    uint64
	TotalErrors  uint64
	LastError    string
}

// Engine — движок конвейера. Создаётся New, запускается Start, живёт до
// Stop. Потокобезопасность снимков состояния — через mu.
type Engine struct {
	subs       *subscribers.Store
	matcher    *matching.Matcher
	quota      *quota.Gate
	ledger     *delivery.Ledger
	journal    *delivery.Journal
	feed       FeedSource
	oracle     RelevanceOracle
	sink       NotificationSink
	suppressor *concurrency.Suppressor

	interval   time.Duration
	preScore   int
	preNotify  int
	minNotify  int
	perBatch   int64
	archiveAge time.Duration
	maxMatches int
	loc        *time.Location
	now        func() time.Time

	filterSem *semaphore.Weighted
	enrichSem *semaphore.Weighted

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runOnce sync.Once

	kickCh chan string

	mu           sync.Mutex
	state        State
	cycles       uint64
	lastCycleAt  time.Time
	lastDuration time.Duration
	nextCycleAt  time.Time
	lastCycle    CycleStats
	totalSent    uint64
	totalErrors  uint64
	lastErr      string

	// lastQuotaNotice хранит локальную дату последнего сервисного сообщения
	// о лимите, чтобы слать его не чаще раза в сутки подписчика.
	lastQuotaNotice map[int64]string
}

// New валидирует зависимости и собирает движок. Воркеры не запускаются:
// для старта используйте Start.
func New(opts Options) (*Engine, error) {
	if opts.Subscribers == nil {
		return nil, errors.New("pipeline: subscribers store is nil")
	}
	if opts.Matcher == nil {
		return nil, errors.New("pipeline: matcher is nil")
	}
	if opts.Quota == nil {
		return nil, errors.New("pipeline: quota gate is nil")
	}
	if opts.Ledger == nil {
		return nil, errors.New("pipeline: delivery ledger is nil")
	}
	if opts.Feed == nil {
		return nil, errors.New("pipeline: feed source is nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("pipeline: notification sink is nil")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	preScore := opts.PreScoreMin
	if preScore <= 0 {
		preScore = defaultPreScoreMin
	}
	preNotify := opts.PreNotifyScore
	if preNotify <= 0 {
		preNotify = defaultPreNotifyScore
	}
	minNotify := opts.MinNotifyScore
	if minNotify <= 0 {
		minNotify = defaultMinNotifyScore
	}
	workers := opts.FilterWorkers
	if workers <= 0 {
		workers = defaultFilterWorkers
	}
	perBatch := opts.EnrichPerBatch
	if perBatch <= 0 {
		perBatch = defaultEnrichPerBatch
	}
	global := opts.EnrichGlobal
	if global <= 0 {
		global = defaultEnrichGlobal
	}
	maxMatches := opts.MaxCandidates
	if maxMatches <= 0 {
		maxMatches = defaultMaxCandidates
	}
	archiveAge := opts.ArchiveAge
	if archiveAge <= 0 {
		archiveAge = defaultArchiveAge
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	nowFn := opts.Clock
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Engine{
		subs:       opts.Subscribers,
		matcher:    opts.Matcher,
		quota:      opts.Quota,
		ledger:     opts.Ledger,
		journal:    opts.Journal,
		feed:       opts.Feed,
		oracle:     opts.Oracle,
		sink:       opts.Sink,
		suppressor: opts.Suppressor,

		interval:   interval,
		preScore:   preScore,
		preNotify:  preNotify,
		minNotify:  minNotify,
		perBatch:   int64(perBatch),
		archiveAge: archiveAge,
		maxMatches: maxMatches,
		loc:        loc,
		now:        nowFn,

		filterSem: semaphore.NewWeighted(int64(workers)),
		enrichSem: semaphore.NewWeighted(int64(global)),

		kickCh:          make(chan string, 1),
		state:           StateIdle,
		lastQuotaNotice: make(map[int64]string),
	}, nil
}

// Start запускает управляющую горутину. Повторные вызовы игнорируются.
// Первый цикл стартует немедленно, дальше — по интервалу от конца цикла.
func (e *Engine) Start(ctx context.Context) {
	e.runOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(ctx)
		if e.suppressor != nil {
			e.suppressor.Start(e.ctx)
		}
		e.wg.Go(e.runLoop)
		logger.Infof("Pipeline: запущен, интервал циклов %s", e.interval)
	})
}

// Stop переводит движок в Stopping и дожидается завершения цикла.
// Недоставленные резервирования к этому моменту подтверждены или сняты:
// каждый кандидат завершает протокол даже при отменённом контексте.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if e.suppressor != nil {
		e.suppressor.Stop()
	}
	e.setState(StateStopping)
	logger.Info("Pipeline: остановлен")
	return err
}

// ForceCycle просит движок начать цикл немедленно, не дожидаясь таймера.
// Сигнал неблокирующий: если цикл уже запрошен или идёт, повтор теряется.
func (e *Engine) ForceCycle(reason string) {
	if reason == "" {
		reason = "manual"
	}
	select {
	case e.kickCh <- reason:
	default:
	}
}

// Status возвращает снимок состояния движка.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:        e.state,
		Cycles:       e.cycles,
		LastCycleAt:  e.lastCycleAt,
		LastDuration: e.lastDuration,
		NextCycleAt:  e.nextCycleAt,
		LastCycle:    e.lastCycle,
		TotalSent:    e.totalSent,
		TotalErrors:  e.totalErrors,
		LastError:    e.lastErr,
	}
}

// runLoop — часы циклов: первый цикл сразу, затем пауза interval от конца
// цикла. ForceCycle пробуждает таймер досрочно.
func (e *Engine) runLoop() {
	reason := "startup"
	for {
		if e.ctx.Err() != nil {
			return
		}
		e.runCycle(reason)

		e.mu.Lock()
		e.nextCycleAt = e.now().Add(e.interval)
		e.mu.Unlock()

		timer := time.NewTimer(e.interval)
		select {
		case <-e.ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case reason = <-e.kickCh:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			reason = "interval"
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state != StateStopping {
		e.state = s
	}
	e.mu.Unlock()
}

// fatal фиксирует потерю собственного хранилища: это единственный сбой,
// который гасит движок. Дальше нужен оператор.
func (e *Engine) fatal(err error) {
	logger.Errorf("Pipeline: фатально, останавливаюсь: %v", err)
	e.mu.Lock()
	e.lastErr = err.Error()
	e.totalErrors++
	e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}
