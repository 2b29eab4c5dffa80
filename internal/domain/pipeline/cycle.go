package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/intents"
	"tender-radar/internal/domain/quota"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/logger"
	"tender-radar/internal/infra/timeutil"
)

// workItem — единица раздачи цикла: живой фильтр вместе с владельцем.
type workItem struct {
	sub    *subscribers.Subscriber
	filter *subscribers.Filter
}

// cycleStats — потокобезопасный аккумулятор счётчиков цикла: фильтры
// обрабатываются параллельно.
type cycleStats struct {
	mu sync.Mutex
	s  CycleStats
}

func (c *cycleStats) add(mutate func(*CycleStats)) {
	c.mu.Lock()
	mutate(&c.s)
	c.mu.Unlock()
}

func (c *cycleStats) snapshot() CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// runCycle выполняет один полный обход: перечисление работы, раздача по
// воркерам, подведение итогов. Ошибки отдельных фильтров не прерывают цикл.
func (e *Engine) runCycle(reason string) {
	cycleID := uuid.NewString()[:8]
	started := e.now()

	e.setState(StatePolling)
	e.mu.Lock()
	e.nextCycleAt = time.Time{}
	e.mu.Unlock()

	stats := &cycleStats{}
	work := e.collectWork(stats)
	logger.Infof("Pipeline [%s]: цикл начат (%s), фильтров к обходу: %d", cycleID, reason, len(work))

	var wg sync.WaitGroup
	for _, item := range work {
		if err := e.filterSem.Acquire(e.ctx, 1); err != nil {
			break
		}
		item := item
		wg.Go(func() {
			defer e.filterSem.Release(1)
			e.processFilter(cycleID, stats, item.sub, item.filter)
		})
	}
	wg.Wait()

	e.setState(StateDraining)
	final := stats.snapshot()
	finished := e.now()

	e.mu.Lock()
	e.cycles++
	e.lastCycleAt = finished
	e.lastDuration = finished.Sub(started)
	e.lastCycle = final
	e.totalSent += uint64(final.Sent)
	e.totalErrors += uint64(final.Errors)
	e.mu.Unlock()

	logger.Infof(
		"Pipeline [%s]: цикл завершён за %s: кандидатов %d, совпало %d, отправлено %d, дублей %d, ошибок %d",
		cycleID, finished.Sub(started).Round(time.Millisecond),
		final.Candidates, final.Matched, final.Sent, final.Duplicates, final.Errors)

	if e.ctx.Err() == nil {
		e.setState(StateIdle)
	}
}

// collectWork перечисляет живые фильтры и группирует их с владельцами.
// Фильтры заблокированных подписчиков пропускаются сразу: это экономит
// квоту оракула, а журнал доставки всё равно подстраховал бы на Reserve.
func (e *Engine) collectWork(stats *cycleStats) []workItem {
	filters, err := e.subs.ActiveFilters()
	if err != nil {
		e.fatal(err)
		return nil
	}
	subsList, err := e.subs.Subscribers()
	if err != nil {
		e.fatal(err)
		return nil
	}
	byID := make(map[int64]*subscribers.Subscriber, len(subsList))
	for _, sub := range subsList {
		byID[sub.ID] = sub
	}

	work := make([]workItem, 0, len(filters))
	for _, f := range filters {
		sub, ok := byID[f.SubscriberID]
		if !ok {
			logger.Warnf("Pipeline: фильтр %s ссылается на неизвестного подписчика %d", f.ID, f.SubscriberID)
			continue
		}
		if sub.DeliveryBlocked {
			logger.Debugf("Pipeline: подписчик %d заблокирован, фильтр %s пропущен", sub.ID, f.ID)
			continue
		}
		work = append(work, workItem{sub: sub, filter: f})
	}
	stats.add(func(c *CycleStats) { c.Filters = len(work) })
	return work
}

// processFilter гоняет один фильтр через каскад: опрос ленты, пре-скоринг,
// обогащение, полный скоринг и доставку. Порядок доставки — порядок ленты.
func (e *Engine) processFilter(cycleID string, stats *cycleStats, sub *subscribers.Subscriber, f *subscribers.Filter) {
	candidates, err := e.feed.Poll(e.ctx, f)
	if err != nil {
		stats.add(func(c *CycleStats) { c.Errors++ })
		logger.Warnf("Pipeline [%s]: лента по фильтру %q: %v", cycleID, f.Name, err)
		return
	}
	stats.add(func(c *CycleStats) { c.Candidates += len(candidates) })

	now := e.now()
	picked := make([]tender.Raw, 0, len(candidates))
	for _, raw := range candidates {
		if raw.Number == "" {
			continue
		}
		if e.suppressor != nil && e.suppressor.Seen(f.ID, raw.Number) {
			stats.add(func(c *CycleStats) { c.Suppressed++ })
			continue
		}
		if !raw.PublishedAt.IsZero() && now.Sub(raw.PublishedAt) > e.archiveAge {
			stats.add(func(c *CycleStats) { c.Archived++ })
			continue
		}
		if pre := e.matcher.PreScore(&raw, f); pre.Rejected() || pre.Composite < e.preScore {
			continue
		}
		picked = append(picked, raw)
	}
	if len(picked) == 0 {
		return
	}

	enriched := e.enrichBatch(picked)
	stats.add(func(c *CycleStats) { c.Enriched += len(picked) })

	matched := 0
	for _, enr := range enriched {
		if enr == nil || e.ctx.Err() != nil {
			continue
		}
		report := e.matcher.Score(enr, f, e.now())
		if report.Rejected() {
			logger.Debugf("Pipeline [%s]: %s отклонён: %s", cycleID, enr.Number, report.RejectCause)
			continue
		}
		if report.Composite < e.preNotify {
			continue
		}
		matched++
		if matched > e.maxMatches {
			logger.Debugf("Pipeline [%s]: фильтр %q упёрся в потолок кандидатов (%d), остаток отложен",
				cycleID, f.Name, e.maxMatches)
			break
		}
		stats.add(func(c *CycleStats) { c.Matched++ })
		e.deliver(cycleID, stats, sub, f, enr, report.Composite)
	}
}

// enrichBatch обогащает кандидатов с двумя потолками параллелизма: на фильтр
// и на весь движок. Порядок результата повторяет порядок входа; сорванное
// обогащение даёт частичную карточку на данных ленты.
func (e *Engine) enrichBatch(picked []tender.Raw) []*tender.Enriched {
	out := make([]*tender.Enriched, len(picked))
	local := semaphore.NewWeighted(e.perBatch)

	var wg sync.WaitGroup
	for i := range picked {
		if err := local.Acquire(e.ctx, 1); err != nil {
			break
		}
		if err := e.enrichSem.Acquire(e.ctx, 1); err != nil {
			local.Release(1)
			break
		}
		i, raw := i, picked[i]
		wg.Go(func() {
			defer local.Release(1)
			defer e.enrichSem.Release(1)

			enr, err := e.feed.Enrich(e.ctx, raw)
			if err != nil || enr == nil {
				if err != nil {
					logger.Debugf("Pipeline: обогащение %s не удалось: %v", raw.Number, err)
				}
				enr = &tender.Enriched{Raw: raw, Partial: true}
			}
			out[i] = enr
		})
	}
	wg.Wait()
	return out
}

// deliver проводит совпавшего кандидата через оракула, квоты и журнал
// идемпотентности. Любой выход после Reserve заканчивается Confirm либо
// Abandon: резервирование не повисает.
func (e *Engine) deliver(cycleID string, stats *cycleStats, sub *subscribers.Subscriber, f *subscribers.Filter, enr *tender.Enriched, score int) {
	verdict := Unknown()
	if e.oracle != nil {
		intent := filterIntent(f)
		cached := false
		if peeker, ok := e.oracle.(VerdictPeeker); ok {
			// Кэшированный вердикт бесплатен: квота списывается только
			// за реальный вызов модели.
			if v, hit := peeker.PeekVerdict(enr, intent); hit {
				verdict = v
				cached = true
			}
		}
		if !cached {
			allowed, err := e.quota.TryConsume(sub, quota.OracleCalls, 1)
			if err != nil {
				e.fatal(err)
				return
			}
			if allowed {
				stats.add(func(c *CycleStats) { c.OracleCalls++ })
				v, assessErr := e.oracle.Assess(e.ctx, enr, intent)
				if assessErr != nil {
					logger.Warnf("Pipeline [%s]: оракул по %s: %v", cycleID, enr.Number, assessErr)
				} else {
					verdict = v
				}
			} else {
				logger.Debugf("Pipeline [%s]: квота оракула подписчика %d исчерпана, вердикт UNKNOWN", cycleID, sub.ID)
			}
		}
	}

	composite := score + verdict.Boost()
	if composite > 100 {
		composite = 100
	}
	if composite < e.minNotify {
		logger.Debugf("Pipeline [%s]: %s не добрал до отправки: %d < %d", cycleID, enr.Number, composite, e.minNotify)
		return
	}

	res := delivery.Reservation{SubscriberID: sub.ID, FilterID: f.ID, TenderID: enr.Number}
	outcome, err := e.ledger.Reserve(res)
	if err != nil {
		e.fatal(err)
		return
	}
	if outcome == delivery.AlreadyDelivered {
		stats.add(func(c *CycleStats) { c.Duplicates++ })
		return
	}
	stats.add(func(c *CycleStats) { c.Reserved++ })

	now := e.now()
	loc := e.subscriberLocation(sub)
	if timeutil.InQuietWindow(now, sub.QuietStart, sub.QuietEnd, loc) {
		e.abandon(res, "quiet")
		stats.add(func(c *CycleStats) { c.QuietHolds++ })
		logger.Debugf("Pipeline [%s]: тихие часы подписчика %d, %s отложен", cycleID, sub.ID, enr.Number)
		return
	}

	chats := targetChats(sub, f)
	allowed, err := e.quota.TryConsume(sub, quota.Notifications, len(chats))
	if err != nil {
		e.fatal(err)
		e.abandon(res, "fatal")
		return
	}
	if !allowed {
		e.abandon(res, "quota")
		stats.add(func(c *CycleStats) { c.QuotaHolds++ })
		e.maybeQuotaNotice(sub, now, loc)
		return
	}

	result := e.sendAll(sub, f, enr, chats, composite, verdict)
	if refund := len(chats) - result.sent; refund > 0 {
		if refundErr := e.quota.Refund(sub, quota.Notifications, refund); refundErr != nil {
			e.fatal(refundErr)
		}
	}

	switch {
	case result.sent > 0:
		if err := e.ledger.Confirm(res); err != nil {
			e.fatal(err)
			return
		}
		stats.add(func(c *CycleStats) { c.Sent++ })
		if err := e.subs.RecordMatch(f.ID, now); err != nil {
			logger.Warnf("Pipeline [%s]: счётчик совпадений фильтра %s: %v", cycleID, f.ID, err)
		}
		logger.Infof("Pipeline [%s]: %s → подписчик %d (скор %d, фильтр %q)",
			cycleID, enr.Number, sub.ID, composite, f.Name)
	case result.permanent > 0:
		e.journalFailure(sub, enr, result.lastErr)
		if result.blockSub {
			if err := e.ledger.MarkBlocked(sub.ID); err != nil {
				e.fatal(err)
				return
			}
			logger.Warnf("Pipeline [%s]: подписчик %d недоступен, доставка заблокирована до сигнала живости", cycleID, sub.ID)
		}
		e.abandon(res, "permanent")
		stats.add(func(c *CycleStats) { c.SendFailures++; c.Errors++ })
	default:
		e.abandon(res, "transient")
		stats.add(func(c *CycleStats) { c.SendFailures++ })
		logger.Warnf("Pipeline [%s]: транспорт не доставил %s подписчику %d, попробуем в следующем цикле",
			cycleID, enr.Number, sub.ID)
	}
}

// sendResult — агрегат попыток доставки по всем целевым чатам.
type sendResult struct {
	sent      int
	permanent int
	blockSub  bool
	lastErr   error
}

// sendAll шлёт карточку в каждый целевой чат. Частичный успех считается
// доставкой: повтор всего резервирования задублировал бы успешные чаты.
func (e *Engine) sendAll(sub *subscribers.Subscriber, f *subscribers.Filter, enr *tender.Enriched, chats []int64, composite int, verdict Verdict) sendResult {
	var result sendResult
	for _, chat := range chats {
		outcome, err := e.sink.Send(e.ctx, Notification{
			ChatID:     chat,
			Subscriber: sub,
			Filter:     f,
			Tender:     enr,
			Composite:  composite,
			Confidence: verdict.Confidence,
		})
		switch outcome {
		case OutcomeSent:
			result.sent++
		case OutcomePermanent:
			result.permanent++
			if chat == sub.ChatID {
				result.blockSub = true
			}
			result.lastErr = fmt.Errorf("chat %d: %w", chat, err)
		default:
			if err != nil {
				result.lastErr = fmt.Errorf("chat %d: %w", chat, err)
			}
		}
	}
	return result
}

// abandon снимает резервирование; отказ самого журнала фатален.
func (e *Engine) abandon(res delivery.Reservation, cause string) {
	if err := e.ledger.Abandon(res, cause); err != nil {
		e.fatal(err)
	}
}

// journalFailure пишет перманентный отказ в файл для оператора.
func (e *Engine) journalFailure(sub *subscribers.Subscriber, enr *tender.Enriched, cause error) {
	if e.journal == nil {
		return
	}
	msg := "permanent delivery failure"
	if cause != nil {
		msg = cause.Error()
	}
	record := delivery.FailureRecord{
		SubscriberID: sub.ID,
		TenderID:     enr.Number,
		Cause:        msg,
		At:           e.now(),
	}
	if err := e.journal.Append(record); err != nil {
		logger.Errorf("Pipeline: журнал отказов: %v", err)
	}
}

// maybeQuotaNotice шлёт разовое сервисное сообщение об исчерпанном лимите —
// не чаще раза в локальные сутки подписчика и только если транспорт умеет.
func (e *Engine) maybeQuotaNotice(sub *subscribers.Subscriber, now time.Time, loc *time.Location) {
	noticer, ok := e.sink.(QuotaNoticer)
	if !ok {
		return
	}
	today := timeutil.LocalDate(now, loc)

	e.mu.Lock()
	if e.lastQuotaNotice[sub.ID] == today {
		e.mu.Unlock()
		return
	}
	e.lastQuotaNotice[sub.ID] = today
	e.mu.Unlock()

	if err := noticer.SendQuotaNotice(e.ctx, sub); err != nil {
		logger.Debugf("Pipeline: сервисное сообщение о лимите подписчику %d: %v", sub.ID, err)
	}
}

func (e *Engine) subscriberLocation(sub *subscribers.Subscriber) *time.Location {
	if loc := sub.Location(); loc != nil {
		return loc
	}
	return e.loc
}

// filterIntent собирает снимок интента для оракула. Пустые поля закрываются
// детерминированным текстом и версией по текущим входам матчинга.
func filterIntent(f *subscribers.Filter) Intent {
	text := f.AIIntent
	if text == "" {
		text = intents.BuildIntent(f)
	}
	version := f.AIIntentVersion
	if version == "" {
		version = intents.Version(f)
	}
	return Intent{Text: text, Version: version}
}

// targetChats возвращает адреса доставки фильтра: явная маршрутизация в чаты
// либо личный чат подписчика. Нулевые и повторные адреса выбрасываются.
func targetChats(sub *subscribers.Subscriber, f *subscribers.Filter) []int64 {
	if len(f.NotifyChatIDs) == 0 {
		return []int64{sub.ChatID}
	}
	seen := make(map[int64]bool, len(f.NotifyChatIDs))
	out := make([]int64, 0, len(f.NotifyChatIDs))
	for _, chat := range f.NotifyChatIDs {
		if chat == 0 || seen[chat] {
			continue
		}
		seen[chat] = true
		out = append(out, chat)
	}
	if len(out) == 0 {
		return []int64{sub.ChatID}
	}
	return out
}
