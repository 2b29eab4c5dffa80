package commands

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/logger"
	versioninfo "tender-radar/internal/support/version"
)

// CommandExecutor - реализация интерфейса Executor
type CommandExecutor struct {
	engine   *pipeline.Engine
	subs     *subscribers.Store
	ledger   *delivery.Ledger
	journal  *delivery.Journal
	caches   []*cache.Store
	sweepAge time.Duration
	loc      *time.Location
}

// NewExecutor создает новый экземпляр CommandExecutor. sweepAge — возраст,
// начиная с которого tentative-резервирование считается зависшим; обычно
// это интервал цикла конвейера.
func NewExecutor(
	engine *pipeline.Engine,
	subs *subscribers.Store,
	ledger *delivery.Ledger,
	journal *delivery.Journal,
	caches []*cache.Store,
	sweepAge time.Duration,
	loc *time.Location,
) *CommandExecutor {
	if loc == nil {
		loc = time.Local
	}
	return &CommandExecutor{
		engine:   engine,
		subs:     subs,
		ledger:   ledger,
		journal:  journal,
		caches:   caches,
		sweepAge: sweepAge,
		loc:      loc,
	}
}

// Status возвращает снимок состояния движка конвейера
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	if e.engine == nil {
		return nil, errors.New("pipeline engine is not available")
	}

	st := e.engine.Status()
	return &StatusResult{
		State:        string(st.State),
		Cycles:       st.Cycles,
		LastCycleAt:  st.LastCycleAt,
		LastDuration: st.LastDuration,
		NextCycleAt:  st.NextCycleAt,
		LastCycle:    st.LastCycle,
		TotalSent:    st.TotalSent,
		TotalErrors:  st.TotalErrors,
		LastError:    st.LastError,
		Location:     e.loc,
	}, nil
}

// Stats возвращает счётчики хранилищ: подписчики, фильтры, журнал, кэши
func (e *CommandExecutor) Stats(ctx context.Context) (*StatsResult, error) {
	if e.subs == nil {
		return nil, errors.New("subscribers store is not available")
	}
	if e.ledger == nil {
		return nil, errors.New("delivery ledger is not available")
	}

	subs, err := e.subs.Subscribers()
	if err != nil {
		return nil, errors.Wrap(err, "list subscribers")
	}

	result := &StatsResult{Subscribers: len(subs)}
	for _, sub := range subs {
		if sub.DeliveryBlocked {
			result.Blocked++
		}
		fs, errFilters := e.subs.FiltersBySubscriber(sub.ID)
		if errFilters != nil {
			return nil, errors.Wrapf(errFilters, "list filters of %d", sub.ID)
		}
		for _, f := range fs {
			if f.DeletedAt != nil {
				continue
			}
			result.Filters++
			if f.Active {
				result.ActiveFilters++
			}
		}
	}

	tentative, confirmed, err := e.ledger.Counts()
	if err != nil {
		return nil, err
	}
	result.Tentative = tentative
	result.Confirmed = confirmed

	for _, c := range e.caches {
		entries, errLen := c.Len()
		if errLen != nil {
			return nil, errors.Wrapf(errLen, "size of cache %q", c.Kind())
		}
		result.Caches = append(result.Caches, CacheStat{Kind: c.Kind(), Entries: entries})
	}

	return result, nil
}

// ForceCycle просит движок начать цикл опроса немедленно. Сигнал
// неблокирующий: если цикл уже идёт, запрос встанет следующим.
func (e *CommandExecutor) ForceCycle(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("pipeline engine is not available")
	}

	e.engine.ForceCycle("console")
	logger.Info("Commands: запрошен внеплановый цикл")
	return nil
}

// Unblock снимает блокировку доставки с подписчика: сигнал живости
// пришёл через оператора.
func (e *CommandExecutor) Unblock(ctx context.Context, subscriberID int64) error {
	if e.subs == nil || e.ledger == nil {
		return errors.New("stores are not available")
	}

	if _, err := e.subs.Subscriber(subscriberID); err != nil {
		return errors.Wrapf(err, "unblock %d", subscriberID)
	}
	if err := e.ledger.ClearBlocked(subscriberID); err != nil {
		return errors.Wrapf(err, "unblock %d", subscriberID)
	}

	logger.Infof("Commands: доставка подписчику %d разблокирована оператором", subscriberID)
	return nil
}

// Failed возвращает журнал постоянных отказов доставки
func (e *CommandExecutor) Failed(ctx context.Context) (*FailedResult, error) {
	if e.journal == nil {
		return nil, errors.New("failure journal is not available")
	}

	records, err := e.journal.Load()
	if err != nil {
		return nil, err
	}
	return &FailedResult{Records: records}, nil
}

// Sweep выметает зависшие tentative-резервирования и протухшие записи кэшей.
// Та же работа выполняется планировщиком; команда нужна для ручного прогона.
func (e *CommandExecutor) Sweep(ctx context.Context) (*SweepResult, error) {
	if e.ledger == nil {
		return nil, errors.New("delivery ledger is not available")
	}

	result := &SweepResult{Caches: make(map[string]int, len(e.caches))}

	swept, err := e.ledger.SweepTentative(e.sweepAge)
	if err != nil {
		return nil, err
	}
	result.Tentative = swept

	for _, c := range e.caches {
		removed, errSweep := c.Sweep()
		if errSweep != nil {
			return nil, errors.Wrapf(errSweep, "sweep cache %q", c.Kind())
		}
		result.Caches[c.Kind()] = removed
	}

	logger.Infof("Commands: sweep снял %d резервирований, кэши: %v", result.Tentative, result.Caches)
	return result, nil
}

// Version возвращает информацию о версии приложения
func (e *CommandExecutor) Version(ctx context.Context) (*VersionResult, error) {
	return &VersionResult{
		Name:    versioninfo.Name,
		Version: versioninfo.Version,
	}, nil
}
