package intents

import (
	"context"
	"time"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/logger"
)

// Generator порождает интент и расширенные синонимы для фильтра. Реализуется
// адаптером оракула; ошибки генерации не фатальны — джоба откатывается на
// детерминированный BuildIntent.
type Generator interface {
	GenerateIntent(ctx context.Context, f *subscribers.Filter) (string, error)
	ExpandKeywords(ctx context.Context, f *subscribers.Filter) ([]string, error)
}

// Stats — итог одного прогона обслуживания интентов.
type Stats struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Errors    int `json:"errors"`
}

const (
	defaultBatchSize  = 10
	defaultBatchPause = time.Second
)

// Job регенерирует интенты фильтров, у которых сохранённая версия разошлась
// с вычисленной по текущим входам матчинга. Работает пачками с паузой между
// ними, чтобы не выжигать квоту оракула одним залпом.
type Job struct {
	store *subscribers.Store
	gen   Generator

	// BatchSize и Pause задают темп прогона. Значения по умолчанию
	// выставляет NewJob; тесты могут их переопределить.
	BatchSize int
	Pause     time.Duration
}

// NewJob создаёт джобу обслуживания интентов. gen может быть nil: тогда все
// интенты собираются детерминированным BuildIntent без обращений к оракулу.
func NewJob(store *subscribers.Store, gen Generator) *Job {
	return &Job{
		store:     store,
		gen:       gen,
		BatchSize: defaultBatchSize,
		Pause:     defaultBatchPause,
	}
}

// Run обходит живые фильтры и обновляет устаревшие интенты. Ошибка по одному
// фильтру не прерывает прогон: она попадает в Stats.Errors, остальные фильтры
// обрабатываются дальше. Возвращает ошибку только при недоступном хранилище
// или отменённом контексте.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	active, err := j.store.ActiveFilters()
	if err != nil {
		return stats, err
	}
	stale := make([]*subscribers.Filter, 0, len(active))
	for _, f := range active {
		if !Fresh(f) {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		logger.Debugf("Intents: все интенты актуальны (%d фильтров)", len(active))
		return stats, nil
	}
	logger.Infof("Intents: найдено устаревших интентов: %d", len(stale))

	for i := 0; i < len(stale); i += j.BatchSize {
		end := i + j.BatchSize
		if end > len(stale) {
			end = len(stale)
		}
		for _, f := range stale[i:end] {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Processed++
			if len(f.Keywords) == 0 {
				logger.Warnf("Intents: пропущен фильтр без ключевых слов: %s (%s)", f.Name, f.ID)
				stats.Errors++
				continue
			}
			if err := j.refresh(ctx, f); err != nil {
				logger.Warnf("Intents: фильтр %s (%s): %v", f.Name, f.ID, err)
				stats.Errors++
				continue
			}
			stats.Success++
		}
		if end < len(stale) {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(j.Pause):
			}
		}
	}

	logger.Infof("Intents: прогон завершён: обработано %d, успешно %d, ошибок %d",
		stats.Processed, stats.Success, stats.Errors)
	return stats, nil
}

// refresh пересобирает интент и синонимы одного фильтра и сохраняет их вместе
// с новой версией. Недоступный оракул деградирует до детерминированного
// текста; ошибка расширения синонимов оставляет прежний список.
func (j *Job) refresh(ctx context.Context, f *subscribers.Filter) error {
	intent := ""
	if j.gen != nil {
		generated, err := j.gen.GenerateIntent(ctx, f)
		if err != nil {
			logger.Debugf("Intents: оракул не сгенерировал интент для %s: %v", f.ID, err)
		} else {
			intent = generated
		}
	}
	if intent == "" {
		intent = BuildIntent(f)
	}

	expanded := f.ExpandedKeywords
	if j.gen != nil {
		fresh, err := j.gen.ExpandKeywords(ctx, f)
		if err != nil {
			logger.Debugf("Intents: синонимы для %s не обновлены: %v", f.ID, err)
		} else {
			expanded = fresh
		}
	}

	return j.store.SetIntent(f.ID, intent, Version(f), expanded)
}
