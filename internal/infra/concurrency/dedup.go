// Package concurrency — вспомогательная инфраструктура конкурентного исполнения.
// Здесь живёт Suppressor — потокобезопасный кэш «недавно видели», который
// подавляет повторную оценку пары (фильтр, тендер) в пределах окна времени.
// Лента zakupki.gov.ru отдаёт одну и ту же закупку в соседних циклах опроса;
// без подавления каскад скоринга гонял бы её по кругу.

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tender-radar/internal/infra/logger"
)

// Suppressor хранит сигнатуры недавно оценённых кандидатов и решает, считать
// ли очередную пару (фильтр, тендер) повтором в рамках окна. Потокобезопасен.
type Suppressor struct {
	mu     sync.Mutex           // защищает карту seen
	seen   map[string]time.Time // key -> expireAt
	window time.Duration        // до истечения expireAt пара считается повтором

	runMu  sync.Mutex         // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc // завершает цикл очистки
	wg     sync.WaitGroup     // дожидается фоновой горутины при остановке
}

// NewSuppressor создаёт кэш подавления повторов с окном windowSec секунд.
// Обычно окно равно периоду опроса ленты: кандидат, оценённый в этом цикле,
// не пересчитывается, пока лента не успеет обновиться.
func NewSuppressor(windowSec int) *Suppressor {
	return &Suppressor{
		seen:   make(map[string]time.Time),
		window: time.Duration(windowSec) * time.Second,
	}
}

// Start поднимает фоновую горутину очистки устаревших ключей. Повторные вызовы
// игнорируются. Если передан nil-контекст, запуск отменяется.
func (s *Suppressor) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() {
		// Раз в минуту вычищаем просроченные записи, чтобы карта не росла бесконечно.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	})
}

// Stop завершает фоновую очистку и дожидается её окончания.
func (s *Suppressor) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
}

// Seen сообщает, оценивалась ли уже пара (filterID, tenderNumber) в пределах
// окна. Возвращает true, если запись ещё актуальна (повтор), иначе регистрирует
// новую запись с истечением через window и возвращает false.
func (s *Suppressor) Seen(filterID, tenderNumber string) bool {
	key := filterID + ":" + tenderNumber

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		logger.Debug(fmt.Sprintf("SUPPRESS SEEN: %v", key))
		return true
	}
	s.seen[key] = now.Add(s.window)
	return false
}

// Cleanup удаляет записи с истёкшим сроком. Потокобезопасен; вызывается
// как фоново (через Start), так и синхронно по необходимости.
func (s *Suppressor) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
}
