// Package commands предоставляет общий интерфейс для выполнения команд
// управления радаром. Команды используются CLI-адаптером; интерфейс
// отделяет консоль от движка и хранилищ.
package commands

import (
	"context"
	"time"

	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/pipeline"
)

// Executor - интерфейс для выполнения команд управления радаром.
type Executor interface {
	// Status возвращает снимок состояния движка конвейера
	Status(ctx context.Context) (*StatusResult, error)

	// Stats возвращает счётчики хранилищ: подписчики, фильтры, журнал, кэши
	Stats(ctx context.Context) (*StatsResult, error)

	// ForceCycle просит движок начать цикл опроса немедленно
	ForceCycle(ctx context.Context) error

	// Unblock снимает блокировку доставки с подписчика
	Unblock(ctx context.Context, subscriberID int64) error

	// Failed возвращает журнал постоянных отказов доставки
	Failed(ctx context.Context) (*FailedResult, error)

	// Sweep выметает зависшие tentative-резервирования и протухшие записи кэшей
	Sweep(ctx context.Context) (*SweepResult, error)

	// Version возвращает информацию о версии приложения
	Version(ctx context.Context) (*VersionResult, error)
}

// StatusResult - результат команды Status
type StatusResult struct {
	State        string              // фаза движка (idle, polling, draining, stopping)
	Cycles       uint64              // завершённых циклов с запуска
	LastCycleAt  time.Time           // конец последнего цикла
	LastDuration time.Duration       // длительность последнего цикла
	NextCycleAt  time.Time           // плановое начало следующего цикла
	LastCycle    pipeline.CycleStats // счётчики последнего цикла
	TotalSent    uint64              // доставлено уведомлений с запуска
	TotalErrors  uint64              // ошибок с запуска
	LastError    string              // текст последней ошибки
	Location     *time.Location      // таймзона для отображения меток
}

// StatsResult - результат команды Stats
type StatsResult struct {
	Subscribers   int         // всего подписчиков
	Blocked       int         // из них с заблокированной доставкой
	Filters       int         // фильтров без мягко удалённых
	ActiveFilters int         // из них активных
	Tentative     int         // незавершённые резервирования в журнале доставки
	Confirmed     int         // подтверждённые доставки в журнале
	Caches        []CacheStat // размеры персистентных кэшей
}

// CacheStat - размер одного кэша
type CacheStat struct {
	Kind    string // имя кэша (enrichment, oracle)
	Entries int    // записей, включая протухшие до ближайшего sweep
}

// FailedResult - результат команды Failed
type FailedResult struct {
	Records []delivery.FailureRecord // журнал постоянных отказов
}

// SweepResult - результат команды Sweep
type SweepResult struct {
	Tentative int            // снятых tentative-резервирований
	Caches    map[string]int // вымето записей по имени кэша
}

// VersionResult - результат команды Version
type VersionResult struct {
	Name    string // название приложения
	Version string // версия
}
