// Package clock — единая точка получения текущего времени приложения.
// Все отметки времени (публикации, дедлайны, квоты) считаются в зоне,
// заданной через APP_TIMEZONE, чтобы журнал и карточки были согласованы.
package clock

import (
	"time"

	"tender-radar/internal/infra/config"
)

// Now возвращает текущее время в глобальной таймзоне приложения.
func Now() time.Time {
	return time.Now().In(config.AppLocation)
}
