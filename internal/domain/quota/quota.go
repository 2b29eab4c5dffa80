// Package quota — суточные лимиты подписчиков на уведомления и вызовы оракула.
//
// Счётчики живут в bbolt и сбрасываются на границе локальных суток
// подписчика: ключ сброса — календарная дата в его таймзоне. Проверка и
// инкремент выполняются в одной сериализованной транзакции, поэтому
// параллельные циклы не пробивают лимит.
package quota

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/db"
	"tender-radar/internal/infra/timeutil"
)

// Resource — вид расходуемого ресурса.
type Resource string

const (
	Notifications Resource = "notifications"
	OracleCalls   Resource = "oracle"
)

// Caps — суточные лимиты одного тарифа.
type Caps struct {
	Notifications int
	OracleCalls   int
}

var tierCaps = map[subscribers.Tier]Caps{
	subscribers.TierTrial:   {Notifications: 20, OracleCalls: 20},
	subscribers.TierBasic:   {Notifications: 50, OracleCalls: 100},
	subscribers.TierPremium: {Notifications: 100, OracleCalls: 10000},
}

// CapFor возвращает лимит тарифа на ресурс. Неизвестный тариф считается
// пробным: это самый скромный лимит из существующих.
func CapFor(tier subscribers.Tier, res Resource) int {
	caps, ok := tierCaps[tier]
	if !ok {
		caps = tierCaps[subscribers.TierTrial]
	}
	if res == OracleCalls {
		return caps.OracleCalls
	}
	return caps.Notifications
}

const quotaBucketName = "quota"

var quotaBucket = []byte(quotaBucketName)

// counter — персистентное состояние одного ресурса одного подписчика.
// ResetOn — локальная дата "2006-01-02"; формат лексикографически монотонен,
// поэтому сравнение строк равносильно сравнению дат.
type counter struct {
	Count   int    `json:"count"`
	ResetOn string `json:"reset_on"`
}

// Gate — квотный шлюз поверх общего bbolt-файла.
type Gate struct {
	db *bbolt.DB

	// Fallback — таймзона для подписчиков без собственной.
	Fallback *time.Location
	// Now подменяется в тестах.
	Now func() time.Time
}

func NewGate(handle *bbolt.DB, fallback *time.Location) (*Gate, error) {
	if err := db.EnsureBuckets(handle, quotaBucket); err != nil {
		return nil, errors.Wrap(err, "quota gate")
	}
	if fallback == nil {
		fallback = time.UTC
	}
	return &Gate{db: handle, Fallback: fallback, Now: time.Now}, nil
}

// TryConsume пытается списать n единиц ресурса. Возвращает false, когда
// списание пробило бы лимит тарифа; счётчик при этом не меняется.
// Сброс на границе суток происходит в той же транзакции, что и проверка.
func (g *Gate) TryConsume(sub *subscribers.Subscriber, res Resource, n int) (bool, error) {
	if n <= 0 {
		n = 1
	}
	limit := CapFor(sub.Tier, res)
	today := timeutil.LocalDate(g.Now(), g.location(sub))

	allowed := false
	err := g.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(quotaBucket)
		key := counterKey(sub.ID, res)

		c := readCounter(bucket.Get(key))
		rolled := rollover(&c, today)

		if c.Count+n > limit {
			if !rolled {
				return nil
			}
			// Сброс фиксируем даже при отказе, чтобы он случился ровно один раз.
			return putCounter(bucket, key, &c)
		}
		c.Count += n
		allowed = true
		return putCounter(bucket, key, &c)
	})
	if err != nil {
		return false, errors.Wrap(err, "consume quota")
	}
	return allowed, nil
}

// Refund возвращает n единиц, списанных в текущие локальные сутки: квота
// берётся за фактическую доставку, и сорвавшаяся отправка не должна съедать
// лимит. Если сутки успели смениться, возврат не нужен — счётчик и так
// обнулится при следующем списании.
func (g *Gate) Refund(sub *subscribers.Subscriber, res Resource, n int) error {
	if n <= 0 {
		n = 1
	}
	today := timeutil.LocalDate(g.Now(), g.location(sub))

	err := g.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(quotaBucket)
		key := counterKey(sub.ID, res)

		c := readCounter(bucket.Get(key))
		if c.ResetOn != today {
			return nil
		}
		c.Count -= n
		if c.Count < 0 {
			c.Count = 0
		}
		return putCounter(bucket, key, &c)
	})
	if err != nil {
		return errors.Wrap(err, "refund quota")
	}
	return nil
}

// Usage возвращает текущее потребление и лимит с учётом виртуального сброса:
// чтение не мутирует счётчик.
func (g *Gate) Usage(sub *subscribers.Subscriber, res Resource) (used, limit int, err error) {
	limit = CapFor(sub.Tier, res)
	today := timeutil.LocalDate(g.Now(), g.location(sub))

	err = g.db.View(func(tx *bbolt.Tx) error {
		c := readCounter(tx.Bucket(quotaBucket).Get(counterKey(sub.ID, res)))
		rollover(&c, today)
		used = c.Count
		return nil
	})
	if err != nil {
		return 0, limit, errors.Wrap(err, "read quota")
	}
	return used, limit, nil
}

func (g *Gate) location(sub *subscribers.Subscriber) *time.Location {
	if loc := sub.Location(); loc != nil {
		return loc
	}
	return g.Fallback
}

// rollover сбрасывает счётчик, если локальные сутки продвинулись вперёд.
// Движение даты назад (перевод часов, кривой ввод таймзоны) сброса не даёт:
// счётчики монотонны внутри суток.
func rollover(c *counter, today string) bool {
	if c.ResetOn == "" || today > c.ResetOn {
		c.Count = 0
		c.ResetOn = today
		return true
	}
	return false
}

func readCounter(raw []byte) counter {
	var c counter
	if len(raw) == 0 {
		return c
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		// Битая запись не должна навсегда запереть подписчика.
		return counter{}
	}
	return c
}

func putCounter(bucket *bbolt.Bucket, key []byte, c *counter) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal counter")
	}
	return bucket.Put(key, payload)
}

func counterKey(subscriberID int64, res Resource) []byte {
	return []byte(strconv.FormatInt(subscriberID, 10) + "|" + string(res))
}
