// Package delivery — журнал доставки: идемпотентность «не чаще одного раза»
// на тройку (подписчик, фильтр, тендер) и блокировки получателей.
//
// Протокол конвейера: Reserve резервирует тройку атомарной вставкой
// tentative-записи, после подтверждённой отправки Confirm переводит её в
// confirmed, а при откладывании (тихие часы, квота, временный сбой
// транспорта) Abandon удаляет tentative, разрешая повтор в следующем цикле.
// Зависшие tentative-строки старше цикла выметает SweepTentative: падение
// процесса до отправки не должно навсегда глушить тендер.
package delivery

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"tender-radar/internal/infra/db"
	"tender-radar/internal/infra/logger"
)

const deliveryBucketName = "delivery"

var deliveryBucket = []byte(deliveryBucketName)

// State — состояние записи о доставке.
type State string

const (
	StateTentative State = "tentative"
	StateConfirmed State = "confirmed"
)

// Outcome — исход резервирования.
type Outcome string

const (
	Reserved         Outcome = "reserved"
	AlreadyDelivered Outcome = "already_delivered"
)

// Reservation — тройка идемпотентности. Значение служит и ключом журнала,
// и хэндлом для Confirm/Abandon.
type Reservation struct {
	SubscriberID int64
	FilterID     string
	TenderID     string
}

func (r Reservation) key() []byte {
	return []byte(strconv.FormatInt(r.SubscriberID, 10) + "|" + r.FilterID + "|" + r.TenderID)
}

// Record — персистентная запись журнала. SentAt означает момент
// резервирования для tentative и момент подтверждения для confirmed.
type Record struct {
	SubscriberID int64     `json:"subscriber_id"`
	FilterID     string    `json:"filter_id"`
	TenderID     string    `json:"tender_id"`
	SentAt       time.Time `json:"sent_at"`
	State        State     `json:"state"`
}

// BlockFlags — доступ к флагу блокировки доставки. Флаг хранится на записи
// подписчика, но его жизненным циклом управляет журнал.
type BlockFlags interface {
	SetDeliveryBlocked(id int64, blocked bool) error
	DeliveryBlocked(id int64) (bool, error)
}

// Ledger — журнал доставки поверх общего bbolt-файла.
type Ledger struct {
	db     *bbolt.DB
	blocks BlockFlags

	// Now подменяется в тестах.
	Now func() time.Time
}

func NewLedger(handle *bbolt.DB, blocks BlockFlags) (*Ledger, error) {
	if err := db.EnsureBuckets(handle, deliveryBucket); err != nil {
		return nil, errors.Wrap(err, "delivery ledger")
	}
	return &Ledger{db: handle, blocks: blocks, Now: time.Now}, nil
}

// Reserve атомарно вставляет tentative-запись. Повторное наблюдение тройки
// и заблокированный подписчик дают AlreadyDelivered: для вызывающего это
// одно и то же «отправлять не надо».
func (l *Ledger) Reserve(r Reservation) (Outcome, error) {
	blocked, err := l.blocks.DeliveryBlocked(r.SubscriberID)
	if err != nil {
		return AlreadyDelivered, errors.Wrap(err, "check delivery block")
	}
	if blocked {
		return AlreadyDelivered, nil
	}

	outcome := AlreadyDelivered
	err = l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(deliveryBucket)
		key := r.key()
		if existing := bucket.Get(key); existing != nil {
			return nil
		}
		record := Record{
			SubscriberID: r.SubscriberID,
			FilterID:     r.FilterID,
			TenderID:     r.TenderID,
			SentAt:       l.Now(),
			State:        StateTentative,
		}
		payload, errJSON := json.Marshal(&record)
		if errJSON != nil {
			return errors.Wrap(errJSON, "marshal delivery record")
		}
		if errPut := bucket.Put(key, payload); errPut != nil {
			return errPut
		}
		outcome = Reserved
		return nil
	})
	if err != nil {
		return AlreadyDelivered, errors.Wrap(err, "reserve delivery")
	}
	return outcome, nil
}

// Confirm переводит tentative-запись в confirmed после подтверждённой отправки.
// Отсутствие записи — не ошибка: если уборка успела вымести резерв, пока
// отправка стояла в очереди пейсинга, confirmed-строка вставляется заново.
// Отправка уже случилась, и журнал обязан её помнить.
func (l *Ledger) Confirm(r Reservation) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(deliveryBucket)
		key := r.key()
		record := Record{
			SubscriberID: r.SubscriberID,
			FilterID:     r.FilterID,
			TenderID:     r.TenderID,
		}
		if raw := bucket.Get(key); raw != nil {
			if errJSON := json.Unmarshal(raw, &record); errJSON != nil {
				return errors.Wrap(errJSON, "decode delivery record")
			}
		}
		record.State = StateConfirmed
		record.SentAt = l.Now()
		payload, errJSON := json.Marshal(&record)
		if errJSON != nil {
			return errors.Wrap(errJSON, "marshal delivery record")
		}
		return bucket.Put(key, payload)
	})
	if err != nil {
		return errors.Wrap(err, "confirm delivery")
	}
	return nil
}

// Abandon снимает tentative-резерв, чтобы следующий цикл мог попробовать
// снова. Подтверждённые записи не трогает: доставленное не откатывается.
func (l *Ledger) Abandon(r Reservation, cause string) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(deliveryBucket)
		key := r.key()
		raw := bucket.Get(key)
		if raw == nil {
			return nil
		}
		var record Record
		if errJSON := json.Unmarshal(raw, &record); errJSON != nil {
			// Нечитаемый tentative бессмысленно хранить.
			return bucket.Delete(key)
		}
		if record.State == StateConfirmed {
			return nil
		}
		return bucket.Delete(key)
	})
	if err != nil {
		return errors.Wrap(err, "abandon delivery")
	}
	logger.Debugf("Ledger: abandoned %d|%s|%s (%s)", r.SubscriberID, r.FilterID, r.TenderID, cause)
	return nil
}

// MarkBlocked включает блокировку доставки: транспорт сообщил о постоянном
// отказе получателя. Пока флаг стоит, Reserve отвечает AlreadyDelivered.
func (l *Ledger) MarkBlocked(subscriberID int64) error {
	return l.blocks.SetDeliveryBlocked(subscriberID, true)
}

// ClearBlocked снимает блокировку по сигналу живости от подписчика.
func (l *Ledger) ClearBlocked(subscriberID int64) error {
	return l.blocks.SetDeliveryBlocked(subscriberID, false)
}

// SweepTentative удаляет tentative-записи старше olderThan и возвращает
// число удалённых. Вызывается планировщиком не чаще раза в цикл.
func (l *Ledger) SweepTentative(olderThan time.Duration) (int, error) {
	cutoff := l.Now().Add(-olderThan)

	var stale [][]byte
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(deliveryBucket).ForEach(func(k, v []byte) error {
			var record Record
			if errJSON := json.Unmarshal(v, &record); errJSON != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if record.State == StateTentative && record.SentAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrap(err, "scan delivery ledger")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(deliveryBucket)
		for _, key := range stale {
			if errDel := bucket.Delete(key); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "sweep delivery ledger")
	}
	logger.Debugf("Ledger: swept %d stale tentative record(s)", len(stale))
	return len(stale), nil
}

// Counts возвращает число записей по состояниям для консоли оператора.
func (l *Ledger) Counts() (tentative, confirmed int, err error) {
	err = l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(deliveryBucket).ForEach(func(_, v []byte) error {
			var record Record
			if errJSON := json.Unmarshal(v, &record); errJSON != nil {
				return nil
			}
			switch record.State {
			case StateTentative:
				tentative++
			case StateConfirmed:
				confirmed++
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, errors.Wrap(err, "count delivery records")
	}
	return tentative, confirmed, nil
}
