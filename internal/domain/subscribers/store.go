// bbolt-хранилище подписчиков и фильтров. Значения — JSON, ключи —
// десятичный id подписчика и uuid фильтра. Все геттеры возвращают копии:
// вызывающий код волен мутировать результат, не трогая персист.

package subscribers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"tender-radar/internal/infra/db"
)

const (
	subscribersBucketName = "subscribers"
	filtersBucketName     = "filters"
)

var (
	subscribersBucket = []byte(subscribersBucketName)
	filtersBucket     = []byte(filtersBucketName)
)

// ErrNotFound возвращается, когда записи нет. Отличаем от ошибок ввода-вывода.
var ErrNotFound = errors.New("subscribers: not found")

// Store — доступ к подписчикам и фильтрам поверх общего bbolt-файла.
type Store struct {
	db *bbolt.DB

	// Now подменяется в тестах; по умолчанию time.Now.
	Now func() time.Time
}

// NewStore гарантирует существование bucket'ов и возвращает хранилище.
func NewStore(handle *bbolt.DB) (*Store, error) {
	if err := db.EnsureBuckets(handle, subscribersBucket, filtersBucket); err != nil {
		return nil, errors.Wrap(err, "subscribers store")
	}
	return &Store{db: handle, Now: time.Now}, nil
}

// SaveSubscriber валидирует и сохраняет подписчика. Новому подписчику
// проставляется CreatedAt; ChatID по умолчанию равен ID (личный чат).
func (s *Store) SaveSubscriber(sub *Subscriber) error {
	if sub == nil {
		return &InputError{Reason: "subscriber is nil"}
	}
	if sub.ChatID == 0 {
		sub.ChatID = sub.ID
	}
	if sub.Tier == "" {
		sub.Tier = TierTrial
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	now := s.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	payload, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "marshal subscriber")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(subscribersBucket).Put(subscriberKey(sub.ID), payload)
	})
}

// Subscriber возвращает подписчика по id; ErrNotFound — если записи нет.
func (s *Store) Subscriber(id int64) (*Subscriber, error) {
	var raw []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if value := tx.Bucket(subscribersBucket).Get(subscriberKey(id)); len(value) > 0 {
			raw = append(raw, value...)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "read subscriber")
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	var sub Subscriber
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, errors.Wrapf(err, "decode subscriber %d", id)
	}
	return &sub, nil
}

// Subscribers перечисляет всех подписчиков в порядке возрастания id.
func (s *Store) Subscribers() ([]*Subscriber, error) {
	out := make([]*Subscriber, 0)
	if err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(subscribersBucket).ForEach(func(_, v []byte) error {
			var sub Subscriber
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			out = append(out, &sub)
			return nil
		})
	}); err != nil {
		return nil, errors.Wrap(err, "list subscribers")
	}
	return out, nil
}

// SetDeliveryBlocked переключает флаг блокировки доставки. Флагом владеет
// журнал доставки: он выставляет блок на постоянных отказах транспорта и
// снимает по сигналу живости.
func (s *Store) SetDeliveryBlocked(id int64, blocked bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(subscribersBucket)
		raw := bucket.Get(subscriberKey(id))
		if len(raw) == 0 {
			return ErrNotFound
		}
		var sub Subscriber
		if err := json.Unmarshal(raw, &sub); err != nil {
			return errors.Wrapf(err, "decode subscriber %d", id)
		}
		if sub.DeliveryBlocked == blocked {
			return nil
		}
		sub.DeliveryBlocked = blocked
		sub.UpdatedAt = s.Now()
		payload, err := json.Marshal(&sub)
		if err != nil {
			return errors.Wrap(err, "marshal subscriber")
		}
		return bucket.Put(subscriberKey(id), payload)
	})
}

// DeliveryBlocked читает флаг блокировки; отсутствие подписчика считается блоком.
func (s *Store) DeliveryBlocked(id int64) (bool, error) {
	sub, err := s.Subscriber(id)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return sub.DeliveryBlocked, nil
}

// SaveFilter нормализует, валидирует и сохраняет фильтр. Новому фильтру
// выдаётся uuid и CreatedAt.
func (s *Store) SaveFilter(f *Filter) error {
	if f == nil {
		return &InputError{Reason: "filter is nil"}
	}
	if err := f.Normalize(); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := f.Validate(); err != nil {
		return err
	}

	now := s.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	payload, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal filter")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(filtersBucket).Put([]byte(f.ID), payload)
	})
}

// Filter возвращает фильтр по id; ErrNotFound — если записи нет.
func (s *Store) Filter(id string) (*Filter, error) {
	var raw []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if value := tx.Bucket(filtersBucket).Get([]byte(id)); len(value) > 0 {
			raw = append(raw, value...)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "read filter")
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	var f Filter
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "decode filter %s", id)
	}
	return &f, nil
}

// FiltersBySubscriber возвращает все фильтры подписчика, включая неактивные
// и мягко удалённые: фронтенду нужен полный список.
func (s *Store) FiltersBySubscriber(subscriberID int64) ([]*Filter, error) {
	all, err := s.listFilters()
	if err != nil {
		return nil, err
	}
	out := make([]*Filter, 0, len(all))
	for _, f := range all {
		if f.SubscriberID == subscriberID {
			out = append(out, f)
		}
	}
	return out, nil
}

// ActiveFilters возвращает фильтры, участвующие в обходе: активные,
// не удалённые, от подписчиков без блокировки не фильтруем — блок проверяет
// журнал доставки на резервировании.
func (s *Store) ActiveFilters() ([]*Filter, error) {
	all, err := s.listFilters()
	if err != nil {
		return nil, err
	}
	out := make([]*Filter, 0, len(all))
	for _, f := range all {
		if f.Alive() {
			out = append(out, f)
		}
	}
	return out, nil
}

// SoftDeleteFilter помечает фильтр удалённым, сохраняя данные для восстановления.
func (s *Store) SoftDeleteFilter(id string) error {
	return s.mutateFilter(id, func(f *Filter) {
		now := s.Now()
		f.DeletedAt = &now
		f.Active = false
	})
}

// RestoreFilter снимает мягкое удаление. Повторной рассылки не случится:
// журнал доставки помнит все отправленные тройки.
func (s *Store) RestoreFilter(id string) error {
	return s.mutateFilter(id, func(f *Filter) {
		f.DeletedAt = nil
		f.Active = true
	})
}

// RecordMatch фиксирует сработавший фильтр: счётчик совпадений и отметка времени.
func (s *Store) RecordMatch(id string, at time.Time) error {
	return s.mutateFilter(id, func(f *Filter) {
		f.MatchCount++
		f.LastMatchAt = at
	})
}

// SetIntent обновляет сгенерированный интент, его версию и расширенные
// синонимы. Вызывается джобой обслуживания интентов.
func (s *Store) SetIntent(id, intent, version string, expanded []string) error {
	return s.mutateFilter(id, func(f *Filter) {
		f.AIIntent = intent
		f.AIIntentVersion = version
		f.ExpandedKeywords = trimAll(expanded)
	})
}

// listFilters перечисляет все фильтры как есть.
func (s *Store) listFilters() ([]*Filter, error) {
	out := make([]*Filter, 0)
	if err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(filtersBucket).ForEach(func(_, v []byte) error {
			var f Filter
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
			return nil
		})
	}); err != nil {
		return nil, errors.Wrap(err, "list filters")
	}
	return out, nil
}

// mutateFilter читает, изменяет и перезаписывает фильтр в одной транзакции.
func (s *Store) mutateFilter(id string, mutate func(*Filter)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(filtersBucket)
		raw := bucket.Get([]byte(id))
		if len(raw) == 0 {
			return ErrNotFound
		}
		var f Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			return errors.Wrapf(err, "decode filter %s", id)
		}
		mutate(&f)
		f.UpdatedAt = s.Now()
		payload, err := json.Marshal(&f)
		if err != nil {
			return errors.Wrap(err, "marshal filter")
		}
		return bucket.Put([]byte(id), payload)
	})
}

func subscriberKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}
