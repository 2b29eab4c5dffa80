// Package cache — персистентный TTL-кэш на bbolt.
// Каждый вид данных (обогащённые карточки закупок, вердикты оракула) живёт в
// собственном bucket'е cache:<kind> со своим сроком годности. Значения хранятся
// как JSON-конверт с отметкой истечения; просроченная или нечитаемая запись
// равносильна промаху, сам кэш никогда не является причиной отказа операции.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tender-radar/internal/infra/logger"

	"go.etcd.io/bbolt"
)

// bucketPrefix отделяет кэшевые bucket'ы от остальных в общем файле.
const bucketPrefix = "cache:"

// envelope — конверт хранимого значения: полезная нагрузка плюс срок годности.
type envelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store — кэш одного вида данных. Потокобезопасен: конкурентность
// обеспечивают транзакции bbolt. Периодический вызов Sweep планирует
// приложение (cron), сам кэш фоновых горутин не держит.
type Store struct {
	db     *bbolt.DB
	kind   string
	bucket []byte
	ttl    time.Duration

	// Now подменяется в тестах; по умолчанию time.Now.
	Now func() time.Time
}

// New создаёт кэш вида kind с заданным TTL и гарантирует существование bucket'а.
func New(handle *bbolt.DB, kind string, ttl time.Duration) (*Store, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, errors.New("cache: kind is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: non-positive ttl for kind %q", kind)
	}

	bucket := []byte(bucketPrefix + kind)
	if err := handle.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("cache: create bucket %q: %w", kind, err)
	}

	return &Store{
		db:     handle,
		kind:   kind,
		bucket: bucket,
		ttl:    ttl,
		Now:    time.Now,
	}, nil
}

// Get читает значение по ключу в dst. Возвращает false при промахе: ключа нет,
// запись просрочена либо не декодируется. Нечитаемые записи удаляются на месте,
// чтобы кэш самовосстанавливался после смены формата.
func (s *Store) Get(key string, dst any) (bool, error) {
	var raw []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(key)); len(value) > 0 {
			raw = append(raw, value...)
		}
		return nil
	}); err != nil {
		return false, fmt.Errorf("cache %s: get %q: %w", s.kind, key, err)
	}
	if len(raw) == 0 {
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warnf("cache %s: corrupted entry %q dropped: %v", s.kind, key, err)
		s.dropQuiet(key)
		return false, nil
	}
	if s.Now().After(env.ExpiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		logger.Warnf("cache %s: stale payload %q dropped: %v", s.kind, key, err)
		s.dropQuiet(key)
		return false, nil
	}
	return true, nil
}

// Set сохраняет значение под ключом со сроком годности TTL кэша.
func (s *Store) Set(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: marshal %q: %w", s.kind, key, err)
	}
	env := envelope{
		ExpiresAt: s.Now().Add(s.ttl),
		Payload:   payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache %s: marshal envelope %q: %w", s.kind, key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, bErr := tx.CreateBucketIfNotExists(s.bucket)
		if bErr != nil {
			return bErr
		}
		return bucket.Put([]byte(key), raw)
	})
}

// Delete убирает запись по ключу; отсутствие ключа не считается ошибкой.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Sweep удаляет просроченные и нечитаемые записи. Возвращает число удалённых.
func (s *Store) Sweep() (int, error) {
	now := s.Now()
	expired := make([][]byte, 0)

	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil || now.After(env.ExpiresAt) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
	}); err != nil {
		return 0, fmt.Errorf("cache %s: sweep scan: %w", s.kind, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("cache %s: sweep delete: %w", s.kind, err)
	}
	return len(expired), nil
}

// Len возвращает текущее число записей, включая ещё не выметенные просроченные.
func (s *Store) Len() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Kind возвращает вид кэша для логов и консоли оператора.
func (s *Store) Kind() string {
	return s.kind
}

// dropQuiet удаляет запись, не поднимая ошибку наверх: чистка кэша не должна
// мешать основному пути.
func (s *Store) dropQuiet(key string) {
	if err := s.Delete(key); err != nil {
		logger.Debugf("cache %s: drop %q failed: %v", s.kind, key, err)
	}
}
