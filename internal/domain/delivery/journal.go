package delivery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"tender-radar/internal/infra/logger"
	"tender-radar/internal/infra/storage"
)

// FailureRecord — окончательно провалившаяся доставка: получатель заблокировал
// бота, чат удалён или адрес невалиден. Журнал читает оператор.
type FailureRecord struct {
	SubscriberID int64     `json:"subscriber_id"`
	TenderID     string    `json:"tender_id"`
	Cause        string    `json:"cause"`
	At           time.Time `json:"at"`
}

// Journal — файловый журнал постоянных отказов. Запись атомарна,
// доступ сериализован mutex'ом.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal создаёт файл журнала, если его нет, инициализируя пустым массивом.
func NewJournal(path string) (*Journal, error) {
	clean := filepath.Clean(path)
	if _, err := os.Stat(clean); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrap(err, "stat failure journal")
		}
		if errFile := storage.AtomicWriteFile(clean, []byte("[]")); errFile != nil {
			return nil, errors.Wrap(errFile, "init failure journal")
		}
		logger.Debugf("Journal: created file %s", clean)
	}
	return &Journal{path: clean}, nil
}

// Load возвращает все записи журнала. Отсутствие файла — пустой список.
func (j *Journal) Load() ([]FailureRecord, error) {
	raw, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read failure journal")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var records []FailureRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errors.Wrap(err, "decode failure journal")
	}
	return records, nil
}

// Append дописывает записи и атомарно сохраняет весь массив.
func (j *Journal) Append(records ...FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.Load()
	if err != nil {
		return err
	}
	existing = append(existing, records...)

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode failure journal")
	}
	if err := storage.AtomicWriteFile(j.path, data); err != nil {
		logger.Errorf("Journal: write error: %v", err)
		return err
	}
	logger.Debugf("Journal: appended %d record(s)", len(records))
	return nil
}
