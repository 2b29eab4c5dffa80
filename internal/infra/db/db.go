// Package db — открытие общего bbolt-файла приложения.
// Все персистентные подсистемы (подписчики, журнал доставки, кэши, квоты)
// живут в одном файле в разных bucket'ах; пакет лишь открывает файл и
// гарантирует наличие каталога.
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dbOpenTimeout             = time.Second
	dbFileMode    os.FileMode = 0o600
)

// Open открывает (или создаёт) bbolt-файл по указанному пути.
// Timeout защищает от вечного ожидания файловой блокировки, когда файл
// уже открыт другим процессом.
func Open(path string) (*bbolt.DB, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil, errors.New("db: path is empty")
	}

	dir := filepath.Dir(clean)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("db: ensure dir %q: %w", dir, err)
		}
	}

	handle, err := bbolt.Open(clean, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("db: open %q: %w", clean, err)
	}
	return handle, nil
}

// EnsureBuckets создаёт перечисленные bucket'ы, если их ещё нет.
// Вызывается один раз на старте, чтобы рабочие транзакции могли
// рассчитывать на существование bucket'ов.
func EnsureBuckets(handle *bbolt.DB, names ...[]byte) error {
	return handle.Update(func(tx *bbolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("db: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
}
