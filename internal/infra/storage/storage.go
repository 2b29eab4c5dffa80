// Package storage — утилиты безопасной работы с локальными файлами данных.
// Здесь живут:
//   - EnsureDir — гарантирует наличие директории для целевого пути;
//   - AtomicWriteFile — атомарная запись файла с fsync данных и каталога.
//
// Применяется для журналов доставки и прочих файлов, где частично записанное
// содержимое недопустимо.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"tender-radar/internal/infra/logger"
)

// defaultFilePerm ограничивает доступ к итоговому файлу владельцем процесса.
const defaultFilePerm = 0600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
// Каталог создаётся с правами 0o700.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod → close →
// rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан
// полностью. os.Rename атомарен только в пределах одного файлового тома,
// поэтому temp обязан жить в каталоге назначения. fsync каталога — best effort:
// часть ОС/ФС его игнорирует, но там, где работает, он журналирует метаданные.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// На POSIX rename поверх существующего файла атомарен.
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
