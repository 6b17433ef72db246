package synclog

import (
	"os"
	"path/filepath"
	"time"

	"tlsync/internal/metrics"
)

// Prune удаляет файлы журнала старше maxAgeDays и опустевшие каталоги
// устройств. Возвращает число удалённых файлов. Неположительный
// maxAgeDays — no-op. Файл, исчезнувший под ногами (гонка с писателем),
// считается уже удалённым.
func (s *Store) Prune(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		return 0
	}
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return 0
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed := 0

	deviceDirs, err := os.ReadDir(s.root)
	if err != nil {
		return 0
	}
	for _, d := range deviceDirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, d.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(dir, f.Name())
			fi, err := f.Info()
			if err != nil {
				continue
			}
			if fi.ModTime().UTC().Before(cutoff) {
				if err := os.Remove(path); err == nil || os.IsNotExist(err) {
					removed++
				}
			}
		}
		// каталог без файлов убираем; непустой Remove не тронет
		if rest, err := os.ReadDir(dir); err == nil && len(rest) == 0 {
			_ = os.Remove(dir)
		}
	}

	if removed > 0 {
		metrics.LogFilesPruned.Add(float64(removed))
	}
	return removed
}
