package synclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tlsync/internal/logs"
	"tlsync/internal/metrics"
)

// Store — append-only журнал синхронизаций: одна строка на попытку
// sync/push, файлы разложены по устройству и UTC-дню. Журнал служит и
// аудитом, и вторичной историей для чтения (read.go), поэтому формат
// строки зафиксирован — чтение его же и парсит.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // путь файла -> лок на append
}

func NewStore(root string) *Store {
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}
}

// Event — одна запись журнала.
type Event struct {
	Timestamp  time.Time // zero — подставится текущее UTC-время
	Status     string    // success | error
	UserID     int64
	DeviceID   int64
	Readings   int
	HTTPStatus *int
	Sensors    []SensorSnapshot
	Message    string
}

// SensorSnapshot — снимок датчика внутри sensors_json.
// Ключи совпадают с форматом на диске, менять нельзя.
type SensorSnapshot struct {
	SensorID     int64   `json:"sensorId"`
	SensorTypeID *int64  `json:"sensorTypeId"`
	Value        *string `json:"value"`
	ReVal        *string `json:"reVal"`
	IsAlarm      *bool   `json:"isAlarm"`
	IsLine       *bool   `json:"isLine"`
	Unit         *string `json:"unit"`
	Timestamp    *string `json:"timestamp"`
}

// Append дописывает одну строку в файл device<id>-<YYYY-MM-DD>.log.
// Никогда не возвращает ошибку наверх: сбой записи журнала не должен
// валить операцию, которую он описывает. Сбои видны в логе и метрике.
func (s *Store) Append(e Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	line := s.formatLine(ts, e)
	path := s.dailyFile(e.DeviceID, ts)

	if err := s.appendLine(path, line); err != nil {
		metrics.LogWriteFailures.Inc()
		logs.Logger.WithField("device", e.DeviceID).Errorf("sync log append failed: %v", err)
	}
}

func (s *Store) formatLine(ts time.Time, e Event) string {
	httpVal := "NA"
	if e.HTTPStatus != nil {
		httpVal = fmt.Sprintf("%d", *e.HTTPStatus)
	}
	snap, err := json.Marshal(e.Sensors)
	if err != nil || e.Sensors == nil {
		snap = []byte("[]")
	}
	return fmt.Sprintf(
		"%s | status=%s | user=%d | device=%d | sensors=%d | readings=%d | http=%s | sensors_json=%s | message=%s\n",
		ts.Format("2006-01-02T15:04:05Z"),
		e.Status,
		e.UserID,
		e.DeviceID,
		len(e.Sensors),
		e.Readings,
		httpVal,
		snap,
		sanitizeMessage(e.Message),
	)
}

func (s *Store) dailyFile(deviceID int64, ts time.Time) string {
	dir := s.deviceDir(deviceID)
	name := fmt.Sprintf("device%d-%s.log", deviceID, ts.Format("2006-01-02"))
	return filepath.Join(dir, name)
}

func (s *Store) deviceDir(deviceID int64) string {
	return filepath.Join(s.root, fmt.Sprintf("%d", deviceID))
}

// appendLine сериализует записи в один файл: конкурентные push и poll
// не должны переплетать куски строк.
func (s *Store) appendLine(path, line string) error {
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func (s *Store) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	return strings.TrimSpace(msg)
}
