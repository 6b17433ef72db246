package synclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Entry — распарсенная строка журнала.
type Entry struct {
	Timestamp  time.Time
	Status     string
	UserID     int64
	DeviceID   int64
	Sensors    []SensorSnapshot
	HTTPStatus *int
	Message    string
}

// HistoryReading — показание, восстановленное из журнала.
type HistoryReading struct {
	RecordedAt      string  `json:"recordedAt"`
	SensorTimestamp *string `json:"sensorTimestamp"`
	IsAlarm         *bool   `json:"isAlarm"`
	IsLine          *bool   `json:"isLine"`
	RawValue        *string `json:"rawValue"`
	Value           *string `json:"value"`
}

// LoadSensorHistory восстанавливает историю по журналу: файлы с
// новейшего, строки каждого файла с конца, у каждого датчика не больше
// perSensorLimit показаний (новые сверху). Скан без индекса — объёмы
// на устройство-день ограничены, файлы упорядочены именем.
func (s *Store) LoadSensorHistory(deviceID int64, perSensorLimit int, start, end *time.Time) map[int64][]HistoryReading {
	history := make(map[int64][]HistoryReading)
	if perSensorLimit <= 0 {
		return history
	}

	for _, path := range s.listFiles(deviceID) {
		for _, line := range linesNewestFirst(path) {
			e, ok := parseLine(line)
			if !ok || e.DeviceID != deviceID {
				continue
			}
			if !inWindow(e.Timestamp, start, end) {
				continue
			}
			for _, snap := range e.Sensors {
				if snap.SensorID == 0 {
					continue
				}
				readings := history[snap.SensorID]
				if len(readings) >= perSensorLimit {
					continue
				}
				val := snap.ReVal
				if val == nil {
					val = snap.Value
				}
				history[snap.SensorID] = append(readings, HistoryReading{
					RecordedAt:      e.Timestamp.Format("2006-01-02T15:04:05"),
					SensorTimestamp: snap.Timestamp,
					IsAlarm:         snap.IsAlarm,
					IsLine:          snap.IsLine,
					RawValue:        snap.Value,
					Value:           val,
				})
			}
			if allCapped(history, perSensorLimit) {
				return history
			}
		}
	}
	return history
}

// QueryParams — фильтры постраничного чтения журнала.
type QueryParams struct {
	DeviceID int64
	UserID   int64
	SensorID *int64
	Start    *time.Time
	End      *time.Time
	Status   string // пусто — без фильтра; сравнение без регистра
	Page     int
	PageSize int
}

// Query — тот же обратный мультифайловый скан с offset-пагинацией по
// отфильтрованному потоку. hasMore == true, если за страницей есть ещё
// хотя бы одно совпадение.
func (s *Store) Query(p QueryParams) (entries []Entry, hasMore bool) {
	status := strings.ToLower(strings.TrimSpace(p.Status))
	offset := (p.Page - 1) * p.PageSize
	if offset < 0 {
		offset = 0
	}
	matched := 0

	for _, path := range s.listFiles(p.DeviceID) {
		for _, line := range linesNewestFirst(path) {
			e, ok := parseLine(line)
			if !ok || e.DeviceID != p.DeviceID || e.UserID != p.UserID {
				continue
			}
			if !inWindow(e.Timestamp, p.Start, p.End) {
				continue
			}
			if status != "" && strings.ToLower(e.Status) != status {
				continue
			}
			if p.SensorID != nil {
				filtered := e.Sensors[:0:0]
				for _, snap := range e.Sensors {
					if snap.SensorID == *p.SensorID {
						filtered = append(filtered, snap)
					}
				}
				if len(filtered) == 0 {
					continue
				}
				e.Sensors = filtered
			}

			matched++
			if matched <= offset {
				continue
			}
			if len(entries) < p.PageSize {
				entries = append(entries, *e)
			} else {
				return entries, true
			}
		}
	}
	return entries, false
}

// listFiles — дневные файлы устройства, новейшие первыми
// (имена содержат дату, лексикографический порядок == хронологии).
func (s *Store) listFiles(deviceID int64) []string {
	pattern := filepath.Join(s.deviceDir(deviceID), fmt.Sprintf("device%d-*.log", deviceID))
	files, err := filepath.Glob(pattern)
	if err != nil || len(files) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files
}

func linesNewestFirst(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		// файл мог исчезнуть под ретенцией — пропускаем
		return nil
	}
	raw := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	out := make([]string, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, raw[i])
	}
	return out
}

// parseLine разбирает одну строку журнала. Нечитаемые строки (например,
// оборванные гонкой писателя) пропускаются, не ломая скан.
func parseLine(line string) (*Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	parts := strings.SplitN(line, " | ", 8)
	if len(parts) != 8 {
		return nil, false
	}
	ts, err := time.Parse("2006-01-02T15:04:05Z", parts[0])
	if err != nil {
		return nil, false
	}

	fields := make(map[string]string, 6)
	for _, token := range parts[1:7] {
		if key, val, ok := strings.Cut(token, "="); ok {
			fields[key] = val
		}
	}

	userID, err := strconv.ParseInt(fields["user"], 10, 64)
	if err != nil {
		return nil, false
	}
	deviceID, err := strconv.ParseInt(fields["device"], 10, 64)
	if err != nil {
		return nil, false
	}

	rest := parts[7]
	if !strings.HasPrefix(rest, "sensors_json=") {
		return nil, false
	}
	rest = strings.TrimPrefix(rest, "sensors_json=")
	idx := strings.LastIndex(rest, " | message=")
	if idx < 0 {
		return nil, false
	}
	sensorsRaw, message := rest[:idx], rest[idx+len(" | message="):]

	var httpStatus *int
	if h := fields["http"]; h != "" && !strings.EqualFold(h, "NA") {
		if n, err := strconv.Atoi(h); err == nil {
			httpStatus = &n
		}
	}

	return &Entry{
		Timestamp:  ts.UTC(),
		Status:     fields["status"],
		UserID:     userID,
		DeviceID:   deviceID,
		Sensors:    parseSnapshots(sensorsRaw),
		HTTPStatus: httpStatus,
		Message:    message,
	}, true
}

// parseSnapshots терпим к чужим типам в JSON: числа, строки и bool
// приводятся к каноническим полям, мусорные элементы выбрасываются.
func parseSnapshots(raw string) []SensorSnapshot {
	var items []map[string]any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	out := make([]SensorSnapshot, 0, len(items))
	for _, item := range items {
		id := coerceInt64(item["sensorId"])
		snap := SensorSnapshot{
			SensorTypeID: coerceInt64Ptr(item["sensorTypeId"]),
			Value:        coerceStringPtr(item["value"]),
			ReVal:        coerceStringPtr(item["reVal"]),
			IsAlarm:      interpretFlag(item["isAlarm"]),
			IsLine:       interpretFlag(item["isLine"]),
			Unit:         coerceStringPtr(item["unit"]),
			Timestamp:    coerceStringPtr(item["timestamp"]),
		}
		if id != nil {
			snap.SensorID = *id
		}
		out = append(out, snap)
	}
	return out
}

func inWindow(ts time.Time, start, end *time.Time) bool {
	if start != nil && ts.Before(*start) {
		return false
	}
	if end != nil && ts.After(*end) {
		return false
	}
	return true
}

func allCapped(history map[int64][]HistoryReading, limit int) bool {
	if len(history) == 0 {
		return false
	}
	for _, readings := range history {
		if len(readings) < limit {
			return false
		}
	}
	return true
}

func coerceInt64(v any) *int64 {
	switch t := v.(type) {
	case float64:
		n := int64(t)
		return &n
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return &n
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return &n
		}
	}
	return nil
}

func coerceInt64Ptr(v any) *int64 { return coerceInt64(v) }

func coerceStringPtr(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		s := fmt.Sprintf("%v", t)
		return &s
	}
}

func interpretFlag(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case float64:
		b := t != 0
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "t", "yes", "on":
			b := true
			return &b
		case "0", "false", "f", "no", "off":
			b := false
			return &b
		}
	}
	return nil
}
