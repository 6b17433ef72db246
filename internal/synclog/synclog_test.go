package synclog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }
func intp(n int) *int       { return &n }
func i64p(n int64) *int64   { return &n }

func TestAppendLineFormat(t *testing.T) {
	st := NewStore(t.TempDir())
	ts := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)

	st.Append(Event{
		Timestamp:  ts,
		Status:     "success",
		UserID:     7,
		DeviceID:   42,
		Readings:   1,
		HTTPStatus: intp(200),
		Sensors: []SensorSnapshot{{
			SensorID: 1,
			Value:    strp("12.5"),
			ReVal:    strp("12.50"),
			IsAlarm:  boolp(false),
		}},
		Message: "sync complete\nwith newline",
	})

	path := filepath.Join(st.root, "42", "device42-2024-03-05.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")

	if !strings.HasPrefix(line, "2024-03-05T10:20:30Z | status=success | user=7 | device=42 | sensors=1 | readings=1 | http=200 | sensors_json=") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, " | message=sync complete with newline") {
		t.Fatalf("message not sanitized: %q", line)
	}
	if !strings.Contains(line, `"sensorId":1`) || !strings.Contains(line, `"reVal":"12.50"`) {
		t.Fatalf("snapshot missing from line: %q", line)
	}
}

func TestAppendParseRoundTrip(t *testing.T) {
	st := NewStore(t.TempDir())
	ts := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)
	st.Append(Event{
		Timestamp: ts,
		Status:    "error",
		UserID:    7,
		DeviceID:  42,
		Message:   "HTTP error 502",
	})

	entries, hasMore := st.Query(QueryParams{DeviceID: 42, UserID: 7, Page: 1, PageSize: 10})
	if hasMore {
		t.Fatalf("unexpected hasMore")
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != "error" || e.Message != "HTTP error 502" {
		t.Fatalf("round trip mismatch: %+v", e)
	}
	if !e.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.HTTPStatus != nil {
		t.Fatalf("http status should be nil for NA")
	}
}

func TestLoadSensorHistoryLimitNewestFirst(t *testing.T) {
	st := NewStore(t.TempDir())
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		st.Append(Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    "success",
			UserID:    7,
			DeviceID:  42,
			Readings:  1,
			Sensors:   []SensorSnapshot{{SensorID: 1, Value: strp(fmt.Sprintf("%d", i))}},
		})
	}

	history := st.LoadSensorHistory(42, 2, nil, nil)
	readings := history[1]
	if len(readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(readings))
	}
	if readings[0].RecordedAt != "2024-03-05T10:04:00" {
		t.Fatalf("first reading = %q, want newest", readings[0].RecordedAt)
	}
	if readings[1].RecordedAt != "2024-03-05T10:03:00" {
		t.Fatalf("second reading = %q", readings[1].RecordedAt)
	}
}

func TestLoadSensorHistoryAcrossDays(t *testing.T) {
	st := NewStore(t.TempDir())
	st.Append(Event{
		Timestamp: time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC),
		Status:    "success", UserID: 7, DeviceID: 42,
		Sensors: []SensorSnapshot{{SensorID: 1, Value: strp("old")}},
	})
	st.Append(Event{
		Timestamp: time.Date(2024, 3, 5, 0, 1, 0, 0, time.UTC),
		Status:    "success", UserID: 7, DeviceID: 42,
		Sensors: []SensorSnapshot{{SensorID: 1, Value: strp("new")}},
	})

	history := st.LoadSensorHistory(42, 10, nil, nil)
	readings := history[1]
	if len(readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(readings))
	}
	if readings[0].RawValue == nil || *readings[0].RawValue != "new" {
		t.Fatalf("newest file must come first: %+v", readings[0])
	}
}

func TestQueryPagination(t *testing.T) {
	st := NewStore(t.TempDir())
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		st.Append(Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Status:    "success",
			UserID:    7,
			DeviceID:  42,
		})
	}

	page1, hasMore := st.Query(QueryParams{DeviceID: 42, UserID: 7, Page: 1, PageSize: 10})
	if len(page1) != 10 || !hasMore {
		t.Fatalf("page1 = %d entries, hasMore=%v", len(page1), hasMore)
	}
	if !page1[0].Timestamp.After(page1[9].Timestamp) {
		t.Fatalf("entries must be newest first")
	}

	page3, hasMore := st.Query(QueryParams{DeviceID: 42, UserID: 7, Page: 3, PageSize: 10})
	if len(page3) != 5 || hasMore {
		t.Fatalf("page3 = %d entries, hasMore=%v", len(page3), hasMore)
	}

	page4, hasMore := st.Query(QueryParams{DeviceID: 42, UserID: 7, Page: 4, PageSize: 10})
	if len(page4) != 0 || hasMore {
		t.Fatalf("page4 = %d entries, hasMore=%v", len(page4), hasMore)
	}
}

func TestQueryFilters(t *testing.T) {
	st := NewStore(t.TempDir())
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	st.Append(Event{Timestamp: ts, Status: "success", UserID: 7, DeviceID: 42,
		Sensors: []SensorSnapshot{{SensorID: 1}, {SensorID: 2}}})
	st.Append(Event{Timestamp: ts.Add(time.Second), Status: "error", UserID: 7, DeviceID: 42,
		Sensors: []SensorSnapshot{{SensorID: 2}}})

	errs, _ := st.Query(QueryParams{DeviceID: 42, UserID: 7, Status: "ERROR", Page: 1, PageSize: 10})
	if len(errs) != 1 || errs[0].Status != "error" {
		t.Fatalf("status filter: %+v", errs)
	}

	one, _ := st.Query(QueryParams{DeviceID: 42, UserID: 7, SensorID: i64p(1), Page: 1, PageSize: 10})
	if len(one) != 1 || len(one[0].Sensors) != 1 || one[0].Sensors[0].SensorID != 1 {
		t.Fatalf("sensor filter: %+v", one)
	}

	other, _ := st.Query(QueryParams{DeviceID: 42, UserID: 99, Page: 1, PageSize: 10})
	if len(other) != 0 {
		t.Fatalf("user filter must exclude foreign entries")
	}
}

func TestQuerySkipsCorruptLines(t *testing.T) {
	st := NewStore(t.TempDir())
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	st.Append(Event{Timestamp: ts, Status: "success", UserID: 7, DeviceID: 42})

	path := st.dailyFile(42, ts)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("truncated garbage without separators\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	entries, _ := st.Query(QueryParams{DeviceID: 42, UserID: 7, Page: 1, PageSize: 10})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (garbage skipped)", len(entries))
	}
}

func TestPrune(t *testing.T) {
	st := NewStore(t.TempDir())
	now := time.Now().UTC()

	st.Append(Event{Timestamp: now, Status: "success", UserID: 7, DeviceID: 42})
	st.Append(Event{Timestamp: now, Status: "success", UserID: 7, DeviceID: 43})

	oldPath := st.dailyFile(43, now)
	oldTime := now.AddDate(0, 0, -40)
	if err := os.Chtimes(oldPath, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if n := st.Prune(0); n != 0 {
		t.Fatalf("prune(0) = %d, want no-op", n)
	}

	if n := st.Prune(30); n != 1 {
		t.Fatalf("prune(30) = %d, want 1", n)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("old file must be removed")
	}
	if _, err := os.Stat(st.deviceDir(43)); !os.IsNotExist(err) {
		t.Fatalf("empty device dir must be removed")
	}
	if _, err := os.Stat(st.dailyFile(42, now)); err != nil {
		t.Fatalf("fresh file must survive: %v", err)
	}
}
