package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tlsync/internal/db"
	"tlsync/internal/repo"
	"tlsync/internal/tlink"
)

func strp(s string) *string { return &s }

func seedStore(t *testing.T, push time.Time) *repo.TelemetryStore {
	t.Helper()
	conn, err := db.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.NewTelemetryStore(conn)

	batch := &tlink.DeviceBatch{
		DeviceExternalID: 42,
		DeviceUserID:     7,
		PushTime:         push,
		Sensors: []tlink.SensorEntry{{
			ExternalID:  1,
			Unit:        strp("cm"),
			ScaledValue: strp("12.5"),
		}},
	}
	if _, err := store.StoreBatch(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestExportPostsSnapshot(t *testing.T) {
	push := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := seedStore(t, push)

	var hits atomic.Int64
	var got map[string][]record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode export: %v", err)
		}
	}))
	defer srv.Close()

	e := NewATGExporter(Config{
		Endpoint:   srv.URL,
		SensorIDs:  []int64{1, 999},
		ConnectTTL: 15 * time.Minute,
	}, store)
	e.httpClient = srv.Client()
	e.now = func() time.Time { return push.Add(5 * time.Minute) }

	e.Export(context.Background())

	if hits.Load() != 1 {
		t.Fatalf("posts = %d, want 1", hits.Load())
	}
	records := got["records"]
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (unknown sensor skipped)", len(records))
	}
	rec := records[0]
	if rec.DeviceID != 42 || rec.SensorID != 1 {
		t.Fatalf("record ids = %d/%d", rec.DeviceID, rec.SensorID)
	}
	if rec.Value == nil || *rec.Value != "12.5" {
		t.Fatalf("value = %+v", rec.Value)
	}
	if !rec.Connected {
		t.Fatalf("device pushed 5m ago must be connected")
	}
}

func TestExportMarksStaleDeviceDisconnected(t *testing.T) {
	push := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := seedStore(t, push)

	var got map[string][]record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	e := NewATGExporter(Config{
		Endpoint:   srv.URL,
		SensorIDs:  []int64{1},
		ConnectTTL: 15 * time.Minute,
	}, store)
	e.httpClient = srv.Client()
	e.now = func() time.Time { return push.Add(time.Hour) }

	e.Export(context.Background())

	if len(got["records"]) != 1 || got["records"][0].Connected {
		t.Fatalf("stale device must be disconnected: %+v", got["records"])
	}
}

func TestExportWithoutConfigIsNoop(t *testing.T) {
	store := seedStore(t, time.Now().UTC())

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	// без endpoint
	e := NewATGExporter(Config{SensorIDs: []int64{1}}, store)
	e.Export(context.Background())

	// без датчиков
	e = NewATGExporter(Config{Endpoint: srv.URL}, store)
	e.httpClient = srv.Client()
	e.Export(context.Background())

	if hits.Load() != 0 {
		t.Fatalf("posts = %d, want 0", hits.Load())
	}
}
