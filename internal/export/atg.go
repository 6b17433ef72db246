package export

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tlsync/internal/logs"
	"tlsync/internal/repo"
)

// ATGExporter после каждого прохода выгружает снимок последних
// показаний настроенных датчиков на внешний endpoint. Пересчёт объёмов
// по геометрии резервуара делает принимающая сторона.
type ATGExporter struct {
	cfg        Config
	store      *repo.TelemetryStore
	httpClient *http.Client
	now        func() time.Time
}

type Config struct {
	Endpoint   string
	SensorIDs  []int64
	ConnectTTL time.Duration
	Timeout    time.Duration
}

func NewATGExporter(cfg Config, store *repo.TelemetryStore) *ATGExporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.ConnectTTL <= 0 {
		cfg.ConnectTTL = 15 * time.Minute
	}
	return &ATGExporter{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type record struct {
	DeviceID   int64   `json:"deviceId"`
	SensorID   int64   `json:"sensorId"`
	Value      *string `json:"value"`
	Unit       *string `json:"unit"`
	RecordedAt *string `json:"recordedAt"`
	Connected  bool    `json:"connected"`
}

// Export собирает и отправляет снимок. Сбои только логируются: выгрузка
// не должна влиять на проход, который её дернул.
func (e *ATGExporter) Export(ctx context.Context) {
	if e.cfg.Endpoint == "" || len(e.cfg.SensorIDs) == 0 {
		return
	}

	records := make([]record, 0, len(e.cfg.SensorIDs))
	for _, sensorID := range e.cfg.SensorIDs {
		sen, dev, found, err := e.store.FindSensorWithDevice(sensorID)
		if err != nil {
			logs.Logger.WithField("sensor", sensorID).Warnf("atg export lookup failed: %v", err)
			continue
		}
		if !found {
			continue
		}

		var recordedAt *string
		if sen.LatestRecordedAt != nil {
			s := sen.LatestRecordedAt.UTC().Format("2006-01-02T15:04:05Z")
			recordedAt = &s
		}
		records = append(records, record{
			DeviceID:   dev.ExternalID,
			SensorID:   sen.ExternalID,
			Value:      sen.LatestValue,
			Unit:       sen.Unit,
			RecordedAt: recordedAt,
			Connected:  e.connected(dev.LastPushTime),
		})
	}
	if len(records) == 0 {
		return
	}

	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		logs.Logger.Errorf("atg export marshal: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		logs.Logger.Errorf("atg export request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		logs.Logger.Warnf("atg export post failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logs.Logger.Warnf("atg export rejected: http %d", resp.StatusCode)
		return
	}
	logs.Logger.WithField("records", len(records)).Debug("atg export delivered")
}

// connected — устройство на связи, если последний push моложе TTL.
func (e *ATGExporter) connected(lastPush *time.Time) bool {
	if lastPush == nil {
		return false
	}
	return e.now().UTC().Sub(lastPush.UTC()) <= e.cfg.ConnectTTL
}
