package tlink

import (
	"context"
	"errors"
	"net/http"

	"tlsync/internal/logs"
	"tlsync/internal/metrics"
	"tlsync/internal/synclog"
)

// Exporter — внешний потребитель, дергаемый после завершённого прохода.
// Вход ему не нужен; что и куда он выгружает — не забота оркестратора.
type Exporter interface {
	Export(ctx context.Context)
}

// SyncerConfig — настройки прохода.
type SyncerConfig struct {
	AccountID int64 // аккаунт TLINK; 0 — синхронизация выключена
	PageSize  int
}

// Syncer — оркестратор: fetch → normalize → store → log, по устройству.
// Состояния батча: fetched → normalized → {stored, rejected}.
type Syncer struct {
	cfg      SyncerConfig
	client   *Client
	store    Store
	journal  *synclog.Store
	exporter Exporter // может быть nil
}

func NewSyncer(cfg SyncerConfig, client *Client, store Store, journal *synclog.Store, exporter Exporter) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Syncer{cfg: cfg, client: client, store: store, journal: journal, exporter: exporter}
}

// PassSummary — счётчики одного прохода.
type PassSummary struct {
	Users    int
	Devices  int
	Readings int
}

// ProcessPush — путь webhook-пуша: нормализовать, сохранить, записать
// в журнал. Возвращает число реально вставленных показаний.
func (s *Syncer) ProcessPush(ctx context.Context, payload map[string]any) (int, error) {
	batch, err := NormalizePush(payload)
	if err != nil {
		metrics.WebhookPushes.WithLabelValues("rejected").Inc()
		return 0, err
	}

	stored, err := s.store.StoreBatch(ctx, batch)
	if err != nil {
		metrics.WebhookPushes.WithLabelValues("error").Inc()
		s.logEvent(batch.DeviceUserID, batch.DeviceExternalID, batch.Sensors, 0, "error", nil, err.Error())
		return 0, err
	}

	metrics.WebhookPushes.WithLabelValues("stored").Inc()
	metrics.DevicesStored.Inc()
	metrics.ReadingsStored.Add(float64(stored))
	ok := http.StatusOK
	s.logEvent(batch.DeviceUserID, batch.DeviceExternalID, batch.Sensors, stored, "success", &ok, "push stored")
	return stored, nil
}

// SyncUserDevices листает sensor-data API до конца и прогоняет каждое
// устройство через конвейер. Валидационный брак устройства журналится
// и пропускается; любой другой сбой хранения считается системным и
// обрывает остаток прохода.
func (s *Syncer) SyncUserDevices(ctx context.Context, userID int64, overrides map[string]any) (devices, readings int, err error) {
	for page := 1; ; page++ {
		payload, err := s.client.FetchSensorPage(ctx, userID, page, s.cfg.PageSize, overrides)
		if err != nil {
			var remote *RemoteError
			var httpStatus *int
			if errors.As(err, &remote) && remote.Status > 0 {
				httpStatus = &remote.Status
			}
			// устройства ещё не знаем — журналим под id аккаунта
			s.logEvent(userID, userID, nil, 0, "error", httpStatus, "TLINK fetch failed: "+err.Error())
			return devices, readings, err
		}

		for _, device := range payload.DataList {
			batch := NormalizeRemoteDevice(device, userID, payload.Flag)

			if batch.DeviceExternalID == 0 {
				s.logEvent(userID, userID, batch.Sensors, 0, "error", nil, "Missing deviceId in payload")
				continue
			}
			if len(batch.Sensors) == 0 {
				s.logEvent(userID, batch.DeviceExternalID, nil, 0, "error", nil, "No sensors in payload")
				continue
			}

			stored, err := s.store.StoreBatch(ctx, batch)
			if err != nil {
				s.logEvent(userID, batch.DeviceExternalID, batch.Sensors, 0, "error", nil, err.Error())
				var vErr *ValidationError
				if errors.As(err, &vErr) {
					continue
				}
				// системный сбой (например, недоступное хранилище)
				return devices, readings, err
			}

			ok := http.StatusOK
			s.logEvent(userID, batch.DeviceExternalID, batch.Sensors, stored, "success", &ok, "sync complete")
			metrics.DevicesStored.Inc()
			metrics.ReadingsStored.Add(float64(stored))
			devices++
			readings += stored
		}

		if len(payload.DataList) < s.cfg.PageSize {
			return devices, readings, nil
		}
	}
}

// SyncConfiguredAccounts — один полный проход по настроенным аккаунтам.
// Вызывается планировщиком; наружу ошибок не отдаёт — исходы видны в
// журнале, логе и метриках.
func (s *Syncer) SyncConfiguredAccounts(ctx context.Context) PassSummary {
	var sum PassSummary
	if s.cfg.AccountID == 0 {
		logs.Logger.Debug("tlink sync skipped: no account number configured")
		return sum
	}

	devices, readings, err := s.SyncUserDevices(ctx, s.cfg.AccountID, nil)
	sum.Devices += devices
	sum.Readings += readings
	if err != nil {
		metrics.SyncPasses.WithLabelValues("error").Inc()
		logs.Logger.WithField("user", s.cfg.AccountID).Errorf("tlink sync failed: %v", err)
		return sum
	}

	sum.Users++
	metrics.SyncPasses.WithLabelValues("success").Inc()
	logs.Logger.WithFields(map[string]any{
		"user":     s.cfg.AccountID,
		"devices":  devices,
		"readings": readings,
	}).Info("tlink sync completed")

	if s.exporter != nil {
		s.exporter.Export(ctx)
	}
	return sum
}

// logEvent пишет строку журнала; сбой записи журнал глотает сам.
func (s *Syncer) logEvent(userID, deviceID int64, sensors []SensorEntry, readings int, status string, httpStatus *int, message string) {
	if s.journal == nil {
		return
	}
	s.journal.Append(synclog.Event{
		Status:     status,
		UserID:     userID,
		DeviceID:   deviceID,
		Readings:   readings,
		HTTPStatus: httpStatus,
		Sensors:    snapshotSensors(sensors),
		Message:    message,
	})
}

// snapshotSensors — снимок батча в формате sensors_json.
func snapshotSensors(entries []SensorEntry) []synclog.SensorSnapshot {
	out := make([]synclog.SensorSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, synclog.SensorSnapshot{
			SensorID:     e.ExternalID,
			SensorTypeID: e.TypeID,
			Value:        e.ScaledValue,
			ReVal:        e.RawValue,
			IsAlarm:      e.IsAlarm,
			IsLine:       e.IsLine,
			Unit:         e.Unit,
			Timestamp:    e.Timestamp,
		})
	}
	return out
}
