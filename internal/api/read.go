package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tlsync/internal/models"
	"tlsync/internal/synclog"
)

type deviceSummary struct {
	DeviceID     int64   `json:"deviceId"`
	ParentUserID *string `json:"parentUserId"`
	UserID       *string `json:"userId"`
	LastFlag     *string `json:"lastFlag"`
	LastPushTime *string `json:"lastPushTime"`
}

type sensorSummary struct {
	SensorID         int64   `json:"sensorId"`
	DeviceID         int64   `json:"deviceId"`
	SensorName       *string `json:"sensorName"`
	SensorTypeID     *int64  `json:"sensorTypeId"`
	IsAlarm          *bool   `json:"isAlarm"`
	IsLine           *bool   `json:"isLine"`
	LatestValue      *string `json:"latestValue"`
	LatestRecordedAt *string `json:"latestRecordedAt"`
	Unit             *string `json:"unit"`
}

type readingPayload struct {
	RecordedAt      string  `json:"recordedAt"`
	SensorTimestamp *string `json:"sensorTimestamp"`
	IsAlarm         *bool   `json:"isAlarm"`
	IsLine          *bool   `json:"isLine"`
	RawValue        *string `json:"rawValue"`
	Value           *string `json:"value"`
}

type logEntryPayload struct {
	Timestamp  string                    `json:"timestamp"`
	Status     string                    `json:"status"`
	HTTPStatus *int                      `json:"httpStatus"`
	Message    string                    `json:"message"`
	Sensors    []synclog.SensorSnapshot `json:"sensors"`
}

// GET /api/devices
func (h *HTTP) listDevices(w http.ResponseWriter, r *http.Request) {
	var ownerID *string
	if v := r.URL.Query().Get("ownerId"); v != "" {
		ownerID = &v
	}
	var deviceFilter *int64
	if v := r.URL.Query().Get("deviceId"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			deviceFilter = &n
		}
	}
	start := queryTime(r, "startTime")
	end := queryTime(r, "endTime")
	page, pageSize := h.pageParams(r)
	historyLimit := queryInt(r, "historyLimit", h.opts.HistoryLimit)
	if historyLimit < 1 {
		historyLimit = 1
	}

	total, err := h.store.CountDevices(ownerID, deviceFilter)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
		return
	}
	devices, err := h.store.ListDevices(ownerID, deviceFilter, pageSize, (page-1)*pageSize)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
		return
	}

	payload := make([]map[string]any, 0, len(devices))
	for _, dev := range devices {
		sensors, err := h.store.ListSensors(dev.ID)
		if err != nil {
			models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
			return
		}
		sensorPayload := make([]map[string]any, 0, len(sensors))
		for _, sen := range sensors {
			rows, err := h.store.SensorHistory(sen.ID, start, end, historyLimit)
			if err != nil {
				models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
				return
			}
			history := make([]readingPayload, 0, len(rows))
			for _, row := range rows {
				history = append(history, readingDict(row))
			}
			sensorPayload = append(sensorPayload, map[string]any{
				"summary": summarizeSensor(sen, dev.ExternalID),
				"history": history,
			})
		}
		payload = append(payload, map[string]any{
			"device":  summarizeDevice(dev),
			"sensors": sensorPayload,
		})
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	writeJSON(w, map[string]any{
		"pagination": map[string]any{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
			"pages":    totalPages,
		},
		"devices": payload,
	})
}

// GET /api/devices/{deviceID}/latest
func (h *HTTP) deviceLatest(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.findDevice(w, r)
	if !ok {
		return
	}
	sensors, err := h.store.ListSensors(dev.ID)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
		return
	}

	sensorPayload := make([]map[string]any, 0, len(sensors))
	for _, sen := range sensors {
		var latest *readingPayload
		if row, found, err := h.store.LatestReading(sen.ID); err == nil && found {
			p := readingDict(*row)
			latest = &p
		}
		sensorPayload = append(sensorPayload, map[string]any{
			"summary": summarizeSensor(sen, dev.ExternalID),
			"latest":  latest,
		})
	}
	writeJSON(w, map[string]any{
		"device":  summarizeDevice(*dev),
		"sensors": sensorPayload,
	})
}

// GET /api/devices/{deviceID}/history — история из журнала, включая
// датчики, известные только журналу.
func (h *HTTP) deviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.findDevice(w, r)
	if !ok {
		return
	}
	start := queryTime(r, "startTime")
	end := queryTime(r, "endTime")
	historyLimit := queryInt(r, "historyLimit", h.opts.HistoryLimit)
	if historyLimit < 1 {
		historyLimit = 1
	}

	historyMap := h.journal.LoadSensorHistory(dev.ExternalID, historyLimit, start, end)

	sensors, err := h.store.ListSensors(dev.ID)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
		return
	}

	known := make(map[int64]struct{}, len(sensors))
	sensorPayload := make([]map[string]any, 0, len(sensors))
	for _, sen := range sensors {
		known[sen.ExternalID] = struct{}{}
		entries := historyMap[sen.ExternalID]
		if entries == nil {
			entries = []synclog.HistoryReading{}
		}
		sensorPayload = append(sensorPayload, map[string]any{
			"summary": summarizeSensor(sen, dev.ExternalID),
			"history": entries,
		})
	}
	for sensorID, entries := range historyMap {
		if _, ok := known[sensorID]; ok {
			continue
		}
		sensorPayload = append(sensorPayload, map[string]any{
			"summary": sensorSummary{SensorID: sensorID, DeviceID: dev.ExternalID},
			"history": entries,
		})
	}

	writeJSON(w, map[string]any{
		"device":  summarizeDevice(*dev),
		"sensors": sensorPayload,
	})
}

// GET /api/logs/{deviceID}[/{sensorID}]
func (h *HTTP) deviceLogs(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.findDevice(w, r)
	if !ok {
		return
	}
	if h.opts.AccountID == 0 {
		models.WriteProblem(w, http.StatusInternalServerError, "Misconfigured", "tlink account number is not configured", nil)
		return
	}

	var sensorID *int64
	if raw, present := mux.Vars(r)["sensorID"]; present && raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid sensor id", nil)
			return
		}
		sensors, err := h.store.ListSensors(dev.ID)
		if err != nil {
			models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
			return
		}
		found := false
		for _, sen := range sensors {
			if sen.ExternalID == n {
				found = true
				break
			}
		}
		if !found {
			models.WriteProblem(w, http.StatusNotFound, "Not found", "sensor not found for device", nil)
			return
		}
		sensorID = &n
	}

	page, pageSize := h.pageParams(r)
	entries, hasMore := h.journal.Query(synclog.QueryParams{
		DeviceID: dev.ExternalID,
		UserID:   h.opts.AccountID,
		SensorID: sensorID,
		Start:    queryTime(r, "startTime"),
		End:      queryTime(r, "endTime"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	})

	logsPayload := make([]logEntryPayload, 0, len(entries))
	for _, e := range entries {
		logsPayload = append(logsPayload, logEntryPayload{
			Timestamp:  e.Timestamp.Format("2006-01-02T15:04:05Z"),
			Status:     e.Status,
			HTTPStatus: e.HTTPStatus,
			Message:    e.Message,
			Sensors:    e.Sensors,
		})
	}

	writeJSON(w, map[string]any{
		"device": summarizeDevice(*dev),
		"logs":   logsPayload,
		"pagination": map[string]any{
			"page":     page,
			"pageSize": pageSize,
			"returned": len(logsPayload),
			"hasMore":  hasMore,
		},
	})
}

// ───────────────────────── helpers ─────────────────────────

func (h *HTTP) findDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	externalID, err := strconv.ParseInt(mux.Vars(r)["deviceID"], 10, 64)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid device id", nil)
		return nil, false
	}
	dev, found, err := h.store.FindDeviceByExternalID(externalID)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", err.Error(), nil)
		return nil, false
	}
	if !found {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", nil)
		return nil, false
	}
	return dev, true
}

func summarizeDevice(dev models.Device) deviceSummary {
	var lastPush *string
	if dev.LastPushTime != nil {
		s := dev.LastPushTime.UTC().Format("2006-01-02T15:04:05")
		lastPush = &s
	}
	return deviceSummary{
		DeviceID:     dev.ExternalID,
		ParentUserID: dev.ParentUserID,
		UserID:       dev.OwnerUserID,
		LastFlag:     dev.LastFlag,
		LastPushTime: lastPush,
	}
}

func summarizeSensor(sen models.Sensor, deviceExternalID int64) sensorSummary {
	var recorded *string
	if sen.LatestRecordedAt != nil {
		s := sen.LatestRecordedAt.UTC().Format("2006-01-02T15:04:05")
		recorded = &s
	}
	return sensorSummary{
		SensorID:         sen.ExternalID,
		DeviceID:         deviceExternalID,
		SensorName:       sen.SensorName,
		SensorTypeID:     sen.SensorTypeID,
		IsAlarm:          sen.IsAlarm,
		IsLine:           sen.IsLine,
		LatestValue:      sen.LatestValue,
		LatestRecordedAt: recorded,
		Unit:             sen.Unit,
	}
}

func readingDict(row models.SensorReading) readingPayload {
	return readingPayload{
		RecordedAt:      row.RecordedAt.UTC().Format("2006-01-02T15:04:05"),
		SensorTimestamp: row.SensorTimestamp,
		IsAlarm:         row.IsAlarm,
		IsLine:          row.IsLine,
		RawValue:        row.RawValue,
		Value:           row.ScaledValue,
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
