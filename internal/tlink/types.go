package tlink

import (
	"context"
	"time"
)

// DeviceBatch — канонический результат нормализации: одно устройство
// плюс его показания, независимо от источника (webhook или poll).
// Nullable-поля — указатели: nil не должен затирать сохранённое
// значение при coalesce-upsert.
type DeviceBatch struct {
	DeviceExternalID int64
	DeviceUserID     int64 // аккаунт TLINK, которому пришли данные (для журнала)
	ParentUserID     *string
	Flag             *string
	DeviceName       *string
	DeviceNo         *string
	GroupID          *int64
	Lat              *string
	Lng              *string
	ProductID        *string
	ProductType      *string
	ProtocolLabel    *string
	RawPayload       *string
	PushTime         time.Time // время записи (recordedAt), не часы устройства
	Sensors          []SensorEntry
}

// SensorEntry — каноническое показание одного датчика.
type SensorEntry struct {
	ExternalID  int64
	TypeID      *int64
	Name        *string
	IsLine      *bool
	IsAlarm     *bool
	Unit        *string
	RawValue    *string // reVal / send_value
	ScaledValue *string // value
	Timestamp   *string // время по часам устройства, информационное
}

// Store — контракт идемпотентного хранилища.
type Store interface {
	// StoreBatch пишет device upsert + sensor upserts + reading inserts
	// одной транзакцией и возвращает число реально вставленных показаний
	// (дубликаты не считаются).
	StoreBatch(ctx context.Context, b *DeviceBatch) (int, error)
}

// RemotePayload — ответ TLINK sensor-data API.
type RemotePayload struct {
	Flag     string           `json:"flag"`
	DataList []map[string]any `json:"dataList"`
}
