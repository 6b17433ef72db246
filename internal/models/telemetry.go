package models

import (
	"time"

	"gorm.io/gorm"
)

// Device — устройство TLINK. ExternalID назначается облаком и служит
// единственным ключом дедупликации для обоих путей инжеста.
// Nullable-поля держим указателями: nil во входных данных никогда не
// затирает уже известное значение (coalesce-upsert).
type Device struct {
	gorm.Model
	ExternalID     int64   `gorm:"column:external_id;uniqueIndex"`
	OwnerUserID    *string `gorm:"column:user_id;index"`
	ParentUserID   *string `gorm:"column:parent_user_id"`
	DeviceName     *string
	DeviceNo       *string
	GroupID        *int64
	Lat            *string
	Lng            *string
	ProductID      *string
	ProductType    *string
	ProtocolLabel  *string
	LastFlag       *string
	LastRawPayload *string
	LastPushTime   *time.Time
}

// Sensor — датчик устройства. Уникален в паре (device_id, external_id).
type Sensor struct {
	gorm.Model
	DeviceID         uint  `gorm:"index:idx_sensor_identity,unique,priority:1"`
	ExternalID       int64 `gorm:"column:external_id;index:idx_sensor_identity,unique,priority:2"`
	SensorTypeID     *int64
	SensorName       *string
	IsLine           *bool
	IsAlarm          *bool
	Unit             *string
	LatestValue      *string
	LatestRecordedAt *time.Time
}

// SensorReading — неизменяемая строка истории. Пара (sensor_id,
// recorded_at) уникальна; повторная вставка молча игнорируется.
type SensorReading struct {
	ID              uint      `gorm:"primaryKey"`
	CreatedAt       time.Time
	SensorID        uint      `gorm:"index:idx_reading_identity,unique,priority:1"`
	RecordedAt      time.Time `gorm:"index:idx_reading_identity,unique,priority:2"`
	SensorTimestamp *string
	IsAlarm         *bool
	IsLine          *bool
	RawValue        *string
	ScaledValue     *string
	RawPayload      *string
}
