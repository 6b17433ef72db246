package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tlsync/internal/models"
	"tlsync/internal/tlink"
)

// TelemetryStore — gorm-хранилище устройств/датчиков/показаний.
type TelemetryStore struct {
	db *gorm.DB
}

func NewTelemetryStore(db *gorm.DB) *TelemetryStore {
	return &TelemetryStore{db: db}
}

// StoreBatch пишет весь батч устройства одной транзакцией:
// device upsert → sensor upserts → reading inserts. Откат рушит только
// этот батч, уже закоммиченные устройства прохода не трогает.
func (s *TelemetryStore) StoreBatch(ctx context.Context, b *tlink.DeviceBatch) (int, error) {
	stored := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := s.upsertDevice(tx, b)
		if err != nil {
			return err
		}
		for _, e := range b.Sensors {
			sen, err := s.upsertSensor(tx, dev.ID, e, b.PushTime)
			if err != nil {
				return err
			}
			inserted, err := s.insertReading(tx, sen.ID, e, b)
			if err != nil {
				return err
			}
			if inserted {
				stored++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// upsertDevice: вставка при отсутствии, иначе coalesce-merge — каждое
// не-nil входное поле перекрывает, nil оставляет сохранённое как есть.
func (s *TelemetryStore) upsertDevice(tx *gorm.DB, b *tlink.DeviceBatch) (*models.Device, error) {
	push := b.PushTime.UTC().Truncate(time.Second)
	var owner *string
	if b.DeviceUserID != 0 {
		v := fmt.Sprintf("%d", b.DeviceUserID)
		owner = &v
	}

	var m models.Device
	err := tx.Where("external_id = ?", b.DeviceExternalID).First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.Device{
			ExternalID:     b.DeviceExternalID,
			OwnerUserID:    owner,
			ParentUserID:   b.ParentUserID,
			DeviceName:     b.DeviceName,
			DeviceNo:       b.DeviceNo,
			GroupID:        b.GroupID,
			Lat:            b.Lat,
			Lng:            b.Lng,
			ProductID:      b.ProductID,
			ProductType:    b.ProductType,
			ProtocolLabel:  b.ProtocolLabel,
			LastFlag:       b.Flag,
			LastRawPayload: b.RawPayload,
			LastPushTime:   &push,
		}
		if err := tx.Create(&m).Error; err != nil {
			return nil, fmt.Errorf("create device %d: %w", b.DeviceExternalID, err)
		}
		return &m, nil
	case err != nil:
		return nil, fmt.Errorf("find device %d: %w", b.DeviceExternalID, err)
	}

	updates := map[string]any{"last_push_time": push}
	putStr(updates, "user_id", owner)
	putStr(updates, "parent_user_id", b.ParentUserID)
	putStr(updates, "device_name", b.DeviceName)
	putStr(updates, "device_no", b.DeviceNo)
	putInt(updates, "group_id", b.GroupID)
	putStr(updates, "lat", b.Lat)
	putStr(updates, "lng", b.Lng)
	putStr(updates, "product_id", b.ProductID)
	putStr(updates, "product_type", b.ProductType)
	putStr(updates, "protocol_label", b.ProtocolLabel)
	putStr(updates, "last_flag", b.Flag)
	putStr(updates, "last_raw_payload", b.RawPayload)
	if err := tx.Model(&m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update device %d: %w", b.DeviceExternalID, err)
	}
	return &m, nil
}

func (s *TelemetryStore) upsertSensor(tx *gorm.DB, deviceID uint, e tlink.SensorEntry, push time.Time) (*models.Sensor, error) {
	recorded := push.UTC().Truncate(time.Second)
	latest := e.ScaledValue
	if latest == nil {
		latest = e.RawValue
	}

	var m models.Sensor
	err := tx.Where("device_id = ? AND external_id = ?", deviceID, e.ExternalID).First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.Sensor{
			DeviceID:         deviceID,
			ExternalID:       e.ExternalID,
			SensorTypeID:     e.TypeID,
			SensorName:       e.Name,
			IsLine:           e.IsLine,
			IsAlarm:          e.IsAlarm,
			Unit:             e.Unit,
			LatestValue:      latest,
			LatestRecordedAt: &recorded,
		}
		if err := tx.Create(&m).Error; err != nil {
			return nil, fmt.Errorf("create sensor %d/%d: %w", deviceID, e.ExternalID, err)
		}
		return &m, nil
	case err != nil:
		return nil, fmt.Errorf("find sensor %d/%d: %w", deviceID, e.ExternalID, err)
	}

	updates := map[string]any{"latest_recorded_at": recorded}
	putInt(updates, "sensor_type_id", e.TypeID)
	putStr(updates, "sensor_name", e.Name)
	putBool(updates, "is_line", e.IsLine)
	putBool(updates, "is_alarm", e.IsAlarm)
	putStr(updates, "unit", e.Unit)
	putStr(updates, "latest_value", latest)
	if err := tx.Model(&m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update sensor %d/%d: %w", deviceID, e.ExternalID, err)
	}
	return &m, nil
}

// insertReading — вставка при отсутствии по ключу (sensor_id, recorded_at).
// Конфликт молча игнорируется: повторные push/poll не плодят строк.
func (s *TelemetryStore) insertReading(tx *gorm.DB, sensorID uint, e tlink.SensorEntry, b *tlink.DeviceBatch) (bool, error) {
	row := models.SensorReading{
		SensorID:        sensorID,
		RecordedAt:      b.PushTime.UTC().Truncate(time.Second),
		SensorTimestamp: e.Timestamp,
		IsAlarm:         e.IsAlarm,
		IsLine:          e.IsLine,
		RawValue:        e.RawValue,
		ScaledValue:     e.ScaledValue,
		RawPayload:      b.RawPayload,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor_id"}, {Name: "recorded_at"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert reading sensor=%d: %w", sensorID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func putStr(m map[string]any, col string, v *string) {
	if v != nil {
		m[col] = *v
	}
}

func putInt(m map[string]any, col string, v *int64) {
	if v != nil {
		m[col] = *v
	}
}

func putBool(m map[string]any, col string, v *bool) {
	if v != nil {
		m[col] = *v
	}
}
