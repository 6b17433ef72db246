package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"tlsync/internal/models"
)

// Read-сторона для API. Не часть конвейера синхронизации.

func (s *TelemetryStore) FindDeviceByExternalID(externalID int64) (*models.Device, bool, error) {
	var m models.Device
	err := s.db.Where("external_id = ?", externalID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

func (s *TelemetryStore) CountDevices(ownerID *string, externalID *int64) (int64, error) {
	q := s.db.Model(&models.Device{})
	if ownerID != nil {
		q = q.Where("user_id = ?", *ownerID)
	}
	if externalID != nil {
		q = q.Where("external_id = ?", *externalID)
	}
	var n int64
	return n, q.Count(&n).Error
}

func (s *TelemetryStore) ListDevices(ownerID *string, externalID *int64, limit, offset int) ([]models.Device, error) {
	q := s.db.Model(&models.Device{})
	if ownerID != nil {
		q = q.Where("user_id = ?", *ownerID)
	}
	if externalID != nil {
		q = q.Where("external_id = ?", *externalID)
	}
	var out []models.Device
	err := q.Order("external_id ASC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func (s *TelemetryStore) ListSensors(deviceID uint) ([]models.Sensor, error) {
	var out []models.Sensor
	err := s.db.Where("device_id = ?", deviceID).Order("external_id ASC").Find(&out).Error
	return out, err
}

// SensorHistory — последние показания датчика, новые сверху.
func (s *TelemetryStore) SensorHistory(sensorID uint, start, end *time.Time, limit int) ([]models.SensorReading, error) {
	q := s.db.Where("sensor_id = ?", sensorID)
	if start != nil {
		q = q.Where("recorded_at >= ?", start.UTC())
	}
	if end != nil {
		q = q.Where("recorded_at <= ?", end.UTC())
	}
	var out []models.SensorReading
	err := q.Order("recorded_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// FindSensorWithDevice ищет датчик по внешнему id (первое совпадение)
// вместе с его устройством. Нужен экспорту снапшотов.
func (s *TelemetryStore) FindSensorWithDevice(sensorExternalID int64) (*models.Sensor, *models.Device, bool, error) {
	var sen models.Sensor
	err := s.db.Where("external_id = ?", sensorExternalID).Order("id ASC").First(&sen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	var dev models.Device
	if err := s.db.First(&dev, sen.DeviceID).Error; err != nil {
		return nil, nil, false, err
	}
	return &sen, &dev, true, nil
}

func (s *TelemetryStore) LatestReading(sensorID uint) (*models.SensorReading, bool, error) {
	var m models.SensorReading
	err := s.db.Where("sensor_id = ?", sensorID).Order("recorded_at DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &m, true, nil
}
