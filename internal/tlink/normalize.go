package tlink

import (
	"strconv"
	"strings"
	"time"
)

// Нормализация двух форм payload (webhook push и ответ облака) в один
// канонический DeviceBatch. Для каждого канонического поля задан
// упорядоченный список ключей-кандидатов; побеждает первый непустой.

// Алиасы webhook-пуша.
var (
	pushDeviceNameKeys    = []string{"deviceName", "device_name"}
	pushDeviceNoKeys      = []string{"deviceNo", "device_no", "rawData"}
	pushGroupIDKeys       = []string{"groupId", "group_id"}
	pushProductIDKeys     = []string{"productId", "product_id"}
	pushProductTypeKeys   = []string{"productType", "product_type"}
	pushProtocolKeys      = []string{"protocolLabel", "protocol_label"}
	pushSensorIDKeys      = []string{"sensorsId", "sensorId", "id"}
	pushSensorTypeKeys    = []string{"sensorsTypeId", "sensorTypeId"}
	pushSensorNameKeys    = []string{"sensorName", "sensor_name"}
	pushSensorAlarmKeys   = []string{"isAlarm", "isAlarms"}
	pushSensorRawValKeys  = []string{"reVal", "send_value"}
	pushSensorTimeKeys    = []string{"times", "updateDate", "heartbeatDate"}
)

// Алиасы записей из sensor-data API.
var (
	remoteDeviceIDKeys    = []string{"id", "deviceId"}
	remoteParentUserKeys  = []string{"parentUserId", "parentUser"}
	remoteSensorIDKeys    = []string{"sensorsId", "sensorId", "id"}
	remoteSensorTypeKeys  = []string{"sensorTypeId"}
	remoteSensorAlarmKeys = []string{"isAlarms"}
	remoteSensorRawKeys   = []string{"send_value", "value"}
	remoteSensorTimeKeys  = []string{"updateDate", "heartbeatDate"}
)

// NormalizePush валидирует webhook-payload и приводит его к батчу.
// Нарушение контракта (пустые deviceId / deviceUserid / sensorsDates)
// — ValidationError, для вызывающего это bad request, не retry.
func NormalizePush(payload map[string]any) (*DeviceBatch, error) {
	deviceID := pickInt64(payload, "deviceId")
	userID := pickInt64(payload, "deviceUserid")
	entries := pickList(payload, "sensorsDates")

	if deviceID == nil || userID == nil || len(entries) == 0 {
		return nil, validationf("deviceId, deviceUserid, and sensorsDates are required")
	}

	pushTime := time.Now().UTC()
	if t := parseTimestamp(pickString(payload, "time")); t != nil {
		pushTime = *t
	}

	b := &DeviceBatch{
		DeviceExternalID: *deviceID,
		DeviceUserID:     *userID,
		ParentUserID:     pickStringPtr(payload, "parentUserId"),
		Flag:             pickStringPtr(payload, "flag"),
		DeviceName:       pickStringAlias(payload, pushDeviceNameKeys),
		DeviceNo:         pickStringAlias(payload, pushDeviceNoKeys),
		GroupID:          pickInt64Alias(payload, pushGroupIDKeys),
		Lat:              pickStringPtr(payload, "lat"),
		Lng:              pickStringPtr(payload, "lng"),
		ProductID:        pickStringAlias(payload, pushProductIDKeys),
		ProductType:      pickStringAlias(payload, pushProductTypeKeys),
		ProtocolLabel:    pickStringAlias(payload, pushProtocolKeys),
		RawPayload:       pickStringPtr(payload, "rawData"),
		PushTime:         pushTime,
	}
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if sensor, ok := normalizePushSensor(entry); ok {
			b.Sensors = append(b.Sensors, sensor)
		}
	}
	return b, nil
}

// normalizePushSensor — один датчик из sensorsDates.
// Запись без распознаваемого идентификатора молча выбрасывается.
func normalizePushSensor(entry map[string]any) (SensorEntry, bool) {
	id := pickInt64Alias(entry, pushSensorIDKeys)
	if id == nil {
		return SensorEntry{}, false
	}
	raw := pickStringAlias(entry, pushSensorRawValKeys)
	scaled := pickStringPtr(entry, "value")
	if raw == nil {
		raw = scaled
	}
	return SensorEntry{
		ExternalID:  *id,
		TypeID:      pickInt64Alias(entry, pushSensorTypeKeys),
		Name:        pickStringAlias(entry, pushSensorNameKeys),
		IsLine:      pickBool(entry, "isLine"),
		IsAlarm:     pickBoolAlias(entry, pushSensorAlarmKeys),
		Unit:        pickStringPtr(entry, "unit"),
		RawValue:    raw,
		ScaledValue: scaled,
		Timestamp:   pickStringAlias(entry, pushSensorTimeKeys),
	}, true
}

// NormalizeRemoteDevice приводит запись из dataList к батчу.
// Неразрешимый идентификатор устройства оставляет DeviceExternalID == 0;
// решать, браковать ли батч, — дело оркестратора (журнал, не паника).
func NormalizeRemoteDevice(device map[string]any, defaultUserID int64, defaultFlag string) *DeviceBatch {
	b := &DeviceBatch{
		DeviceUserID:  defaultUserID,
		ParentUserID:  pickStringAlias(device, remoteParentUserKeys),
		DeviceName:    pickStringAlias(device, pushDeviceNameKeys),
		DeviceNo:      pickStringAlias(device, []string{"deviceNo", "device_no"}),
		GroupID:       pickInt64Alias(device, pushGroupIDKeys),
		Lat:           pickStringPtr(device, "lat"),
		Lng:           pickStringPtr(device, "lng"),
		ProductID:     pickStringAlias(device, pushProductIDKeys),
		ProductType:   pickStringAlias(device, pushProductTypeKeys),
		ProtocolLabel: pickStringAlias(device, pushProtocolKeys),
		RawPayload:    pickStringPtr(device, "deviceNo"),
	}
	if id := pickInt64Alias(device, remoteDeviceIDKeys); id != nil {
		b.DeviceExternalID = *id
	}
	if uid := pickInt64(device, "userId"); uid != nil {
		b.DeviceUserID = *uid
	}

	flag := pickString(device, "flag")
	if flag == "" {
		flag = defaultFlag
	}
	if flag == "" {
		flag = "sync"
	}
	b.Flag = &flag

	for _, raw := range pickList(device, "sensorsList") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if sensor, ok := normalizeRemoteSensor(entry); ok {
			b.Sensors = append(b.Sensors, sensor)
		}
	}

	// Время записи: updateDate устройства, иначе createDate,
	// иначе время первого датчика, иначе сейчас.
	baseTime := pickString(device, "updateDate")
	if baseTime == "" {
		baseTime = pickString(device, "createDate")
	}
	if baseTime == "" && len(b.Sensors) > 0 && b.Sensors[0].Timestamp != nil {
		baseTime = *b.Sensors[0].Timestamp
	}
	if t := parseTimestamp(baseTime); t != nil {
		b.PushTime = *t
	} else {
		b.PushTime = time.Now().UTC()
	}
	return b
}

func normalizeRemoteSensor(sensor map[string]any) (SensorEntry, bool) {
	id := pickInt64Alias(sensor, remoteSensorIDKeys)
	if id == nil {
		return SensorEntry{}, false
	}
	return SensorEntry{
		ExternalID:  *id,
		TypeID:      pickInt64Alias(sensor, remoteSensorTypeKeys),
		Name:        pickStringAlias(sensor, pushSensorNameKeys),
		IsLine:      pickBool(sensor, "isLine"),
		IsAlarm:     pickBoolAlias(sensor, remoteSensorAlarmKeys),
		Unit:        pickStringPtr(sensor, "unit"),
		RawValue:    pickStringAlias(sensor, remoteSensorRawKeys),
		ScaledValue: pickStringPtr(sensor, "value"),
		Timestamp:   pickStringAlias(sensor, remoteSensorTimeKeys),
	}, true
}

// ───────────────────────── выбор и приведение полей ─────────────────────────

func firstPresent(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func pickList(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func pickString(m map[string]any, key string) string {
	if p := pickStringPtr(m, key); p != nil {
		return *p
	}
	return ""
}

func pickStringPtr(m map[string]any, key string) *string {
	return asStringPtr(firstPresent(m, []string{key}))
}

func pickStringAlias(m map[string]any, keys []string) *string {
	return asStringPtr(firstPresent(m, keys))
}

func pickInt64(m map[string]any, key string) *int64 {
	return asInt64(firstPresent(m, []string{key}))
}

func pickInt64Alias(m map[string]any, keys []string) *int64 {
	return asInt64(firstPresent(m, keys))
}

func pickBool(m map[string]any, key string) *bool {
	return asBool(firstPresent(m, []string{key}))
}

func pickBoolAlias(m map[string]any, keys []string) *bool {
	return asBool(firstPresent(m, keys))
}

func asStringPtr(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		return nil
	}
}

func asInt64(v any) *int64 {
	switch t := v.(type) {
	case float64:
		n := int64(t)
		if n == 0 {
			return nil
		}
		return &n
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil && n != 0 {
			return &n
		}
	}
	return nil
}

func asBool(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case float64:
		b := t != 0
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "t", "yes":
			b := true
			return &b
		case "0", "false", "f", "no":
			b := false
			return &b
		}
	}
	return nil
}

// parseTimestamp понимает форматы, которыми TLINK отдаёт время.
func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
