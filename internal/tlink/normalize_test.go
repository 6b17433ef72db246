package tlink

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return m
}

func TestNormalizePush(t *testing.T) {
	payload := decode(t, `{
		"deviceId": 42,
		"deviceUserid": 7,
		"deviceName": "Tank A",
		"time": "2024-01-01 00:00:00",
		"sensorsDates": [
			{"sensorsId": 1, "value": "12.5", "reVal": "12.50", "unit": "cm", "isAlarm": 0, "times": "2024-01-01 00:00:00"},
			{"id": 2, "value": "3.3"},
			{"value": "no id, dropped"}
		]
	}`)

	b, err := NormalizePush(payload)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if b.DeviceExternalID != 42 || b.DeviceUserID != 7 {
		t.Fatalf("ids = %d/%d", b.DeviceExternalID, b.DeviceUserID)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !b.PushTime.Equal(want) {
		t.Fatalf("push time = %v, want %v", b.PushTime, want)
	}
	if len(b.Sensors) != 2 {
		t.Fatalf("sensors = %d, want 2 (entry without id dropped)", len(b.Sensors))
	}

	s := b.Sensors[0]
	if s.ExternalID != 1 {
		t.Fatalf("sensor id = %d", s.ExternalID)
	}
	if s.RawValue == nil || *s.RawValue != "12.50" {
		t.Fatalf("raw value = %+v, want reVal", s.RawValue)
	}
	if s.ScaledValue == nil || *s.ScaledValue != "12.5" {
		t.Fatalf("scaled value = %+v", s.ScaledValue)
	}
	if s.IsAlarm == nil || *s.IsAlarm {
		t.Fatalf("isAlarm = %+v, want false", s.IsAlarm)
	}

	// reVal отсутствует — raw падает на value
	s2 := b.Sensors[1]
	if s2.ExternalID != 2 {
		t.Fatalf("sensor id fallback = %d, want id alias", s2.ExternalID)
	}
	if s2.RawValue == nil || *s2.RawValue != "3.3" {
		t.Fatalf("raw fallback = %+v", s2.RawValue)
	}
}

func TestNormalizePushValidation(t *testing.T) {
	for name, raw := range map[string]string{
		"missing device": `{"deviceUserid": 7, "sensorsDates": [{"sensorsId": 1}]}`,
		"missing user":   `{"deviceId": 42, "sensorsDates": [{"sensorsId": 1}]}`,
		"no sensors":     `{"deviceId": 42, "deviceUserid": 7}`,
		"zero device":    `{"deviceId": 0, "deviceUserid": 7, "sensorsDates": [{"sensorsId": 1}]}`,
	} {
		_, err := NormalizePush(decode(t, raw))
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("%s: err = %v, want ValidationError", name, err)
		}
	}
}

func TestNormalizeRemoteDevice(t *testing.T) {
	device := decode(t, `{
		"id": 42,
		"deviceName": "Tank A",
		"updateDate": "2024-01-01 00:00:00",
		"sensorsList": [
			{"sensorsId": 1, "value": "12.5", "send_value": "12.50", "isAlarms": "1"},
			{"junk": true}
		]
	}`)

	b := NormalizeRemoteDevice(device, 7, "00")
	if b.DeviceExternalID != 42 || b.DeviceUserID != 7 {
		t.Fatalf("ids = %d/%d", b.DeviceExternalID, b.DeviceUserID)
	}
	if b.Flag == nil || *b.Flag != "00" {
		t.Fatalf("flag = %+v", b.Flag)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !b.PushTime.Equal(want) {
		t.Fatalf("push time = %v", b.PushTime)
	}
	if len(b.Sensors) != 1 {
		t.Fatalf("sensors = %d, want 1", len(b.Sensors))
	}
	s := b.Sensors[0]
	if s.RawValue == nil || *s.RawValue != "12.50" {
		t.Fatalf("raw = %+v, want send_value", s.RawValue)
	}
	if s.IsAlarm == nil || !*s.IsAlarm {
		t.Fatalf("isAlarms = %+v, want true", s.IsAlarm)
	}
}

func TestNormalizeRemoteDeviceFallbacks(t *testing.T) {
	// идентификатор не разрешается — батч помечен нулём, не отброшен
	b := NormalizeRemoteDevice(decode(t, `{"deviceName": "x"}`), 7, "")
	if b.DeviceExternalID != 0 {
		t.Fatalf("unresolved id must stay 0, got %d", b.DeviceExternalID)
	}
	if b.Flag == nil || *b.Flag != "sync" {
		t.Fatalf("flag fallback = %+v, want sync", b.Flag)
	}

	// без updateDate время берётся из первого датчика
	b = NormalizeRemoteDevice(decode(t, `{
		"deviceId": 5,
		"sensorsList": [{"sensorsId": 1, "updateDate": "2024-02-02 10:00:00"}]
	}`), 7, "00")
	want := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	if !b.PushTime.Equal(want) {
		t.Fatalf("push time = %v, want sensor timestamp", b.PushTime)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, raw := range []string{
		"2024-01-02 03:04:05",
		"2024/01/02 03:04:05",
		"2024-01-02T03:04:05",
		"2024-01-02T03:04:05Z",
	} {
		got := parseTimestamp(raw)
		if got == nil || !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", raw, got, want)
		}
	}
	if parseTimestamp("not a time") != nil {
		t.Errorf("garbage must parse to nil")
	}
}

func TestAsInt64TreatsZeroAsMissing(t *testing.T) {
	if asInt64(float64(0)) != nil {
		t.Fatalf("zero must be treated as absent")
	}
	if asInt64("0") != nil {
		t.Fatalf("string zero must be treated as absent")
	}
	if v := asInt64("42"); v == nil || *v != 42 {
		t.Fatalf("string int = %+v", v)
	}
}
