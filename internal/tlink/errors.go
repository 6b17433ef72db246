package tlink

import "fmt"

// ValidationError — неполный или кривой payload. Бракует только эту
// запись/устройство, проход продолжается; для webhook это 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigError — отсутствующие обязательные настройки. Отключает
// затронутую функцию, перечисляя все недостающие поля.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// RemoteError — отказ TLINK API (транспорт, HTTP-статус или
// бизнес-флаг в теле). Status == 0 — до HTTP дело не дошло.
type RemoteError struct {
	Status int
	Msg    string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("tlink: %s (http %d)", e.Msg, e.Status)
	}
	return "tlink: " + e.Msg
}
