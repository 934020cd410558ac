package di2008

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedPort  = errors.New("тип порта не поддерживается")
	ErrScanListTooLong  = fmt.Errorf("список сканирования длиннее %d элементов", MaxScanList)
	ErrInvalidPort      = errors.New("элемент списка сканирования не является портом")
	ErrDeviceNotFound   = errors.New("DI-2008 не найден на шине")
	ErrIdentityMismatch = errors.New("устройство не опознано как DATAQ DI-2008")
	ErrProtocol         = errors.New("ошибка протокола")
	ErrClosed           = errors.New("сессия закрыта")
)

// ConfigError описывает некорректный параметр, обнаруженный при создании
// порта или команды. Возникает синхронно и никогда - в фоновом цикле.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("некорректный параметр %s=%v: %s", e.Field, e.Value, e.Reason)
}

func configErr(field string, value interface{}, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}
