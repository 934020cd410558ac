// Package util содержит транспортные обертки, не являющиеся частью публичного API.
package util

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// VendorID и ProductID - идентификаторы DATAQ DI-2008 на шине USB.
	VendorID  = 0x0683
	ProductID = 0x2008

	DefaultBaudRate = 115200
)

// Transport определяет байтовый дуплексный канал к прибору.
// Это позволяет нам использовать реальный порт в production и мок-объект в тестах.
// Read по истечении таймаута возвращает 0, nil: отсутствие данных не является ошибкой.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Candidate - найденное на шине устройство, которое еще не открыто.
type Candidate struct {
	Name   string
	Serial string // серийный номер из дескриптора USB, если ОС его сообщает
	Open   func() (Transport, error)
}

// realPort - это обертка над реальной реализацией последовательного порта.
type realPort struct {
	port serial.Port
}

func (r *realPort) Read(p []byte) (n int, err error)    { return r.port.Read(p) }
func (r *realPort) Write(p []byte) (n int, err error)   { return r.port.Write(p) }
func (r *realPort) Close() error                        { return r.port.Close() }
func (r *realPort) SetReadTimeout(t time.Duration) error { return r.port.SetReadTimeout(t) }

// OpenSerial открывает реальный последовательный порт.
func OpenSerial(path string, baudRate int) (Transport, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("сброс входного буфера %s: %w", path, err)
	}
	return &realPort{port: p}, nil
}

// SerialCandidates перечисляет виртуальные COM-порты, за которыми стоит
// устройство DATAQ (VID 0683).
func SerialCandidates() ([]Candidate, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("перечисление последовательных портов: %w", err)
	}

	vid := fmt.Sprintf("%04x", VendorID)
	var out []Candidate
	for _, p := range ports {
		if !p.IsUSB || !strings.EqualFold(p.VID, vid) {
			continue
		}
		name := p.Name
		out = append(out, Candidate{
			Name:   name,
			Serial: p.SerialNumber,
			Open:   func() (Transport, error) { return OpenSerial(name, DefaultBaudRate) },
		})
	}
	return out, nil
}
