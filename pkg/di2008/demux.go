// Этот файл содержит разбор входящего потока: двоичные отсчеты в режиме
// сканирования и текстовые ответы в командном режиме.
package di2008

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	expectedManufacturer = "DATAQ"
	expectedProductID    = "2008"

	maxLine = 4096
)

func (i *Instrument) receive(data []byte) {
	if i.Scanning() {
		i.receiveScan(data)
		return
	}
	i.receiveText(data)
}

// receiveScan раскладывает 16-битные отсчеты (little-endian) по портам
// списка сканирования по кругу. Непарный байт ждет следующей порции.
func (i *Instrument) receiveScan(data []byte) {
	i.pending = append(i.pending, data...)

	i.mu.RLock()
	ports := i.ports
	i.mu.RUnlock()
	if len(ports) == 0 {
		i.log.Warnf("получено %d байт при пустом списке сканирования", len(i.pending))
		i.pending = i.pending[:0]
		return
	}
	if i.cursor >= len(ports) {
		i.cursor = 0
	}

	n := len(i.pending) / 2
	for k := 0; k < n; k++ {
		raw := int16(binary.LittleEndian.Uint16(i.pending[2*k:]))
		i.dispatch(ports[i.cursor], raw)
		i.cursor = (i.cursor + 1) % len(ports)
	}
	i.pending = append(i.pending[:0], i.pending[2*n:]...)
}

func (i *Instrument) dispatch(p *Port, raw int16) {
	if p.kind == KindDigital {
		i.dio.applyInputs(uint16(raw))
	}
	_, ok := p.decode(raw)
	i.metrics.sample(p.kind, ok)
}

// receiveText собирает строки ответов. Нулевые байты, которыми транспорт
// дополняет пакеты, отбрасываются.
func (i *Instrument) receiveText(data []byte) {
	for _, b := range data {
		if b != 0 {
			i.text = append(i.text, b)
		}
	}

	for {
		end := bytes.IndexAny(i.text, "\r\n")
		if end < 0 {
			break
		}
		line := strings.TrimSpace(string(i.text[:end]))
		i.text = append(i.text[:0], i.text[end+1:]...)
		if line != "" {
			i.handleLine(line)
		}
	}

	if len(i.text) > maxLine {
		i.log.Warnf("%v: строка без терминатора длиннее %d байт отброшена", ErrProtocol, maxLine)
		i.metrics.protocolError()
		i.text = i.text[:0]
	}
}

func (i *Instrument) handleLine(line string) {
	i.log.Debugf("получено сообщение %q", line)
	switch {
	case strings.Contains(line, "info"):
		i.handleInfo(line)
	case strings.Contains(line, "din"):
		i.handleDin(line)
	case strings.Contains(line, "stop"):
		i.setScanning(false)
		i.log.Info("прибор подтвердил остановку сканирования")
	case strings.Contains(line, "ps"):
		i.handlePacketSize(line)
	default:
		i.log.Infof("сообщение не распознано: %q", line)
	}
}

func (i *Instrument) handleInfo(line string) {
	fields := strings.Fields(line[strings.Index(line, "info")+len("info"):])
	if len(fields) == 0 {
		i.log.Warnf("сообщение не понято: %q", line)
		return
	}
	value := strings.Join(fields[1:], " ")

	switch fields[0] {
	case "0":
		i.mu.Lock()
		i.identity.Manufacturer = value
		i.mu.Unlock()
		if value != expectedManufacturer {
			i.release(fmt.Errorf("%w: производитель %q", ErrIdentityMismatch, value))
		}
	case "1":
		i.mu.Lock()
		i.identity.ProductID = value
		i.mu.Unlock()
		if value != expectedProductID {
			i.release(fmt.Errorf("%w: модель %q", ErrIdentityMismatch, value))
		}
	case "2":
		i.mu.Lock()
		i.identity.Firmware = value
		i.mu.Unlock()
	case "6":
		i.mu.Lock()
		i.identity.SerialNumber = value
		i.mu.Unlock()
		i.log.Infof("серийный номер %s", value)
	default:
		i.log.Warnf("сообщение не понято: %q", line)
	}
}

// handleDin применяет слово дискретных входов к каналам, настроенным на ввод.
func (i *Instrument) handleDin(line string) {
	fields := strings.Fields(line)
	word, err := strconv.ParseUint(fields[len(fields)-1], 10, 16)
	if err != nil {
		i.log.Warnf("%v: не удалось разобрать ответ din %q: %v", ErrProtocol, line, err)
		i.metrics.protocolError()
		return
	}
	i.dio.applyInputs(uint16(word))
}

func (i *Instrument) handlePacketSize(line string) {
	fields := strings.Fields(line)
	id, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || id < 0 || id >= len(packetSizes) {
		i.log.Infof("подтверждение ps не распознано: %q", line)
		return
	}
	i.log.Debugf("размер пакета %d байт", packetSizes[id])
}
