package di2008

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/godi2008/internal/util"
)

const queryTimeout = 500 * time.Millisecond

// Open находит прибор, открывает транспорт и запускает фоновый цикл опроса.
func Open(ctx context.Context, cfg Config) (*Instrument, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	cands, err := Candidates(cfg)
	if err != nil {
		return nil, err
	}
	t, name, err := selectDevice(ctx, cands, cfg.SerialNumber, cfg.Logger)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Infof("найден прибор DATAQ на %s", name)

	i, err := newInstrument(t, name, cfg)
	if err != nil {
		t.Close()
		return nil, err
	}
	go i.run()
	return i, nil
}

// Candidates перечисляет устройства, к которым может подключиться Open.
func Candidates(cfg Config) ([]util.Candidate, error) {
	if cfg.PortName != "" {
		name := cfg.PortName
		return []util.Candidate{{
			Name: name,
			Open: func() (util.Transport, error) { return util.OpenSerial(name, util.DefaultBaudRate) },
		}}, nil
	}
	if cfg.UseUSB {
		return util.USBCandidates()
	}
	return util.SerialCandidates()
}

// selectDevice открывает кандидатов по очереди. Если задан серийный номер,
// каждый кандидат опрашивается командой info 6 и сравнивается без учета регистра.
func selectDevice(ctx context.Context, cands []util.Candidate, serial string, log *logrus.Entry) (util.Transport, string, error) {
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		t, err := c.Open()
		if err != nil {
			log.Warnf("не удалось открыть %s: %v", c.Name, err)
			continue
		}
		if serial == "" {
			return t, c.Name, nil
		}

		got, err := QuerySerialNumber(t, queryTimeout)
		if err == nil && strings.EqualFold(got, serial) {
			return t, c.Name, nil
		}
		if err != nil {
			log.Warnf("%s: %v", c.Name, err)
		} else {
			log.Debugf("%s: серийный номер %s не совпадает", c.Name, got)
		}
		t.Close()
	}
	if serial != "" {
		return nil, "", fmt.Errorf("%w (серийный номер %q)", ErrDeviceNotFound, serial)
	}
	return nil, "", ErrDeviceNotFound
}

// QuerySerialNumber синхронно запрашивает info 6 у еще не запущенного прибора.
func QuerySerialNumber(t util.Transport, timeout time.Duration) (string, error) {
	if err := t.SetReadTimeout(10 * time.Millisecond); err != nil {
		return "", err
	}
	if _, err := t.Write([]byte("stop\rinfo 6\r")); err != nil {
		return "", fmt.Errorf("отправка info 6: %w", err)
	}

	var acc []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := t.Read(buf)
		for _, b := range buf[:n] {
			if b != 0 {
				acc = append(acc, b)
			}
		}
		for {
			end := bytes.IndexAny(acc, "\r\n")
			if end < 0 {
				break
			}
			line := string(acc[:end])
			acc = acc[end+1:]
			if idx := strings.Index(line, "info 6"); idx >= 0 {
				return strings.TrimSpace(line[idx+len("info 6"):]), nil
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("чтение ответа info 6: %w", err)
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return "", fmt.Errorf("%w: нет ответа на info 6", ErrProtocol)
}
