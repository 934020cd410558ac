package di2008

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/momentics/godi2008/internal/util"
)

func mockCandidate(name string, port *MockSerialPort) util.Candidate {
	return util.Candidate{Name: name, Open: func() (util.Transport, error) { return port, nil }}
}

func TestQuerySerialNumber(t *testing.T) {
	mock := &MockSerialPort{}
	mock.SetReadData([]byte("stop\r\x00\x00info 6 5C76AEFA\r"))

	got, err := QuerySerialNumber(mock, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("QuerySerialNumber failed: %v", err)
	}
	if got != "5C76AEFA" {
		t.Errorf("serial %q, want 5C76AEFA", got)
	}
	if sent := mock.Sent(); len(sent) != 2 || sent[0] != "stop" || sent[1] != "info 6" {
		t.Errorf("sent %q", sent)
	}
}

func TestQuerySerialNumber_Timeout(t *testing.T) {
	_, err := QuerySerialNumber(&MockSerialPort{}, 20*time.Millisecond)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestSelectDevice_MatchesSerialCaseInsensitive(t *testing.T) {
	first := &MockSerialPort{}
	first.SetReadData([]byte("info 6 00000001\r"))
	second := &MockSerialPort{}
	second.SetReadData([]byte("info 6 5C76AEFA\r"))

	cands := []util.Candidate{
		{Name: "broken", Open: func() (util.Transport, error) { return nil, errors.New("busy") }},
		mockCandidate("first", first),
		mockCandidate("second", second),
	}
	tr, name, err := selectDevice(context.Background(), cands, "5c76aefa", quietLogger())
	if err != nil {
		t.Fatalf("selectDevice failed: %v", err)
	}
	if name != "second" || tr != util.Transport(second) {
		t.Errorf("selected %q", name)
	}
	if !first.Closed() {
		t.Error("non-matching candidate must be closed")
	}
	if second.Closed() {
		t.Error("selected candidate must stay open")
	}
}

func TestSelectDevice_NotFound(t *testing.T) {
	only := &MockSerialPort{}
	only.SetReadData([]byte("info 6 00000001\r"))

	_, _, err := selectDevice(context.Background(), []util.Candidate{mockCandidate("only", only)}, "5C76AEFA", quietLogger())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("got %v, want ErrDeviceNotFound", err)
	}
	if _, _, err := selectDevice(context.Background(), nil, "", quietLogger()); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("no candidates: got %v, want ErrDeviceNotFound", err)
	}
}

func TestSelectDevice_FirstWithoutSerial(t *testing.T) {
	a, b := &MockSerialPort{}, &MockSerialPort{}
	_, name, err := selectDevice(context.Background(), []util.Candidate{mockCandidate("a", a), mockCandidate("b", b)}, "", quietLogger())
	if err != nil || name != "a" {
		t.Fatalf("got %q, %v; want a", name, err)
	}
	if len(a.Sent()) != 0 {
		t.Error("no query expected without serial number")
	}
}

func TestSelectDevice_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := selectDevice(ctx, []util.Candidate{mockCandidate("a", &MockSerialPort{})}, "", quietLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
