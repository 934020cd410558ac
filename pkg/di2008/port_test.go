package di2008

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestAnalogPort_VoltageDecode(t *testing.T) {
	ranges := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 25.0, 50.0}
	raws := []int16{-32768, -16384, -1, 0, 1, 12345, 16384, 32767}

	for _, r := range ranges {
		p := voltagePort(t, 1, r)
		for _, x := range raws {
			got, ok := p.decode(x)
			want := r * float64(x) / 32768.0
			if !ok || math.Abs(got-want) > 1e-9 {
				t.Errorf("range %g raw %d: got %v, want %v", r, x, got, want)
			}
		}
	}

	p := voltagePort(t, 1, 10)
	if got, _ := p.decode(16384); got != 5.0 {
		t.Errorf("range 10 raw 16384 = %v, want 5.0", got)
	}
}

func TestAnalogPort_ConfigWord(t *testing.T) {
	tests := []struct {
		name string
		cfg  AnalogConfig
		want uint16
	}{
		{"10V channel 1", AnalogConfig{Channel: 1, Range: 10}, 1<<rangeBit | 2<<scaleBit},
		{"25mV channel 3", AnalogConfig{Channel: 3, Range: 0.025}, 2 | 4<<scaleBit},
		{"500mV channel 8", AnalogConfig{Channel: 8, Range: 0.5}, 7},
		{"1V channel 2", AnalogConfig{Channel: 2, Range: 1}, 1 | 1<<rangeBit | 5<<scaleBit},
		{"type J channel 2", AnalogConfig{Channel: 2, Thermocouple: "j"}, 1 | 1<<modeBit | 2<<scaleBit},
		{"type T upper case", AnalogConfig{Channel: 1, Thermocouple: "T"}, 1<<modeBit | 7<<scaleBit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewAnalogPort(tt.cfg)
			if err != nil {
				t.Fatalf("NewAnalogPort failed: %v", err)
			}
			if p.Config() != tt.want {
				t.Errorf("config = %#x, want %#x", p.Config(), tt.want)
			}
		})
	}
}

func TestAnalogPort_ConfigIsRepeatable(t *testing.T) {
	cfg := AnalogConfig{Channel: 4, Range: 2.5, Filter: FilterMaximum, Decimation: 100}
	a, _ := NewAnalogPort(cfg)
	b, _ := NewAnalogPort(cfg)
	if a.Config() != b.Config() || !reflect.DeepEqual(a.Commands(), b.Commands()) {
		t.Errorf("same arguments produced %#x %q and %#x %q", a.Config(), a.Commands(), b.Config(), b.Commands())
	}
	la, _ := CompileScanList([]*Port{a})
	lb, _ := CompileScanList([]*Port{b})
	if !reflect.DeepEqual(la, lb) {
		t.Errorf("compiled lists differ: %q vs %q", la, lb)
	}
}

func TestAnalogPort_Commands(t *testing.T) {
	p, err := NewAnalogPort(AnalogConfig{Channel: 3, Range: 5, Filter: FilterAverage})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"filter 3 1", "dec 10"}
	if got := p.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands %q, want %q", got, want)
	}
}

func TestAnalogPort_Thermocouple(t *testing.T) {
	var calls []float64
	p, err := NewAnalogPort(AnalogConfig{Channel: 1, Thermocouple: "j"}, WithLogger(quietLogger()), WithCallback(func(v float64) { calls = append(calls, v) }))
	if err != nil {
		t.Fatal(err)
	}

	if got, ok := p.decode(0); !ok || got != 495.0 {
		t.Errorf("raw 0 = %v, want 495", got)
	}
	if got, _ := p.decode(1000); math.Abs(got-(1000*0.021515+495)) > 1e-9 {
		t.Errorf("raw 1000 = %v", got)
	}

	for _, sentinel := range []int16{32767, -32768} {
		if _, ok := p.decode(sentinel); ok {
			t.Errorf("sentinel %d decoded as a value", sentinel)
		}
		if _, ok := p.Value(); ok {
			t.Errorf("value should be unknown after sentinel %d", sentinel)
		}
	}
	if len(calls) != 2 {
		t.Errorf("callback called %d times, want 2", len(calls))
	}
}

func TestRatePort(t *testing.T) {
	p, err := NewRatePort(5000, 32, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := p.decode(0); got != 2500.0 {
		t.Errorf("raw 0 = %v, want 2500", got)
	}
	if got, _ := p.decode(-32768); got != 0 {
		t.Errorf("raw -32768 = %v, want 0", got)
	}
	if p.Config() != 4<<scaleBit|rateConfig {
		t.Errorf("config = %#x", p.Config())
	}
	if want := []string{"ffl 32"}; !reflect.DeepEqual(p.Commands(), want) {
		t.Errorf("commands %q, want %q", p.Commands(), want)
	}
	if p.String() != "rate input, 5000Hz" {
		t.Errorf("String() = %q", p.String())
	}
}

func TestPort_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Port, error)
		field string
	}{
		{"channel 0", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 0, Range: 10}) }, "channel"},
		{"channel 9", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 9, Range: 10}) }, "channel"},
		{"range and thermocouple", func() (*Port, error) {
			return NewAnalogPort(AnalogConfig{Channel: 1, Range: 10, Thermocouple: "k"})
		}, "range"},
		{"neither range nor thermocouple", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 1}) }, "range"},
		{"range 3V", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 1, Range: 3}) }, "range"},
		{"thermocouple x", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 1, Thermocouple: "x"}) }, "thermocouple"},
		{"thermocouple jk", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 1, Thermocouple: "jk"}) }, "thermocouple"},
		{"filter", func() (*Port, error) { return NewAnalogPort(AnalogConfig{Channel: 1, Range: 1, Filter: 4}) }, "filter"},
		{"decimation", func() (*Port, error) {
			return NewAnalogPort(AnalogConfig{Channel: 1, Range: 1, Decimation: 32768})
		}, "decimation"},
		{"rate", func() (*Port, error) { return NewRatePort(3000, 32) }, "range_hz"},
		{"filter samples 0", func() (*Port, error) { return NewRatePort(50, 0) }, "filter_samples"},
		{"filter samples 65", func() (*Port, error) { return NewRatePort(50, 65) }, "filter_samples"},
		{"digital channel 7", func() (*Port, error) { return NewDigitalPort(7, Input) }, "channel"},
		{"digital direction", func() (*Port, error) { return NewDigitalPort(0, Direction(5)) }, "direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.build()
			if p != nil {
				t.Errorf("expected nil port, got %v", p)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestCountPort_Unsupported(t *testing.T) {
	p, err := NewCountPort()
	if p != nil || !errors.Is(err, ErrUnsupportedPort) {
		t.Fatalf("NewCountPort = %v, %v; want ErrUnsupportedPort", p, err)
	}
}

func TestParseFilterMode(t *testing.T) {
	for want, name := range filterNames {
		got, err := ParseFilterMode(" " + name + " ")
		if err != nil || int(got) != want {
			t.Errorf("ParseFilterMode(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseFilterMode("median"); err == nil {
		t.Error("expected error for unknown filter")
	}
}

func TestPort_ValueGoesStale(t *testing.T) {
	now := time.Unix(1000, 0)
	p := voltagePort(t, 1, 10, WithStaleAfter(3*time.Second))
	p.now = func() time.Time { return now }

	if _, ok := p.Value(); ok {
		t.Fatal("value should be unknown before first sample")
	}
	p.decode(16384)
	if v, ok := p.Value(); !ok || v != 5 {
		t.Fatalf("Value() = %v,%t, want 5", v, ok)
	}
	now = now.Add(3100 * time.Millisecond)
	if _, ok := p.Value(); ok {
		t.Error("value older than 3s must not be served")
	}

	fresh := voltagePort(t, 1, 10, WithStaleAfter(0))
	fresh.now = func() time.Time { return now }
	fresh.decode(1)
	now = now.Add(time.Hour)
	if _, ok := fresh.Value(); !ok {
		t.Error("staleness disabled, value should stay valid")
	}
}

func TestDigitalPort_Decode(t *testing.T) {
	p, err := NewDigitalPort(2, Input, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if p.Config() != digitalConfig {
		t.Errorf("config = %#x, want %#x", p.Config(), digitalConfig)
	}
	if got, _ := p.decode(0x04); got != 1 {
		t.Errorf("bit 2 set: got %v, want 1", got)
	}
	if got, _ := p.decode(0x7B); got != 0 {
		t.Errorf("bit 2 clear: got %v, want 0", got)
	}
}

func TestPort_String(t *testing.T) {
	tests := []struct {
		cfg  AnalogConfig
		want string
	}{
		{AnalogConfig{Channel: 1, Range: 10}, "analog input, channel 1 range +/-10V"},
		{AnalogConfig{Channel: 5, Range: 0.025}, "analog input, channel 5 range +/-0.025V"},
		{AnalogConfig{Channel: 2, Thermocouple: "j"}, "analog input, channel 2 thermocouple type J"},
	}
	for _, tt := range tests {
		p, err := NewAnalogPort(tt.cfg)
		if err != nil {
			t.Fatal(err)
		}
		if p.String() != tt.want {
			t.Errorf("String() = %q, want %q", p.String(), tt.want)
		}
	}
}
