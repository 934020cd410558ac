package cmd

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/momentics/godi2008/internal/config"
	"github.com/momentics/godi2008/pkg/di2008"
)

func TestBuildPorts(t *testing.T) {
	cfg = config.Default()
	log = logrus.New()
	log.SetOutput(io.Discard)

	channels := []config.ChannelConfig{
		{Name: "supply", Type: "voltage", Channel: 1, Range: 10, Filter: "average"},
		{Type: "thermocouple", Channel: 2, Thermocouple: "j"},
		{Type: "rate", RateHz: 5000},
		{Type: "digital", Channel: 3, Output: true},
	}
	ports, names, err := buildPorts(channels, nil)
	if err != nil {
		t.Fatalf("buildPorts failed: %v", err)
	}
	wantNames := []string{"supply", "thermocouple2", "rate0", "digital3"}
	for n, want := range wantNames {
		if names[n] != want {
			t.Errorf("name %d = %q, want %q", n, names[n], want)
		}
	}
	wantKinds := []di2008.PortKind{di2008.KindVoltage, di2008.KindThermocouple, di2008.KindRate, di2008.KindDigital}
	for n, want := range wantKinds {
		if ports[n].Kind() != want {
			t.Errorf("port %d kind %v, want %v", n, ports[n].Kind(), want)
		}
	}
	if got := ports[0].Commands()[0]; got != "filter 1 1" {
		t.Errorf("filter command %q", got)
	}
	if ports[3].Direction() != di2008.Output {
		t.Errorf("digital3 direction %v, want output", ports[3].Direction())
	}
}

func TestBuildPorts_Invalid(t *testing.T) {
	cfg = config.Default()
	log = logrus.New()
	log.SetOutput(io.Discard)

	if _, _, err := buildPorts([]config.ChannelConfig{{Type: "voltage", Channel: 0, Range: 10}}, nil); err == nil {
		t.Error("channel 0 should be rejected")
	}
	if _, _, err := buildPorts([]config.ChannelConfig{{Type: "voltage", Channel: 1, Range: 10, Filter: "median"}}, nil); err == nil {
		t.Error("unknown filter should be rejected")
	}
}
