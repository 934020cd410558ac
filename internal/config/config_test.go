package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "di2008.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
device:
  serial: 5C76AEFA
  interval: 20ms
  sample_rate: 100
  channels:
    - name: supply
      type: voltage
      channel: 1
      range: 10
      filter: average
    - type: thermocouple
      channel: 2
      thermocouple: k
    - type: rate
      rate_hz: 5000
redis:
  enabled: true
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Device.Serial != "5C76AEFA" || cfg.Device.Interval != 20*time.Millisecond || cfg.Device.SampleRate != 100 {
		t.Errorf("device section not applied: %+v", cfg.Device)
	}
	if cfg.Device.ReadTimeout != 5*time.Millisecond || cfg.Device.StaleAfter != 3*time.Second {
		t.Errorf("defaults lost: %+v", cfg.Device)
	}
	if len(cfg.Device.Channels) != 3 || cfg.Device.Channels[0].Range != 10 || cfg.Device.Channels[2].RateHz != 5000 {
		t.Errorf("channels: %+v", cfg.Device.Channels)
	}
	if cfg.Redis.Channel != "di2008_readings" || !cfg.Redis.Enabled {
		t.Errorf("redis: %+v", cfg.Redis)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log: %+v", cfg.Log)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"format":  "log:\n  format: xml\n",
		"channel": "device:\n  channels:\n    - type: counter\n",
		"yaml":    "device: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
