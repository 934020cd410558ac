package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device DeviceConfig `yaml:"device"`
	HTTP   HTTPConfig   `yaml:"http"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

type DeviceConfig struct {
	Port        string          `yaml:"port"`
	Serial      string          `yaml:"serial"`
	USB         bool            `yaml:"usb"`
	Interval    time.Duration   `yaml:"interval"`
	ReadTimeout time.Duration   `yaml:"read_timeout"`
	SampleRate  int             `yaml:"sample_rate"`
	StaleAfter  time.Duration   `yaml:"stale_after"`
	Channels    []ChannelConfig `yaml:"channels"`
}

// ChannelConfig описывает один элемент списка сканирования.
type ChannelConfig struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"` // voltage, thermocouple, rate, digital
	Channel       int     `yaml:"channel"`
	Range         float64 `yaml:"range"`
	Thermocouple  string  `yaml:"thermocouple"`
	Filter        string  `yaml:"filter"`
	Decimation    int     `yaml:"decimation"`
	RateHz        int     `yaml:"rate_hz"`
	FilterSamples int     `yaml:"filter_samples"`
	Output        bool    `yaml:"output"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load читает файл поверх значений по умолчанию.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла конфигурации: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор файла конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Interval:    50 * time.Millisecond,
			ReadTimeout: 5 * time.Millisecond,
			SampleRate:  10,
			StaleAfter:  3 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "di2008_readings",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: ожидается text или json, получено %q", c.Log.Format)
	}
	for n, ch := range c.Device.Channels {
		switch ch.Type {
		case "voltage", "thermocouple", "rate", "digital":
		default:
			return fmt.Errorf("device.channels[%d].type: неизвестный тип %q", n, ch.Type)
		}
	}
	if c.Redis.Enabled && c.Redis.Channel == "" {
		return fmt.Errorf("redis.channel: не задан канал публикации")
	}
	return nil
}
