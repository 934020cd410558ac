package cmd

import (
	"fmt"

	"github.com/momentics/godi2008/internal/config"
	"github.com/momentics/godi2008/pkg/di2008"
)

// buildPorts создает порты списка сканирования из конфигурации.
// onValue, если задан, возвращает callback для порта с данным именем.
func buildPorts(channels []config.ChannelConfig, onValue func(name string) func(float64)) ([]*di2008.Port, []string, error) {
	ports := make([]*di2008.Port, 0, len(channels))
	names := make([]string, 0, len(channels))

	for n, ch := range channels {
		name := ch.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", ch.Type, ch.Channel)
		}
		opts := []di2008.PortOption{
			di2008.WithStaleAfter(cfg.Device.StaleAfter),
			di2008.WithLogger(log.WithField("port", name)),
		}
		if onValue != nil {
			opts = append(opts, di2008.WithCallback(onValue(name)))
		}

		var (
			p   *di2008.Port
			err error
		)
		switch ch.Type {
		case "voltage", "thermocouple":
			ac := di2008.AnalogConfig{
				Channel:    ch.Channel,
				Decimation: ch.Decimation,
			}
			if ch.Type == "voltage" {
				ac.Range = ch.Range
			} else {
				ac.Thermocouple = ch.Thermocouple
			}
			if ch.Filter != "" {
				if ac.Filter, err = di2008.ParseFilterMode(ch.Filter); err != nil {
					return nil, nil, fmt.Errorf("канал %q: %w", name, err)
				}
			}
			p, err = di2008.NewAnalogPort(ac, opts...)
		case "rate":
			samples := ch.FilterSamples
			if samples == 0 {
				samples = 32
			}
			p, err = di2008.NewRatePort(ch.RateHz, samples, opts...)
		case "digital":
			dir := di2008.Input
			if ch.Output {
				dir = di2008.Output
			}
			p, err = di2008.NewDigitalPort(ch.Channel, dir, opts...)
		default:
			err = fmt.Errorf("device.channels[%d]: неизвестный тип %q", n, ch.Type)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("канал %q: %w", name, err)
		}
		ports = append(ports, p)
		names = append(names, name)
	}
	return ports, names, nil
}
