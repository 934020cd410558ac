package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/godi2008/internal/config"
	"github.com/momentics/godi2008/pkg/di2008"
)

var (
	// Глобальные флаги
	configPath string
	portName   string
	serialNum  string
	useUSB     bool
	verbose    bool

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "di2008",
	Short: "DATAQ DI-2008 data acquisition tool",
	Long: `Configure, scan and control a DATAQ DI-2008 over USB or a serial port.

Examples:
  di2008 list                               # List connected instruments
  di2008 info --serial 5C76AEFA             # Show identity of one instrument
  di2008 scan --config di2008.yaml          # Stream the configured scan list
  di2008 dio write 0 false                  # Pull digital output 0 low
  di2008 serve --config di2008.yaml         # HTTP API and /metrics`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute запускает корневую команду
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "serial port path (default: search by vendor id)")
	rootCmd.PersistentFlags().StringVarP(&serialNum, "serial", "s", "", "instrument serial number")
	rootCmd.PersistentFlags().BoolVar(&useUSB, "usb", false, "use raw USB bulk endpoints instead of the serial driver")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Флаги важнее файла.
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Device.Port = portName
	}
	if flags.Changed("serial") {
		cfg.Device.Serial = serialNum
	}
	if flags.Changed("usb") {
		cfg.Device.USB = useUSB
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	l, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	log = l
	return nil
}

func newLogger(c config.LogConfig) (*logrus.Logger, error) {
	l := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

func sessionConfig(metrics *di2008.Metrics) di2008.Config {
	return di2008.Config{
		PortName:     cfg.Device.Port,
		SerialNumber: cfg.Device.Serial,
		UseUSB:       cfg.Device.USB,
		Interval:     cfg.Device.Interval,
		ReadTimeout:  cfg.Device.ReadTimeout,
		SampleRate:   cfg.Device.SampleRate,
		Debug:        log.IsLevelEnabled(logrus.DebugLevel),
		Logger:       logrus.NewEntry(log),
		Metrics:      metrics,
	}
}

// openInstrument открывает прибор и ждет, пока он сообщит серийный номер.
func openInstrument(ctx context.Context) (*di2008.Instrument, error) {
	inst, err := di2008.Open(ctx, sessionConfig(nil))
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(2 * time.Second)
	for inst.Identity().SerialNumber == "" && time.Now().Before(deadline) {
		select {
		case <-inst.Done():
			return nil, fmt.Errorf("прибор освобожден: %w", inst.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return inst, nil
}

// settle дает фоновому циклу время отправить очередь перед закрытием.
func settle(inst *di2008.Instrument) {
	deadline := time.Now().Add(2 * time.Second)
	for hasPending(inst) && time.Now().Before(deadline) {
		time.Sleep(cfg.Device.Interval)
	}
	time.Sleep(2 * cfg.Device.Interval)
}

func hasPending(inst *di2008.Instrument) bool {
	for _, c := range inst.Pending() {
		if c != "din" {
			return true
		}
	}
	return false
}
