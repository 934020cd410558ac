package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/godi2008/pkg/di2008"
)

var (
	scanDuration time.Duration
	scanPeriod   time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the configured channels and print their values",
	Long: `Build the scan list from the "device.channels" section of the configuration
file, start scanning and print one line of values per period until the
duration expires or the process is interrupted.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 20*time.Second, "how long to scan (0 - until interrupted)")
	scanCmd.Flags().DurationVar(&scanPeriod, "period", time.Second, "print period")
}

func runScan(cmd *cobra.Command, args []string) error {
	if len(cfg.Device.Channels) == 0 {
		return errors.New("в конфигурации нет каналов (device.channels)")
	}
	ports, names, err := buildPorts(cfg.Device.Channels, nil)
	if err != nil {
		return err
	}

	inst, err := openInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.SetScanList(ports); err != nil {
		return err
	}
	if err := inst.Start(); err != nil {
		return err
	}
	fmt.Println(strings.Join(names, "\t"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var timeout <-chan time.Time
	if scanDuration > 0 {
		timeout = time.After(scanDuration)
	}
	ticker := time.NewTicker(scanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Println(formatValues(ports))
		case <-inst.Done():
			return fmt.Errorf("прибор освобожден: %v", inst.Err())
		case <-quit:
			return stopScan(inst)
		case <-timeout:
			return stopScan(inst)
		}
	}
}

func stopScan(inst *di2008.Instrument) error {
	if err := inst.Stop(); err != nil {
		return err
	}
	settle(inst)
	return nil
}

func formatValues(ports []*di2008.Port) string {
	values := make([]string, len(ports))
	for n, p := range ports {
		v, ok := p.Value()
		if !ok {
			values[n] = "-"
			continue
		}
		values[n] = fmt.Sprintf("%.5g", v)
	}
	return strings.Join(values, "\t")
}
