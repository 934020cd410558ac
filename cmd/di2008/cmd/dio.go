package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/godi2008/pkg/di2008"
)

var dioCmd = &cobra.Command{
	Use:   "dio",
	Short: "Digital I/O channels 0..6",
}

var dioReadCmd = &cobra.Command{
	Use:   "read <channel>",
	Short: "Configure a channel as input and print its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("номер канала: %w", err)
		}
		inst, err := openInstrument(cmd.Context())
		if err != nil {
			return err
		}
		defer inst.Close()

		if err := inst.SetDIODirection(ch, di2008.Input); err != nil {
			return err
		}
		// Ждем отправки endo и хотя бы одного ответа din.
		settle(inst)
		time.Sleep(4 * cfg.Device.Interval)

		state, err := inst.ReadDI(ch)
		if err != nil {
			return err
		}
		fmt.Printf("D%d: %t\n", ch, state)
		return nil
	},
}

var dioWriteCmd = &cobra.Command{
	Use:   "write <channel> <true|false>",
	Short: "Configure a channel as output and set it (true - released, false - pulled low)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("номер канала: %w", err)
		}
		state, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("состояние: %w", err)
		}
		inst, err := openInstrument(cmd.Context())
		if err != nil {
			return err
		}
		defer inst.Close()

		if err := inst.SetDIODirection(ch, di2008.Output); err != nil {
			return err
		}
		if err := inst.WriteDO(ch, state); err != nil {
			return err
		}
		settle(inst)
		return nil
	},
}

func init() {
	dioCmd.AddCommand(dioReadCmd, dioWriteCmd)
	rootCmd.AddCommand(dioCmd)
}
