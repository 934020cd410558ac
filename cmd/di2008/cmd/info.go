package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/godi2008/internal/util"
	"github.com/momentics/godi2008/pkg/di2008"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected DI-2008 instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		cands, err := di2008.Candidates(sessionConfig(nil))
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			return di2008.ErrDeviceNotFound
		}
		for _, c := range cands {
			if c.Serial == "" {
				fmt.Println(c.Name)
				continue
			}
			fmt.Printf("%s\tS/N %s\n", c.Name, c.Serial)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show manufacturer, model, firmware and serial number",
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := openInstrument(cmd.Context())
		if err != nil {
			return err
		}
		defer inst.Close()

		fmt.Println(inst)
		fmt.Printf("USB %04X:%04X\n", util.VendorID, util.ProductID)
		return nil
	},
}

var ledCmd = &cobra.Command{
	Use:   "led <color>",
	Short: "Change the LED color (black, blue, green, cyan, red, magenta, yellow, white)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := openInstrument(cmd.Context())
		if err != nil {
			return err
		}
		defer inst.Close()

		if err := inst.SetLED(args[0]); err != nil {
			return err
		}
		settle(inst)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, infoCmd, ledCmd)
}
