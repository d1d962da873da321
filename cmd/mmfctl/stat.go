package main

import (
	"github.com/spf13/cobra"

	"github.com/srediag/mmf"
)

func init() {
	statCmd := &cobra.Command{
		Use:   "stat NAME",
		Short: "print a region's header state",
		Long: `Prints the named region's lock word, holder pid when held, stored
payload length and capacity. MMF_DEBUG_MODE=1 adds a payload hexdump.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := regionConfig(args[0])
			if err != nil {
				return err
			}
			mmf.DebugRegion(args[0], cfg.Namespace, cfg.Capacity)
			return nil
		},
	}
	rootCmd.AddCommand(statCmd)
}
