package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/srediag/mmf"
)

func init() {
	var data string

	writeCmd := &cobra.Command{
		Use:   "write NAME",
		Short: "store a payload in a region",
		Long: `Writes a payload into the named region, replacing whatever it held.
The payload comes from --data, or from stdin when the flag is absent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := regionConfig(args[0])
			if err != nil {
				return err
			}
			payload := []byte(data)
			if !cmd.Flags().Changed("data") {
				payload, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}
			m, err := mmf.OpenOrCreate(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if err := m.Write(cmd.Context(), payload); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(payload), m.Name())
			return nil
		},
	}
	writeCmd.Flags().StringVarP(&data, "data", "d", "", "payload to write instead of stdin")
	rootCmd.AddCommand(writeCmd)
}
