package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/mmf"
)

func init() {
	readCmd := &cobra.Command{
		Use:   "read NAME",
		Short: "copy a region's payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := regionConfig(args[0])
			if err != nil {
				return err
			}
			cfg.Readonly = true
			m, err := mmf.OpenOrCreate(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			buf := bytebufferpool.Get()
			defer bytebufferpool.Put(buf)
			if _, err := m.ReadBuffer(cmd.Context(), buf); err != nil {
				return err
			}
			_, err = os.Stdout.Write(buf.B)
			return err
		},
	}
	rootCmd.AddCommand(readCmd)
}
