package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srediag/mmf"
)

func init() {
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "create a region and hold it open until interrupted",
		Long: `Creates the named region and keeps it alive. The region exists only
while some process holds it open, so this command blocks until SIGINT or
SIGTERM; peers attach to the name while it runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := regionConfig(args[0])
			if err != nil {
				return err
			}
			m, err := mmf.OpenOrCreate(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			state := "attached to existing"
			if m.NewlyCreated() {
				state = "created"
			}
			fmt.Printf("%s region %s (%s, %d bytes, %d payload), holding until interrupt\n",
				state, m.Name(), m.Namespace(), m.Capacity(), m.PayloadCapacity())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			fmt.Println("releasing region")
			return nil
		},
	}
	rootCmd.AddCommand(createCmd)
}
