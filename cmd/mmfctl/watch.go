package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/srediag/mmf"
)

func init() {
	var interval time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch NAME",
		Short: "print region payload changes as they happen",
		Long: `Polls the named region and prints every observed payload change until
interrupted. Polling is best effort: payloads replaced faster than the
interval can be missed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := regionConfig(args[0])
			if err != nil {
				return err
			}
			w, err := mmf.NewWatcher(cfg, mmf.WatcherOptions{Interval: interval})
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			cancel := w.Subscribe(func(u mmf.Update) {
				fmt.Printf("%s  %4d bytes  %s\n",
					u.Observed.Format("15:04:05.000"), len(u.Data), preview(u.Data))
			})
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			if n := w.Dropped(); n > 0 {
				fmt.Fprintf(os.Stderr, "%d updates dropped\n", n)
			}
			return nil
		},
	}
	watchCmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "poll cadence")
	rootCmd.AddCommand(watchCmd)
}

// preview renders the head of a payload for the change log, falling back to
// hex when the bytes are not text.
func preview(data []byte) string {
	const max = 48
	head := data
	if len(head) > max {
		head = head[:max]
	}
	if utf8.Valid(head) {
		return fmt.Sprintf("%q", head)
	}
	return fmt.Sprintf("% x", head)
}
