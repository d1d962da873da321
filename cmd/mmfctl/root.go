package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/srediag/mmf"
)

var (
	rawNamespace   string
	rawSize        string
	rawLockTimeout time.Duration
	verbose        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmfctl",
	Short: "inspect and drive named shared memory regions",
	Long: `mmfctl creates, reads, writes and watches named shared memory regions.

A region lives as long as at least one process keeps it open, so "mmfctl
create" holds the region until interrupted. The size passed to every other
subcommand must match the size the region was created with.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			mmf.SetLogLevel(0)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rawNamespace, "namespace", "local",
		"region visibility: local, global or custom")
	rootCmd.PersistentFlags().StringVar(&rawSize, "size", "64kb",
		"region capacity, e.g. 4kb, 1mb")
	rootCmd.PersistentFlags().DurationVar(&rawLockTimeout, "lock-timeout", time.Second,
		"how long to wait for the region lock")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"log every region operation")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// regionConfig resolves the persistent flags plus the positional region
// name into a library config.
func regionConfig(name string) (*mmf.Config, error) {
	cfg := mmf.DefaultConfig()
	cfg.Name = name
	cfg.AcquireTimeout = rawLockTimeout

	switch rawNamespace {
	case "local":
		cfg.Namespace = mmf.NamespaceLocal
	case "global":
		cfg.Namespace = mmf.NamespaceGlobal
	case "custom":
		cfg.Namespace = mmf.NamespaceCustom
	default:
		return nil, fmt.Errorf("unknown namespace %q, want local, global or custom", rawNamespace)
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(rawSize)); err != nil {
		return nil, fmt.Errorf("parsing --size %q: %w", rawSize, err)
	}
	if size.Bytes() == 0 || size.Bytes() > math.MaxUint32 {
		return nil, fmt.Errorf("--size %s out of range", size.HumanReadable())
	}
	cfg.Capacity = uint32(size.Bytes())
	return cfg, nil
}
