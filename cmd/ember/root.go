package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ember-gateway/ember/pkg/server"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Ember - single-host inference gateway",
	Long: `Ember multiplexes OpenAI-compatible inference requests across a pool of
locally-spawned backend model processes, starting and stopping them on
demand under a fixed resource budget.

It presents one stable OpenAI-compatible endpoint regardless of which, or
how many, backend processes are currently running.`,
	Version: Version,
}

// Execute runs the root command. Exit codes per the gateway's contract:
// 0 normal shutdown, 1 fatal config error at boot, 2 port conflict on
// the gateway's own listener.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)

	if errors.Is(err, server.ErrListenPortConflict) {
		os.Exit(2)
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.CompletionOptions.DisableDefaultCmd = false
}
