package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vaakshakti",
	Short: "VaakShakti - asynchronous speech evaluation pipeline",
	Long:  `VaakShakti evaluates spoken practice answers: it transcribes a recording, analyzes its delivery and language, and synthesizes coaching feedback through a language model.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	rootCmd.AddCommand(daemonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
