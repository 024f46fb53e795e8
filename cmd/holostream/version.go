package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version can be overridden at build time:
//
//	go build -ldflags="-X 'main.version=v1.0.0'"
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	// No config or logging needed to print a version string.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("holostream " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
