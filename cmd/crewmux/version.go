package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/crewmux/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
