package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/redliner"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of redliner",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "redliner version %s\n", strings.TrimSpace(redliner.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
