package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the recall version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recall v%s\n", version)
	},
}
