package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/backup"
)

func init() {
	rootCmd.AddCommand(machineIDCmd)
}

var machineIDCmd = &cobra.Command{
	Use:   "machine-id",
	Short: "Print this machine's stable backup identity",
	Long: `machine-id prints the identity stamped on every row this machine
records, creating it on first use. Backups are named after it and imports
key on it; deleting ~/.recall/machine-id orphans everything already
exported under the old id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := recallDir()
		if err != nil {
			return err
		}
		id, err := backup.MachineID(dir)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}
