package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cycleCmd)
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one processing cycle and exit",
	Long: `cycle executes a single pass of the background pipeline: recovery,
stale-session handling, batch classification and extraction, and index
pushes. Useful from cron or when the daemon is not running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		proc, err := buildProcessor(st)
		if err != nil {
			return err
		}
		proc.RunCycle(cmd.Context())

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Cycle complete: %d sessions, %d batches, %d observations\n",
			stats.Sessions, stats.PromptBatches, stats.Observations)
		return nil
	},
}
