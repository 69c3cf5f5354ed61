package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	maintainVacuum     bool
	maintainAnalyze    bool
	maintainReindex    bool
	maintainOptimize   bool
	maintainCheckpoint bool
)

func init() {
	rootCmd.AddCommand(maintainCmd)
	maintainCmd.Flags().BoolVar(&maintainVacuum, "vacuum", false, "rewrite the database file, reclaiming freed space")
	maintainCmd.Flags().BoolVar(&maintainAnalyze, "analyze", false, "refresh query planner statistics")
	maintainCmd.Flags().BoolVar(&maintainReindex, "reindex", false, "rebuild all indexes from table data")
	maintainCmd.Flags().BoolVar(&maintainOptimize, "optimize", false, "merge FTS index segments")
	maintainCmd.Flags().BoolVar(&maintainCheckpoint, "checkpoint", false, "checkpoint the WAL into the main file")
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Database statistics and maintenance operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := cmd.Context()

		if maintainVacuum {
			if err := st.Vacuum(ctx); err != nil {
				return err
			}
			fmt.Println("Vacuumed")
		}
		if maintainAnalyze {
			if err := st.Analyze(ctx); err != nil {
				return err
			}
			fmt.Println("Analyzed")
		}
		if maintainReindex {
			if err := st.Reindex(ctx); err != nil {
				return err
			}
			fmt.Println("Reindexed")
		}
		if maintainOptimize {
			if err := st.OptimizeSearch(ctx); err != nil {
				return err
			}
			fmt.Println("Search index optimized")
		}
		if maintainCheckpoint {
			if err := st.CheckpointWAL(ctx); err != nil {
				return err
			}
			fmt.Println("WAL checkpointed")
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Database:          %s\n", st.Path())
		fmt.Printf("Schema version:    %d\n", stats.SchemaVersion)
		fmt.Printf("Sessions:          %d\n", stats.Sessions)
		fmt.Printf("Prompt batches:    %d\n", stats.PromptBatches)
		fmt.Printf("Activities:        %d\n", stats.Activities)
		fmt.Printf("Observations:      %d\n", stats.Observations)
		fmt.Printf("Resolution events: %d\n", stats.Events)
		fmt.Printf("Size:              %.1f MB\n", float64(stats.SizeBytes)/(1024*1024))
		return nil
	},
}
