package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/backup"
)

var importReplace string

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importReplace, "replace", "",
		"delete rows previously imported from this machine id, then import")
}

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write this machine's rows to a JSONL backup file",
	Long: `export writes every session, batch, observation, and resolution event
recorded on this machine to <machine-id>.jsonl in the given directory
(default ~/.recall/backups). Output is deterministic, so committing the
file to git produces minimal diffs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var dir string
		if len(args) == 1 {
			dir = args[0]
		} else {
			base, err := recallDir()
			if err != nil {
				return err
			}
			dir = filepath.Join(base, "backups")
		}

		res, err := backup.Export(cmd.Context(), st, dir)
		if err != nil {
			return err
		}

		fmt.Printf("Exported %d sessions, %d batches, %d observations, %d events\n",
			res.Sessions, res.Batches, res.Observations, res.Events)
		fmt.Printf("Backup file: %s\n", res.Path)
		if res.Claimed > 0 {
			fmt.Printf("Claimed %d rows recorded before this machine had an identity\n", res.Claimed)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge another machine's backup file into this database",
	Long: `import merges a backup file produced by export on another machine.
The merge is idempotent: rows already present (by id or content hash) are
skipped, and resolution events are replayed against the local copies of
their observations. With --replace, rows previously imported from the
file's machine are deleted first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := backup.Import(cmd.Context(), st, args[0],
			backup.ImportOptions{ReplaceMachineID: importReplace})
		if err != nil {
			return err
		}

		if res.Deleted > 0 {
			fmt.Printf("Replaced %d rows previously imported from %s\n", res.Deleted, res.MachineID)
		}
		fmt.Printf("Imported %d records from %s (%d skipped as already present, %d resolutions replayed)\n",
			res.Imported, res.MachineID, res.Skipped, res.Replayed)
		return nil
	},
}
