package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var queryJSON bool

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit the result as JSON")
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SQL query against the database",
	Long: `query runs a SELECT (or WITH/EXPLAIN) statement against a read-only
connection. Statements that could mutate state are rejected before they
execute, and results are clamped to the configured row limit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.RunQuery(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if queryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatCell(v)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d rows", len(res.Rows))
		if res.Truncated {
			fmt.Print(" (truncated)")
		}
		fmt.Println()
		return nil
	},
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
