package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/trailpipe/internal/history"
)

var (
	historyDB    string
	historyLimit int
	historyRunID string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent import runs",
	Long: `Print the run ledger, newest first.

Runs are recorded when the configuration sets history.path.`,
	Example: `  trailpipe history --db /var/lib/trailpipe/history.db
  trailpipe history --limit 50
  trailpipe history --id 3f0c9f1e-5d2a-4c3b-9a57-0c1e8e2d7b44`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDB, "db", history.DefaultPath, "Run ledger path")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyRunID, "id", "", "Print one run as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(historyDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if historyRunID != "" {
		r, err := store.Get(historyRunID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	runs, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDATE\tOBJECTS\tFAILED\tDELIVERED\tDROPPED\tSINK ERRORS\tAUTH FAILURES\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Date,
			r.ObjectsListed, r.ObjectsFailed,
			r.RecordsDelivered, r.RecordsDropped,
			r.SinkErrors, r.AuthFailures,
			r.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}
