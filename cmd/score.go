package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/pipeline"
	"github.com/sells-group/supplyrisk/internal/scorer"
)

var (
	scoreRunID string
	scoreJSON  bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute the algorithmic score of a persisted run",
	Long:  "Rescores a supplier run from its stored risks. Nothing is written; running it twice on an unchanged run prints the same score.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := scorer.New(cfg.Scoring)
		if err != nil {
			return err
		}
		agg := pipeline.NewAggregator(pipeline.Deps{
			Store:  st,
			Scorer: scorer.NewSupplierScorer(engine, nil),
		})

		snap, err := agg.RescoreRun(ctx, scoreRunID)
		if err != nil {
			return eris.Wrap(err, "score")
		}

		if scoreJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatScore(os.Stdout, snap)
		return nil
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreRunID, "run", "", "workflow run id (required)")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the snapshot as JSON")
	_ = scoreCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(scoreCmd)
}

// formatScore writes a snapshot summary to w. Domains are listed by
// descending contribution.
func formatScore(out io.Writer, s *model.SupplierScoreSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.WorkflowRunID)
	_, _ = fmt.Fprintf(w, "Supplier:\t%s\n", s.SupplierID)
	_, _ = fmt.Fprintf(w, "Score:\t%.2f (%s)\n", s.Score, s.Level)
	_, _ = fmt.Fprintf(w, "Risks:\t%d\n", len(s.RiskIDs))

	domains := make([]string, 0, len(s.Breakdown))
	for d := range s.Breakdown {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if s.Breakdown[domains[i]] != s.Breakdown[domains[j]] {
			return s.Breakdown[domains[i]] > s.Breakdown[domains[j]]
		}
		return domains[i] < domains[j]
	})
	for _, d := range domains {
		_, _ = fmt.Fprintf(w, "  %s:\t%.2f\n", d, s.Breakdown[d])
	}
	for _, sev := range model.Severities {
		if n := s.SeverityCounts[string(sev)]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s risks:\t%d\n", sev, n)
		}
	}
	_ = w.Flush()
}
