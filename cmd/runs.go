package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect workflow run history",
	Long:  "Commands for listing runs and viewing a run with its findings.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs of an organization, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, _ := cmd.Flags().GetString("org")
		supplier, _ := cmd.Flags().GetString("supplier")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			OrganizationID: org,
			SupplierID:     supplier,
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is the full view of one run.
type runDetail struct {
	*model.RunWithStatus
	Risks         []model.RiskRecord        `json:"risks"`
	Opportunities []model.OpportunityRecord `json:"opportunities"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its status, risks and opportunities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		risks, err := st.ListRisksByRun(ctx, run.Run.ID, "")
		if err != nil {
			return eris.Wrap(err, "runs show: risks")
		}
		opps, err := st.ListOpportunitiesByRun(ctx, run.Run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: opportunities")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{RunWithStatus: run, Risks: risks, Opportunities: opps})
	},
}

func init() {
	runsListCmd.Flags().String("org", "", "organization id (required)")
	runsListCmd.Flags().String("supplier", "", "filter by supplier id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	_ = runsListCmd.MarkFlagRequired("org")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunWithStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSUPPLIER\tDATE\t#\tSTATE\tRISKS\tOPPS\tPLANS\tTASK")
	_, _ = fmt.Fprintln(w, "--\t--------\t----\t-\t-----\t-----\t----\t-----\t----")

	for _, rs := range runs {
		var (
			state    = "-"
			task     string
			counters model.RunCounters
		)
		if rs.Status != nil {
			state = string(rs.Status.State)
			task = rs.Status.CurrentTask
			counters = rs.Status.Counters
		}
		if len(task) > 40 {
			task = task[:37] + "..."
		}
		supplier := rs.Run.SupplierID
		if supplier == "" {
			supplier = "(organization)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(rs.Run.ID),
			supplier,
			rs.Run.RunDateKey(),
			rs.Run.RunIndex,
			state,
			counters.RisksDetected,
			counters.OpportunitiesIdentified,
			counters.PlansGenerated,
			task,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
