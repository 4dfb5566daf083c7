package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/menu-extractor/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List extraction runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		restaurant, _ := cmd.Flags().GetString("restaurant")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := env.Service.ListRuns(ctx, model.RunFilter{RestaurantName: restaurant, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a run and the state of its four stages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runID, _ := cmd.Flags().GetString("run")

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Service.Status(ctx, runID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Run:        %s\n", st.Run.ID)
		_, _ = fmt.Fprintf(out, "Restaurant: %s\n", st.Run.RestaurantName)
		_, _ = fmt.Fprintf(out, "Pages:      %d\n\n", st.Run.PageCount)
		formatStageStates(out, st.Stages)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("restaurant", "", "filter by restaurant name")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	statusCmd.Flags().String("run", "", "run ID (required)")
	_ = statusCmd.MarkFlagRequired("run")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRESTAURANT\tPAGES\tCREATED\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----------\t-----\t-------\t-------")

	for _, r := range runs {
		name := r.RestaurantName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			name,
			r.PageCount,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatStageStates writes one line per stage. A stale stage shows its
// status with a "(stale)" marker since its artifact can no longer be used.
func formatStageStates(out io.Writer, states []model.StageState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tUPDATED\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t------\t-------\t-----")

	for _, s := range states {
		status := string(s.Status)
		if s.Stale {
			status += " (stale)"
		}
		_, _ = fmt.Fprintf(w, "%d %s\t%s\t%s\t%s\n",
			s.Stage, s.Stage,
			status,
			s.UpdatedAt.Format(time.RFC3339),
			s.Error,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// stageFlag parses the --stage flag.
func stageFlag(cmd *cobra.Command) (model.Stage, error) {
	v, _ := cmd.Flags().GetString("stage")
	return model.ParseStage(v)
}

// printJSON writes v indented, without HTML escaping.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
