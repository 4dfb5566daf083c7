package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit <artifact.json>",
	Short: "Replace a stage artifact, or one unit of it with --page",
	Long: "Validates the file against the stage schema and stores it. Every later stage becomes stale. " +
		"With --page (and --category for stages 2-4) the file holds a single unit that replaces its counterpart.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID, _ := cmd.Flags().GetString("run")
		page, _ := cmd.Flags().GetInt("page")
		category, _ := cmd.Flags().GetString("category")

		stage, err := stageFlag(cmd)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read artifact")
		}

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if page > 0 {
			_, err = env.Service.MergeUnit(ctx, runID, stage, page, category, raw)
		} else {
			_, err = env.Service.UpdateArtifact(ctx, runID, stage, raw)
		}
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stage %d (%s) updated; later stages are stale\n", stage, stage)
		return nil
	},
}

func init() {
	editCmd.Flags().String("run", "", "run ID (required)")
	editCmd.Flags().String("stage", "", "stage number or name (required)")
	editCmd.Flags().Int("page", 0, "replace only this page's unit")
	editCmd.Flags().String("category", "", "exact category name_raw of the unit")
	_ = editCmd.MarkFlagRequired("run")
	_ = editCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(editCmd)
}
