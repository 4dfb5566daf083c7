package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one stage, or every stage in order with --all",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runID, _ := cmd.Flags().GetString("run")
		all, _ := cmd.Flags().GetBool("all")

		stages := model.AllStages()
		if !all {
			stage, err := stageFlag(cmd)
			if err != nil {
				return err
			}
			stages = []model.Stage{stage}
		}

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		for _, stage := range stages {
			if _, err := env.Service.RunStage(ctx, runID, stage); err != nil {
				return describeFailure(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stage %d (%s) succeeded\n", stage, stage)
		}
		return nil
	},
}

var reextractCmd = &cobra.Command{
	Use:   "reextract",
	Short: "Re-extract one (page, category) unit of a stage",
	Long:  "Re-runs a single unit and prints it. With --merge the unit replaces its counterpart in the stored artifact and later stages become stale.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runID, _ := cmd.Flags().GetString("run")
		page, _ := cmd.Flags().GetInt("page")
		category, _ := cmd.Flags().GetString("category")
		merge, _ := cmd.Flags().GetBool("merge")

		stage, err := stageFlag(cmd)
		if err != nil {
			return err
		}
		if stage != model.StageCategories && category == "" {
			return fmt.Errorf("--category is required for stage %d", stage)
		}

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		unit, err := env.Service.Reextract(ctx, runID, stage, page, category)
		if err != nil {
			return describeFailure(err)
		}
		if err := printJSON(cmd.OutOrStdout(), unit); err != nil {
			return err
		}
		if !merge {
			return nil
		}

		raw, err := json.Marshal(unit)
		if err != nil {
			return err
		}
		if _, err := env.Service.MergeUnit(ctx, runID, stage, page, category, raw); err != nil {
			return err
		}
		zap.L().Info("unit merged", zap.String("run_id", runID), zap.Stringer("stage", stage), zap.Int("page", page))
		return nil
	},
}

// describeFailure logs the unit a stage failure happened in so the operator
// can re-extract just that unit.
func describeFailure(err error) error {
	stage, page, category := apperr.Unit(err)
	if page > 0 {
		zap.L().Error("unit failed; retry it with reextract",
			zap.Int("stage", stage),
			zap.Int("page", page),
			zap.String("category", category),
		)
	}
	return err
}

func init() {
	extractCmd.Flags().String("run", "", "run ID (required)")
	extractCmd.Flags().String("stage", "", "stage number or name")
	extractCmd.Flags().Bool("all", false, "run all four stages in order")
	_ = extractCmd.MarkFlagRequired("run")
	extractCmd.MarkFlagsOneRequired("stage", "all")
	extractCmd.MarkFlagsMutuallyExclusive("stage", "all")

	reextractCmd.Flags().String("run", "", "run ID (required)")
	reextractCmd.Flags().String("stage", "", "stage number or name (required)")
	reextractCmd.Flags().Int("page", 0, "page number (required)")
	reextractCmd.Flags().String("category", "", "exact category name_raw (stages 2-4)")
	reextractCmd.Flags().Bool("merge", false, "merge the result into the stored artifact")
	for _, f := range []string{"run", "stage", "page"} {
		_ = reextractCmd.MarkFlagRequired(f)
	}

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reextractCmd)
}
