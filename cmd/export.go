package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/menu-extractor/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stage artifact as JSON, YAML or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runID, _ := cmd.Flags().GetString("run")
		name, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		stage, err := stageFlag(cmd)
		if err != nil {
			return err
		}
		format, err := export.ParseFormat(name)
		if err != nil {
			return err
		}
		if format == export.FormatXLSX && out == "" {
			return eris.New("--out is required for xlsx")
		}

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := env.Service.Artifact(ctx, runID, stage)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrap(err, "create output")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		return export.Write(w, format, stage, data)
	},
}

func init() {
	exportCmd.Flags().String("run", "", "run ID (required)")
	exportCmd.Flags().String("stage", "", "stage number or name (required)")
	exportCmd.Flags().String("format", "json", "output format: json, yaml or xlsx")
	exportCmd.Flags().String("out", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("run")
	_ = exportCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(exportCmd)
}
