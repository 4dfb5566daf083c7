package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <menu.pdf>",
	Short: "Rasterize a menu PDF and create a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		restaurant, _ := cmd.Flags().GetString("restaurant")

		pdf, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read pdf")
		}
		if len(pdf) == 0 {
			return eris.Errorf("%s is empty", args[0])
		}

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Service.Upload(ctx, restaurant, pdf)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d pages\n", run.ID, run.RestaurantName, run.PageCount)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("restaurant", "", "restaurant name (required)")
	_ = uploadCmd.MarkFlagRequired("restaurant")
	rootCmd.AddCommand(uploadCmd)
}
