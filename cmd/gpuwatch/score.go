package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gpuwatch/pkg/pipeline"
)

func newScoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Score daily rows and replace the scored table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.finish()

			cfg := a.pipelineConfig()
			scorer, err := pipeline.NewScorer(cfg, a.pipelineOptions()...)
			if err != nil {
				return err
			}

			res, err := scorer.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("score: %w", err)
			}

			fmt.Fprintf(a.stdout, "Loaded %d daily rows from %s\n", res.Rows, cfg.DatasetLocation)
			fmt.Fprintf(a.stdout, "Wrote %d scored rows (%d anomalous) to %s\n", res.Rows, res.Anomalies, cfg.OutputLocation)
			return nil
		},
	}
}
