package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gpuwatch/pkg/pipeline"
)

func newTrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit the scaler and anomaly model on the gold table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.finish()

			cfg := a.pipelineConfig()
			trainer, err := pipeline.NewTrainer(cfg, a.pipelineOptions()...)
			if err != nil {
				return err
			}

			res, err := trainer.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}

			fmt.Fprintf(a.stdout, "Loaded %d daily rows from %s\n", res.Rows, cfg.DatasetLocation)
			fmt.Fprintf(a.stdout, "Trained %d trees (threshold %.6f, run %s)\n", cfg.NEstimators, res.Threshold, res.RunID)
			fmt.Fprintf(a.stdout, "Saved scaler and model to %s\n", cfg.ArtifactLocation)
			return nil
		},
	}
}
