package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/gpuwatch/pkg/artifact"
	"github.com/hed1ad/gpuwatch/pkg/config"
	"github.com/hed1ad/gpuwatch/pkg/logging"
	"github.com/hed1ad/gpuwatch/pkg/metrics"
	"github.com/hed1ad/gpuwatch/pkg/pipeline"
)

type app struct {
	configFile string
	envFile    string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Recorder

	stdout io.Writer
	stderr io.Writer
}

// flagKeys maps override flags to configuration keys.
var flagKeys = map[string]string{
	"dataset":   "dataset.location",
	"table":     "dataset.table",
	"output":    "output.location",
	"artifacts": "artifacts.location",
	"log-level": "logging.level",
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "gpuwatch",
		Short: "Flag anomalous days in cluster GPU utilization",
		Long: `gpuwatch fits an isolation forest on daily cluster utilization
aggregates and scores days against it.

  gpuwatch train   fit the scaler and model on the gold table
  gpuwatch score   write the scored table using the saved artifacts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "path to a YAML config file")
	flags.StringVar(&a.envFile, "env-file", "", "path to a dotenv file with GPUWATCH_* variables")
	flags.String("dataset", "", "gold table location (CSV path, SQLite file or postgres:// URL)")
	flags.String("table", "", "gold table name for SQL datasets")
	flags.String("output", "", "scored table location (defaults to the dataset)")
	flags.String("artifacts", "", "artifact directory or s3://bucket/prefix")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newTrainCmd(a),
		newScoreCmd(a),
		newVersionCmd(a),
	)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	return cmd
}

// setup loads configuration and builds the logger and metrics. Flags set on
// the command line take precedence over every other source.
func (a *app) setup(cmd *cobra.Command) error {
	loader := config.NewLoader(a.configFile, a.envFile)
	for name, key := range flagKeys {
		if err := loader.Viper().BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.NewRecorder()
	return nil
}

func (a *app) pipelineConfig() pipeline.Config {
	c := a.cfg
	return pipeline.Config{
		DatasetLocation:  c.Dataset.Location,
		DatasetTable:     c.Dataset.Table,
		OutputLocation:   c.OutputLocation(),
		OutputTable:      c.Output.Table,
		ArtifactLocation: c.Artifacts.Location,
		ArtifactS3: artifact.S3Options{
			Endpoint:  c.Artifacts.S3.Endpoint,
			AccessKey: c.Artifacts.S3.AccessKey,
			SecretKey: c.Artifacts.S3.SecretKey,
			Region:    c.Artifacts.S3.Region,
			UseSSL:    c.Artifacts.S3.UseSSL,
		},
		NEstimators:   c.Model.NEstimators,
		Contamination: c.Model.Contamination,
		RandomSeed:    c.Model.RandomSeed,
		MaxSamples:    c.Model.MaxSamples,
	}
}

func (a *app) pipelineOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithClock(time.Now),
	}
}

// finish exports metrics and flushes the logger. Export failures are logged
// and never replace the run's own error.
func (a *app) finish() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("metrics export failed", zap.String("path", path), zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
