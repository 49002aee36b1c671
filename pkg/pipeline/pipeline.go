// Package pipeline runs the batch training and scoring jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/gpuwatch/pkg/artifact"
	"github.com/hed1ad/gpuwatch/pkg/detectors"
	"github.com/hed1ad/gpuwatch/pkg/features"
	dataio "github.com/hed1ad/gpuwatch/pkg/io"
	"github.com/hed1ad/gpuwatch/pkg/metrics"
)

// Config holds the settings shared by both pipelines.
type Config struct {
	DatasetLocation string
	DatasetTable    string

	// OutputLocation defaults to DatasetLocation.
	OutputLocation string
	OutputTable    string

	ArtifactLocation string
	ArtifactS3       artifact.S3Options

	NEstimators   int
	Contamination float64
	RandomSeed    int64
	MaxSamples    int
}

// DefaultConfig returns the settings of the reference deployment.
func DefaultConfig() Config {
	def := detectors.DefaultConfig()
	return Config{
		DatasetLocation:  "telemetry.db",
		DatasetTable:     "gold_cluster_util_daily",
		OutputTable:      "gold_cluster_util_daily_scored",
		ArtifactLocation: "ml",
		NEstimators:      def.NEstimators,
		Contamination:    def.Contamination,
		RandomSeed:       def.RandomSeed,
		MaxSamples:       256,
	}
}

func (c Config) outputLocation() string {
	if c.OutputLocation != "" {
		return c.OutputLocation
	}
	return c.DatasetLocation
}

// Option configures a Trainer or Scorer.
type Option func(*options)

type options struct {
	reader  dataio.Reader
	writer  dataio.Writer
	store   artifact.Store
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	runID   func() string
}

// WithReader replaces the dataset reader opened from the configuration.
// The pipeline does not close an injected reader.
func WithReader(r dataio.Reader) Option {
	return func(o *options) {
		o.reader = r
	}
}

// WithWriter replaces the output writer opened from the configuration.
// The pipeline does not close an injected writer.
func WithWriter(w dataio.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithStore replaces the artifact store opened from the configuration.
func WithStore(s artifact.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records run outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithClock sets the time source used for artifact timestamps and metrics.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(cfg Config, opts []Option) (*options, error) {
	o := &options{
		logger: zap.NewNop(),
		now:    time.Now,
		runID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		store, err := artifact.Open(cfg.ArtifactLocation, cfg.ArtifactS3)
		if err != nil {
			return nil, err
		}
		o.store = store
	}
	return o, nil
}

// readDataset reads every observation and releases the reader it opened.
func (o *options) readDataset(ctx context.Context, location, table string) ([]features.Observation, error) {
	r := o.reader
	if r == nil {
		opened, err := dataio.OpenReader(location, table)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		defer opened.Close()
		r = opened
	}

	obs, err := r.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return obs, nil
}

func (o *options) observe(pipeline string, started time.Time, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveRun(pipeline, started, o.now(), err)
}

// decodePayload restores a state from an artifact payload. Payloads that do
// not decode are incompatible with this build.
func decodePayload(a *artifact.Artifact, into interface{ UnmarshalBinary([]byte) error }) error {
	if err := into.UnmarshalBinary(a.Payload); err != nil {
		if errors.Is(err, artifact.ErrIncompatible) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", artifact.ErrIncompatible, a.Kind, err)
	}
	return nil
}
