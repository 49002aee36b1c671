package pipeline

import (
	"context"
	"encoding"
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/gpuwatch/pkg/artifact"
	"github.com/hed1ad/gpuwatch/pkg/detectors/iforest"
	"github.com/hed1ad/gpuwatch/pkg/detectors/scaler"
	"github.com/hed1ad/gpuwatch/pkg/features"
	"github.com/hed1ad/gpuwatch/pkg/metrics"
)

// TrainResult summarizes a successful training run.
type TrainResult struct {
	RunID     string
	Rows      int
	Threshold float64
}

// Trainer fits the scaler and the outlier model and publishes both.
type Trainer struct {
	cfg  Config
	opts *options
}

// NewTrainer returns a trainer for cfg.
func NewTrainer(cfg Config, opts ...Option) (*Trainer, error) {
	o, err := newOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, opts: o}, nil
}

// Run reads the whole gold table, fits on it and saves the artifacts.
// Nothing is saved unless both fits succeed.
func (t *Trainer) Run(ctx context.Context) (*TrainResult, error) {
	started := t.opts.now()
	res, err := t.run(ctx)
	t.opts.observe(metrics.PipelineTrain, started, err)
	if err == nil && t.opts.metrics != nil {
		t.opts.metrics.RowsProcessed.WithLabelValues(metrics.PipelineTrain).Set(float64(res.Rows))
		t.opts.metrics.DecisionThreshold.Set(res.Threshold)
	}
	return res, err
}

func (t *Trainer) run(ctx context.Context) (*TrainResult, error) {
	log := t.opts.logger

	obs, err := t.opts.readDataset(ctx, t.cfg.DatasetLocation, t.cfg.DatasetTable)
	if err != nil {
		return nil, err
	}
	log.Info("dataset loaded", zap.Int("rows", len(obs)))

	x, err := features.Extract(obs)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}

	sc, err := scaler.Fit(x)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := sc.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}

	forest := iforest.New(
		iforest.WithTrees(t.cfg.NEstimators),
		iforest.WithContamination(t.cfg.Contamination),
		iforest.WithSeed(t.cfg.RandomSeed),
		iforest.WithMaxSamples(t.cfg.MaxSamples),
		iforest.WithLogger(log),
	)
	if err := forest.Fit(scaled); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	runID := t.opts.runID()
	log = log.With(zap.String("run_id", runID))

	// Scaler first: a scorer that sees a new scaler next to an old model
	// rejects the pair by run ID.
	if err := t.save(ctx, artifact.ScalerName, artifact.KindScaler, runID, sc); err != nil {
		return nil, err
	}
	if err := t.save(ctx, artifact.ModelName, artifact.KindForest, runID, forest); err != nil {
		return nil, err
	}

	log.Info("training finished",
		zap.Int("rows", len(obs)),
		zap.Float64("threshold", forest.Threshold()),
	)

	return &TrainResult{
		RunID:     runID,
		Rows:      len(obs),
		Threshold: forest.Threshold(),
	}, nil
}

func (t *Trainer) save(ctx context.Context, name, kind, runID string, state encoding.BinaryMarshaler) error {
	payload, err := state.MarshalBinary()
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	a := &artifact.Artifact{
		Kind:          kind,
		SchemaVersion: artifact.SchemaVersion,
		RunID:         runID,
		CreatedAt:     t.opts.now().UTC(),
		Features:      append([]string(nil), features.Names...),
		Payload:       payload,
	}
	if err := t.opts.store.Save(ctx, name, a); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
