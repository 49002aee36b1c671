package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/gpuwatch/pkg/artifact"
	"github.com/hed1ad/gpuwatch/pkg/detectors"
	"github.com/hed1ad/gpuwatch/pkg/detectors/iforest"
	"github.com/hed1ad/gpuwatch/pkg/detectors/scaler"
	"github.com/hed1ad/gpuwatch/pkg/features"
	dataio "github.com/hed1ad/gpuwatch/pkg/io"
	"github.com/hed1ad/gpuwatch/pkg/metrics"
)

// ScoreResult summarizes a successful scoring run.
type ScoreResult struct {
	RunID     string
	Rows      int
	Anomalies int
}

// Scorer applies published artifacts to a dataset and replaces the scored
// table.
type Scorer struct {
	cfg  Config
	opts *options
}

// NewScorer returns a scorer for cfg.
func NewScorer(cfg Config, opts ...Option) (*Scorer, error) {
	o, err := newOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, opts: o}, nil
}

// Run scores every row of the dataset. The output is written only after
// every row is scored.
func (s *Scorer) Run(ctx context.Context) (*ScoreResult, error) {
	started := s.opts.now()
	res, err := s.run(ctx)
	s.opts.observe(metrics.PipelineScore, started, err)
	if err == nil && s.opts.metrics != nil {
		s.opts.metrics.RowsProcessed.WithLabelValues(metrics.PipelineScore).Set(float64(res.Rows))
		s.opts.metrics.AnomaliesFlagged.Set(float64(res.Anomalies))
	}
	return res, err
}

func (s *Scorer) run(ctx context.Context) (*ScoreResult, error) {
	log := s.opts.logger

	obs, err := s.opts.readDataset(ctx, s.cfg.DatasetLocation, s.cfg.DatasetTable)
	if err != nil {
		return nil, err
	}
	log.Info("dataset loaded", zap.Int("rows", len(obs)))

	x, err := features.Extract(obs)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}

	sc, model, runID, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", runID))
	if s.opts.metrics != nil {
		s.opts.metrics.DecisionThreshold.Set(model.Threshold())
	}

	scaled, err := sc.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	scores, err := model.Score(scaled)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	flags := model.Decide(scores)

	scored, err := features.Assemble(obs, scores, flags)
	if err != nil {
		return nil, err
	}

	anomalies := 0
	for _, f := range flags {
		if f {
			anomalies++
		}
	}

	if err := s.publish(ctx, scored); err != nil {
		return nil, err
	}

	log.Info("scoring finished",
		zap.Int("rows", len(scored)),
		zap.Int("anomalies", anomalies),
	)

	return &ScoreResult{RunID: runID, Rows: len(scored), Anomalies: anomalies}, nil
}

// load fetches both artifacts and checks that they belong together.
func (s *Scorer) load(ctx context.Context) (*scaler.State, detectors.Detector, string, error) {
	scalerArt, err := s.opts.store.Load(ctx, artifact.ScalerName)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ScalerName, err)
	}
	modelArt, err := s.opts.store.Load(ctx, artifact.ModelName)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ModelName, err)
	}

	if err := scalerArt.Expect(artifact.KindScaler, features.Names); err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ScalerName, err)
	}
	if err := modelArt.Expect(artifact.KindForest, features.Names); err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ModelName, err)
	}
	if err := artifact.SameRun(scalerArt, modelArt); err != nil {
		return nil, nil, "", err
	}

	var sc scaler.State
	if err := decodePayload(scalerArt, &sc); err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ScalerName, err)
	}
	forest := iforest.New(iforest.WithLogger(s.opts.logger))
	if err := decodePayload(modelArt, forest); err != nil {
		return nil, nil, "", fmt.Errorf("load %s: %w", artifact.ModelName, err)
	}

	return &sc, forest, modelArt.RunID, nil
}

func (s *Scorer) publish(ctx context.Context, rows []features.ScoredObservation) error {
	w := s.opts.writer
	if w == nil {
		opened, err := dataio.OpenWriter(s.cfg.outputLocation(), s.cfg.OutputTable)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer opened.Close()
		w = opened
	}

	if err := w.Replace(ctx, rows); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
