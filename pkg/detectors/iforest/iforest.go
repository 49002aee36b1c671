// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/gpuwatch/pkg/detectors"
)

// ErrNotFitted is returned when scoring with a forest that has no trees.
var ErrNotFitted = errors.New("model not fitted")

var _ detectors.Detector = (*IsolationForest)(nil)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	maxSamples    int
	contamination float64
	seed          int64
	workers       int
	logger        *zap.Logger

	// Fitted model
	state *State
}

// State is the persisted form of a fitted forest.
type State struct {
	NEstimators   int
	Contamination float64
	RandomSeed    int64
	MaxSamples    int

	// SampleSize is the subsample size each tree was grown on.
	SampleSize int
	NFeatures  int
	// Offset is the raw-score percentile that separates the expected
	// contamination fraction of the training rows from the rest.
	Offset float64

	Trees []Tree
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithMaxSamples caps the subsample size for each tree.
func WithMaxSamples(n int) Option {
	return func(f *IsolationForest) {
		f.maxSamples = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the master random seed.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees grown concurrently.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *IsolationForest) {
		f.logger = l
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	def := detectors.DefaultConfig()
	f := &IsolationForest{
		nTrees:        def.NEstimators,
		maxSamples:    256,
		contamination: def.Contamination,
		seed:          def.RandomSeed,
		workers:       runtime.GOMAXPROCS(0),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FromState wraps a previously fitted state.
func FromState(s *State, opts ...Option) (*IsolationForest, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	f := New(opts...)
	f.nTrees = s.NEstimators
	f.maxSamples = s.MaxSamples
	f.contamination = s.Contamination
	f.seed = s.RandomSeed
	f.state = s
	return f, nil
}

// Fit trains the Isolation Forest on x and calibrates the decision offset.
func (f *IsolationForest) Fit(x *mat.Dense) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nTrees < 1 {
		return fmt.Errorf("fit: n_estimators must be positive, got %d", f.nTrees)
	}
	if f.contamination <= 0 || f.contamination > 0.5 {
		return fmt.Errorf("fit: contamination must be in (0, 0.5], got %v", f.contamination)
	}
	if f.maxSamples < 2 {
		return fmt.Errorf("fit: max_samples must be at least 2, got %d", f.maxSamples)
	}
	if err := detectors.CheckShape(x, 2, 0); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	rows := rowsOf(x)
	nSamples, nFeatures := x.Dims()
	sampleSize := min(f.maxSamples, nSamples)
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	trees := make([]Tree, f.nTrees)
	var g errgroup.Group
	g.SetLimit(max(1, f.workers))
	for i := range trees {
		i := i
		g.Go(func() error {
			b := newBuilder(treeSeed(f.seed, i), maxDepth)
			trees[i] = b.build(rows, sampleSize, nFeatures)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	s := &State{
		NEstimators:   f.nTrees,
		Contamination: f.contamination,
		RandomSeed:    f.seed,
		MaxSamples:    f.maxSamples,
		SampleSize:    sampleSize,
		NFeatures:     nFeatures,
		Trees:         trees,
	}
	s.Offset = percentile(s.rawScores(rows), 100*f.contamination)
	f.state = s

	f.logger.Debug("isolation forest fitted",
		zap.Int("trees", len(trees)),
		zap.Int("samples", nSamples),
		zap.Int("sample_size", sampleSize),
		zap.Int("max_depth", maxDepth),
		zap.Float64("offset", s.Offset),
	)

	return nil
}

// Score returns the anomaly score of every row of x. Scores are shifted by
// the fitted offset so that negative values fall on the anomalous side of
// the decision boundary; lower is more anomalous.
func (f *IsolationForest) Score(x *mat.Dense) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.state == nil {
		return nil, ErrNotFitted
	}
	if err := detectors.CheckShape(x, 1, f.state.NFeatures); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	scores := f.state.rawScores(rowsOf(x))
	for i := range scores {
		scores[i] -= f.state.Offset
	}
	return scores, nil
}

// ScoreOne returns the anomaly score for a single sample.
func (f *IsolationForest) ScoreOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.state == nil {
		return 0, ErrNotFitted
	}
	if len(sample) != f.state.NFeatures {
		return 0, fmt.Errorf("score: %w: got %d features, want %d",
			detectors.ErrDimensionMismatch, len(sample), f.state.NFeatures)
	}
	return f.state.rawScore(sample) - f.state.Offset, nil
}

// Decide flags every score that falls below the fitted decision boundary.
// The boundary does not depend on the batch being scored.
func (f *IsolationForest) Decide(scores []float64) []bool {
	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s < 0
	}
	return flags
}

// Threshold returns the raw-score offset fixed at fit time.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state == nil {
		return 0
	}
	return f.state.Offset
}

// State returns the fitted state, or nil before Fit.
func (f *IsolationForest) State() *State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// MarshalBinary serializes the fitted model.
func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.state == nil {
		return nil, ErrNotFitted
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.state); err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted model.
func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if err := s.validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nTrees = s.NEstimators
	f.maxSamples = s.MaxSamples
	f.contamination = s.Contamination
	f.seed = s.RandomSeed
	f.state = &s
	return nil
}

func (s *State) validate() error {
	if s == nil || len(s.Trees) == 0 {
		return ErrNotFitted
	}
	if s.NFeatures < 1 || s.SampleSize < 1 {
		return fmt.Errorf("decode forest: invalid shape (features=%d, sample size=%d)", s.NFeatures, s.SampleSize)
	}
	for i := range s.Trees {
		if err := s.Trees[i].validate(s.NFeatures); err != nil {
			return fmt.Errorf("decode forest: tree %d: %w", i, err)
		}
	}
	return nil
}

// rawScores returns -2^(-E[h(x)]/c(psi)) for every row.
func (s *State) rawScores(rows [][]float64) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = s.rawScore(row)
	}
	return scores
}

func (s *State) rawScore(sample []float64) float64 {
	var total float64
	for i := range s.Trees {
		total += s.Trees[i].pathLength(sample)
	}
	avgPath := total / float64(len(s.Trees))

	norm := averagePathLength(s.SampleSize)
	if norm == 0 {
		return -1
	}
	return -math.Pow(2, -avgPath/norm)
}

// rowsOf returns row views into x without copying.
func rowsOf(x *mat.Dense) [][]float64 {
	r, _ := x.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = x.RawRowView(i)
	}
	return rows
}

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649015329

// averagePathLength returns c(n), the average path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile returns the p-th percentile of data using linear interpolation
// between closest ranks.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	slices.Sort(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
