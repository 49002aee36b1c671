// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientData is returned when a matrix has too few rows to fit or score.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDimensionMismatch is returned when a matrix has a different feature
	// count than the one the model was fitted on.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// Each row of x is a sample and each column is a feature.
	Fit(x *mat.Dense) error

	// Score returns one anomaly score per row of x.
	// Lower (more negative) values indicate anomalies.
	Score(x *mat.Dense) ([]float64, error)

	// Decide maps scores to anomaly flags using the boundary fixed at fit time.
	Decide(scores []float64) []bool

	// Threshold returns the boundary fixed at fit time.
	Threshold() float64

	// MarshalBinary serializes the fitted state.
	MarshalBinary() ([]byte, error)

	// UnmarshalBinary restores a fitted state.
	UnmarshalBinary(data []byte) error
}

// Config holds common configuration for detectors.
type Config struct {
	// NEstimators is the ensemble size.
	NEstimators int
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		NEstimators:   100,
		Contamination: 0.05,
		RandomSeed:    42,
	}
}

// CheckShape validates that x is non-empty and has nFeatures columns.
// nFeatures <= 0 skips the column check.
func CheckShape(x *mat.Dense, minRows, nFeatures int) error {
	if x == nil || x.IsEmpty() {
		return ErrInsufficientData
	}
	r, c := x.Dims()
	if r < minRows {
		return fmt.Errorf("%w: got %d rows, need at least %d", ErrInsufficientData, r, minRows)
	}
	if nFeatures > 0 && c != nFeatures {
		return fmt.Errorf("%w: got %d features, want %d", ErrDimensionMismatch, c, nFeatures)
	}
	return nil
}
