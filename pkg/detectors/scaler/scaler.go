// Package scaler implements per-feature standardization (zero mean, unit variance).
package scaler

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/gpuwatch/pkg/detectors"
)

// State is a fitted standardization transform. It is immutable after Fit.
type State struct {
	Mean  []float64
	Scale []float64
}

// Fit computes the population mean and standard deviation of every column of x.
// Columns whose deviation is numerically zero get a scale of 1.
func Fit(x *mat.Dense) (*State, error) {
	if err := detectors.CheckShape(x, 1, 0); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}

	r, c := x.Dims()
	s := &State{
		Mean:  make([]float64, c),
		Scale: make([]float64, c),
	}

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = scaleFor(mean, std)
	}

	return s, nil
}

// epsilon is the float64 machine epsilon.
const epsilon = 2.220446049250313e-16

// scaleFor guards against division by (near) zero for constant columns.
func scaleFor(mean, std float64) float64 {
	tol := 10 * epsilon * math.Max(1, math.Abs(mean))
	if std <= tol || math.IsNaN(std) {
		return 1
	}
	return std
}

// NFeatures returns the feature count the transform was fitted on.
func (s *State) NFeatures() int {
	return len(s.Mean)
}

// Transform returns a new matrix with every element standardized as
// (value - mean[col]) / scale[col]. x is not modified.
func (s *State) Transform(x *mat.Dense) (*mat.Dense, error) {
	if err := detectors.CheckShape(x, 1, s.NFeatures()); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)

	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *State) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode scaler: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *State) UnmarshalBinary(data []byte) error {
	var decoded State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return fmt.Errorf("decode scaler: %w", err)
	}
	if len(decoded.Mean) == 0 || len(decoded.Mean) != len(decoded.Scale) {
		return fmt.Errorf("decode scaler: %w: %d means, %d scales",
			detectors.ErrDimensionMismatch, len(decoded.Mean), len(decoded.Scale))
	}
	*s = decoded
	return nil
}
