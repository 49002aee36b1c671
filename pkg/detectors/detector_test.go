package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestCheckShape(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})

	tests := []struct {
		name      string
		x         *mat.Dense
		minRows   int
		nFeatures int
		wantErr   error
	}{
		{name: "ok", x: x, minRows: 2, nFeatures: 2},
		{name: "column check skipped", x: x, minRows: 1, nFeatures: 0},
		{name: "nil", x: nil, minRows: 1, nFeatures: 2, wantErr: ErrInsufficientData},
		{name: "too few rows", x: x, minRows: 4, nFeatures: 2, wantErr: ErrInsufficientData},
		{name: "wrong width", x: x, minRows: 1, nFeatures: 3, wantErr: ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckShape(tt.x, tt.minRows, tt.nFeatures)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, Config{NEstimators: 100, Contamination: 0.05, RandomSeed: 42}, DefaultConfig())
}
