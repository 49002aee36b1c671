// Package features defines the daily cluster utilization record and turns
// it into the fixed-order feature matrix the detectors consume.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Column names of the gold daily utilization table.
const (
	ColumnDate       = "dt"
	ColumnAvgGPUUtil = "avg_gpu_util"
	ColumnP95GPUUtil = "p95_gpu_util"
	ColumnAvgCPUUtil = "avg_cpu_util"

	ColumnAnomalyFlag  = "anomaly_flag"
	ColumnAnomalyScore = "anomaly_score"
)

// Names is the feature order shared by the scaler and the model.
var Names = []string{ColumnAvgGPUUtil, ColumnP95GPUUtil, ColumnAvgCPUUtil}

// Required lists the columns every input dataset must provide.
var Required = append([]string{ColumnDate}, Names...)

var (
	// ErrSchema is returned when a required column is absent.
	ErrSchema = errors.New("schema error")

	// ErrNonFiniteValue is returned when a feature is NaN or infinite.
	ErrNonFiniteValue = errors.New("non-finite feature value")

	// ErrUnordered is returned when dates are not strictly ascending.
	ErrUnordered = errors.New("observations not in strictly ascending date order")
)

// DateLayout is the canonical textual form of an observation date.
const DateLayout = "2006-01-02"

// Observation is one day of pre-aggregated cluster utilization.
type Observation struct {
	Date       time.Time
	AvgGPUUtil float64
	P95GPUUtil float64
	AvgCPUUtil float64
}

// Vector returns the features in Names order.
func (o Observation) Vector() []float64 {
	return []float64{o.AvgGPUUtil, o.P95GPUUtil, o.AvgCPUUtil}
}

// ScoredObservation is an Observation with the model's verdict attached.
type ScoredObservation struct {
	Observation
	AnomalyFlag  bool
	AnomalyScore float64
}

// FlagInt returns the flag as 0 or 1.
func (s ScoredObservation) FlagInt() int {
	if s.AnomalyFlag {
		return 1
	}
	return 0
}

// RequireColumns checks a table header for every required column.
func RequireColumns(columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(strings.TrimSpace(c))] = true
	}

	var missing []string
	for _, c := range Required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing column(s) %s", ErrSchema, strings.Join(missing, ", "))
	}
	return nil
}

// Extract builds the feature matrix for obs, one row per observation in the
// same order. It returns a nil matrix for empty input.
func Extract(obs []Observation) (*mat.Dense, error) {
	if len(obs) == 0 {
		return nil, nil
	}

	x := mat.NewDense(len(obs), len(Names), nil)
	for i, o := range obs {
		if i > 0 && !o.Date.After(obs[i-1].Date) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrUnordered,
				o.Date.Format(DateLayout), obs[i-1].Date.Format(DateLayout))
		}
		v := o.Vector()
		for j, f := range v {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: %s on %s is %v",
					ErrNonFiniteValue, Names[j], o.Date.Format(DateLayout), f)
			}
		}
		x.SetRow(i, v)
	}

	return x, nil
}

// Assemble pairs every observation with its score and flag.
func Assemble(obs []Observation, scores []float64, flags []bool) ([]ScoredObservation, error) {
	if len(scores) != len(obs) || len(flags) != len(obs) {
		return nil, fmt.Errorf("assemble: %d observations, %d scores, %d flags", len(obs), len(scores), len(flags))
	}

	out := make([]ScoredObservation, len(obs))
	for i, o := range obs {
		out[i] = ScoredObservation{
			Observation:  o,
			AnomalyFlag:  flags[i],
			AnomalyScore: scores[i],
		}
	}
	return out, nil
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
}

// ParseDate parses the date forms produced by CSV exports and SQL drivers and
// truncates the result to a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
