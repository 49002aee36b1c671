package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	r := NewRecorder()
	start := time.Unix(1_700_000_000, 0)

	r.ObserveRun(PipelineTrain, start, start.Add(3*time.Second), nil)
	r.ObserveRun(PipelineTrain, start, start.Add(time.Second), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues(PipelineTrain, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues(PipelineTrain, StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Duration.WithLabelValues(PipelineTrain)))
	assert.Equal(t, float64(start.Add(3*time.Second).Unix()),
		testutil.ToFloat64(r.LastSuccess.WithLabelValues(PipelineTrain)))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.AnomaliesFlagged.Set(5)

	assert.Equal(t, 5.0, testutil.ToFloat64(a.AnomaliesFlagged))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AnomaliesFlagged))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.AnomaliesFlagged.Set(6)
	r.RowsProcessed.WithLabelValues(PipelineScore).Set(100)

	path := filepath.Join(t.TempDir(), "textfile", "gpuwatch.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gpuwatch_anomalies_flagged 6")
	assert.Contains(t, string(data), `gpuwatch_rows_processed{pipeline="score"} 100`)
}
