package sqldb

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/gpuwatch/pkg/features"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func exec(t *testing.T, db *DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.SQL().Exec(s)
		require.NoError(t, err, s)
	}
}

func TestReaderOrdersByDate(t *testing.T) {
	db := openTestDB(t)
	exec(t, db,
		`CREATE TABLE gold_cluster_util_daily (dt DATE, avg_gpu_util REAL, p95_gpu_util REAL, avg_cpu_util REAL, n_jobs INTEGER)`,
		`INSERT INTO gold_cluster_util_daily VALUES ('2024-01-03', 52, 71, 33, 9)`,
		`INSERT INTO gold_cluster_util_daily VALUES ('2024-01-01', 50, 70, 30, 7)`,
		`INSERT INTO gold_cluster_util_daily VALUES ('2024-01-02', 51, 72, 31, 8)`,
	)

	obs, err := db.Reader("gold_cluster_util_daily").Read(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 3)

	for i, o := range obs {
		assert.Equal(t, time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC), o.Date)
	}
	assert.Equal(t, []float64{51, 72, 31}, obs[1].Vector())
}

func TestReaderNullIsNaN(t *testing.T) {
	db := openTestDB(t)
	exec(t, db,
		`CREATE TABLE gold (dt TEXT, avg_gpu_util REAL, p95_gpu_util REAL, avg_cpu_util REAL)`,
		`INSERT INTO gold VALUES ('2024-01-01', NULL, 70, 30)`,
	)

	obs, err := db.Reader("gold").Read(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.True(t, math.IsNaN(obs[0].AvgGPUUtil))
}

func TestReaderSchemaError(t *testing.T) {
	db := openTestDB(t)
	exec(t, db, `CREATE TABLE gold (dt TEXT, avg_gpu_util REAL, avg_cpu_util REAL)`)

	_, err := db.Reader("gold").Read(context.Background())
	assert.ErrorIs(t, err, features.ErrSchema)
}

func TestReaderRejectsBadTableName(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Reader("gold; DROP TABLE x").Read(context.Background())
	assert.ErrorContains(t, err, "invalid table name")
}

func TestWriterReplacesTable(t *testing.T) {
	db := openTestDB(t)
	w := db.Writer("gold_scored")
	ctx := context.Background()

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []features.ScoredObservation{
		{Observation: features.Observation{Date: day, AvgGPUUtil: 50, P95GPUUtil: 70, AvgCPUUtil: 30}, AnomalyScore: 0.12},
		{Observation: features.Observation{Date: day.AddDate(0, 0, 1), AvgGPUUtil: 98, P95GPUUtil: 100, AvgCPUUtil: 60}, AnomalyFlag: true, AnomalyScore: -0.2},
	}
	require.NoError(t, w.Replace(ctx, rows))
	require.NoError(t, w.Replace(ctx, rows))

	var count, flagged int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*), SUM(anomaly_flag) FROM gold_scored`).Scan(&count, &flagged))
	assert.Equal(t, 2, count, "second replace must not append")
	assert.Equal(t, 1, flagged)

	var score float64
	require.NoError(t, db.SQL().QueryRow(`SELECT anomaly_score FROM gold_scored WHERE anomaly_flag = 1`).Scan(&score))
	assert.Equal(t, -0.2, score)

	// The scored table keeps the gold columns, so it reads back as observations.
	obs, err := db.Reader("gold_scored").Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows[1].Observation, obs[1])
}

func TestWriterRollsBackOnCancel(t *testing.T) {
	db := openTestDB(t)
	exec(t, db,
		`CREATE TABLE gold_scored (dt TEXT)`,
		`INSERT INTO gold_scored VALUES ('keep')`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, db.Writer("gold_scored").Replace(ctx, nil))

	var dt string
	require.NoError(t, db.SQL().QueryRow(`SELECT dt FROM gold_scored`).Scan(&dt))
	assert.Equal(t, "keep", dt)
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("duckdb", "x")
	assert.Error(t, err)
}
