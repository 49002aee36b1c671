package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		location   string
		wantKind   string
		wantTarget string
		wantErr    bool
	}{
		{location: "data/gold.csv", wantKind: KindCSV, wantTarget: "data/gold.csv"},
		{location: "telemetry.db", wantKind: KindSQLite, wantTarget: "telemetry.db"},
		{location: "sqlite:///var/lib/gpuwatch/t.sqlite", wantKind: KindSQLite, wantTarget: "/var/lib/gpuwatch/t.sqlite"},
		{location: "postgres://u:p@db:5432/telemetry", wantKind: KindPostgres, wantTarget: "postgres://u:p@db:5432/telemetry"},
		{location: "", wantErr: true},
		{location: "gold.parquet", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			kind, target, err := Classify(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestOpenReaderCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gold.csv")
	require.NoError(t, os.WriteFile(path, []byte("dt,avg_gpu_util,p95_gpu_util,avg_cpu_util\n2024-01-01,1,2,3\n"), 0o600))

	r, err := OpenReader(path, "ignored")
	require.NoError(t, err)
	defer r.Close()

	obs, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, 1)
}
