package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact(runID string) *Artifact {
	return &Artifact{
		Kind:          KindScaler,
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Features:      []string{"a", "b"},
		Payload:       []byte{1, 2, 3},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "artifacts"))

	want := testArtifact("run-1")
	require.NoError(t, store.Save(ctx, ScalerName, want))

	got, err := store.Load(ctx, ScalerName)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	require.NoError(t, store.Save(ctx, ModelName, testArtifact("run-1")))
	require.NoError(t, store.Save(ctx, ModelName, testArtifact("run-2")))

	got, err := store.Load(ctx, ModelName)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files may be left behind")
}

func TestFileStoreNotFound(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Load(context.Background(), ScalerName)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.WriteFile(store.Path(ScalerName), []byte("garbage"), 0o600))

	_, err := store.Load(context.Background(), ScalerName)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestFileStoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewFileStore(t.TempDir())
	assert.ErrorIs(t, store.Save(ctx, ScalerName, testArtifact("x")), context.Canceled)
	_, err := store.Load(ctx, ScalerName)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRejectsOtherVersions(t *testing.T) {
	a := testArtifact("run-1")
	a.SchemaVersion = SchemaVersion + 1
	data, err := Encode(a)
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestExpect(t *testing.T) {
	a := testArtifact("run-1")

	assert.NoError(t, a.Expect(KindScaler, []string{"a", "b"}))
	assert.ErrorIs(t, a.Expect(KindForest, []string{"a", "b"}), ErrIncompatible)
	assert.ErrorIs(t, a.Expect(KindScaler, []string{"b", "a"}), ErrIncompatible)
}

func TestSameRun(t *testing.T) {
	assert.NoError(t, SameRun(testArtifact("r"), testArtifact("r")))
	assert.ErrorIs(t, SameRun(testArtifact("r"), testArtifact("s")), ErrIncompatible)
}

func TestOpen(t *testing.T) {
	store, err := Open(t.TempDir(), S3Options{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = Open("s3://models/gpuwatch/prod", S3Options{Endpoint: "localhost:9000"})
	require.NoError(t, err)
	require.IsType(t, &S3Store{}, store)
	assert.Equal(t, "gpuwatch/prod/cluster_anomaly_iforest.gob", store.(*S3Store).Key(ModelName))

	_, err = Open("s3:///prefix", S3Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	_, err = Open("", S3Options{})
	assert.Error(t, err)
}
