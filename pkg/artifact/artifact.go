// Package artifact persists fitted model state as versioned binary blobs.
package artifact

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SchemaVersion is bumped whenever the envelope or a payload changes shape.
const SchemaVersion = 1

// Kinds of stored state.
const (
	KindScaler = "standard-scaler"
	KindForest = "isolation-forest"
)

// Default artifact names.
const (
	ScalerName = "cluster_anomaly_scaler"
	ModelName  = "cluster_anomaly_iforest"
)

var (
	// ErrNotFound is returned by Load when nothing was ever saved under a name.
	ErrNotFound = errors.New("artifact not found")

	// ErrIncompatible is returned when a stored artifact cannot be used by
	// this build or does not match its companion artifact.
	ErrIncompatible = errors.New("incompatible artifact")
)

// Artifact is the envelope around a serialized state.
type Artifact struct {
	Kind          string
	SchemaVersion int
	// RunID identifies the training run; artifacts from one run share it.
	RunID     string
	CreatedAt time.Time
	// Features is the ordered feature list the state was fitted on.
	Features []string
	Payload  []byte
}

// Store saves and loads artifacts by name.
type Store interface {
	// Save atomically replaces the artifact stored under name.
	Save(ctx context.Context, name string, a *Artifact) error

	// Load returns the artifact stored under name or ErrNotFound.
	Load(ctx context.Context, name string) (*Artifact, error)
}

// Encode serializes an artifact envelope.
func Encode(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an envelope and checks its schema version.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	if a.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrIncompatible, a.SchemaVersion, SchemaVersion)
	}
	return &a, nil
}

// Expect checks that a holds state of the given kind fitted on features.
func (a *Artifact) Expect(kind string, features []string) error {
	if a.Kind != kind {
		return fmt.Errorf("%w: kind %q, want %q", ErrIncompatible, a.Kind, kind)
	}
	if !slices.Equal(a.Features, features) {
		return fmt.Errorf("%w: features [%s], want [%s]", ErrIncompatible,
			strings.Join(a.Features, ", "), strings.Join(features, ", "))
	}
	return nil
}

// SameRun checks that two artifacts came out of one training run.
func SameRun(a, b *Artifact) error {
	if a.RunID != b.RunID {
		return fmt.Errorf("%w: %s is from run %s but %s is from run %s",
			ErrIncompatible, a.Kind, a.RunID, b.Kind, b.RunID)
	}
	return nil
}

// S3Options configures the S3 backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Open returns the store for location: "s3://bucket/prefix" selects S3,
// anything else is a local directory.
func Open(location string, s3 S3Options) (Store, error) {
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("artifact location %q: missing bucket", location)
		}
		return NewS3Store(bucket, prefix, s3)
	}
	if location == "" {
		return nil, errors.New("artifact location is empty")
	}
	return NewFileStore(location), nil
}
