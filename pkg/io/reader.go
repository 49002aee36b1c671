// Package io provides input/output for the daily utilization datasets.
package io

import (
	"context"
	"fmt"
	"strings"

	"github.com/hed1ad/gpuwatch/pkg/features"
	"github.com/hed1ad/gpuwatch/pkg/io/csv"
	"github.com/hed1ad/gpuwatch/pkg/io/sqldb"
)

// Reader is the interface for reading the gold daily dataset.
type Reader interface {
	// Read returns every observation in ascending date order.
	Read(ctx context.Context) ([]features.Observation, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for publishing scored observations.
type Writer interface {
	// Replace publishes rows as the complete scored dataset, discarding any
	// previous contents.
	Replace(ctx context.Context, rows []features.ScoredObservation) error

	// Close releases resources.
	Close() error
}

// Location kinds.
const (
	KindCSV      = "csv"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Classify reports which backend serves location.
func Classify(location string) (kind, target string, err error) {
	lower := strings.ToLower(location)
	switch {
	case location == "":
		return "", "", fmt.Errorf("dataset location is empty")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres, location, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return KindSQLite, location[len("sqlite://"):], nil
	case strings.HasSuffix(lower, ".csv"):
		return KindCSV, location, nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return KindSQLite, location, nil
	}
	return "", "", fmt.Errorf("unsupported dataset location %q", location)
}

// OpenReader opens the gold dataset at location. table is ignored for CSV.
func OpenReader(location, table string) (Reader, error) {
	kind, target, err := Classify(location)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindCSV:
		return csv.NewReader(target)
	default:
		db, err := sqldb.Open(kind, target)
		if err != nil {
			return nil, err
		}
		return db.Reader(table), nil
	}
}

// OpenWriter opens the scored dataset at location. table is ignored for CSV.
func OpenWriter(location, table string) (Writer, error) {
	kind, target, err := Classify(location)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindCSV:
		return csv.NewWriter(target), nil
	default:
		db, err := sqldb.Open(kind, target)
		if err != nil {
			return nil, err
		}
		return db.Writer(table), nil
	}
}
