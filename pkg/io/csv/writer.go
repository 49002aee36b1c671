package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hed1ad/gpuwatch/pkg/features"
)

// Writer publishes a scored table as a CSV file.
type Writer struct {
	filename string
}

// NewWriter returns a writer for filename. Nothing is touched until Replace.
func NewWriter(filename string) *Writer {
	return &Writer{filename: filename}
}

// Header is the column order of the scored table.
var Header = append(append([]string(nil), features.Required...),
	features.ColumnAnomalyFlag, features.ColumnAnomalyScore)

// Replace writes rows to a temporary file and renames it over filename.
func (w *Writer) Replace(ctx context.Context, rows []features.ScoredObservation) error {
	dir := filepath.Dir(w.filename)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.filename)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(Header); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		if err := cw.Write(record(r)); err != nil {
			tmp.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), w.filename); err != nil {
		return fmt.Errorf("publish %s: %w", w.filename, err)
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func record(r features.ScoredObservation) []string {
	return []string{
		r.Date.Format(features.DateLayout),
		formatFloat(r.AvgGPUUtil),
		formatFloat(r.P95GPUUtil),
		formatFloat(r.AvgCPUUtil),
		strconv.Itoa(r.FlagInt()),
		formatFloat(r.AnomalyScore),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
