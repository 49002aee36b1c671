// Package csv reads and writes daily utilization tables as CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hed1ad/gpuwatch/pkg/features"
)

// Reader reads observations from a CSV file with a header row.
type Reader struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	index   map[string]int
}

// NewReader opens filename and validates its header.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:   file,
		reader: csv.NewReader(file),
	}
	r.reader.ReuseRecord = true

	headers, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		headers, err = nil, nil
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read header of %s: %w", filename, err)
	}
	r.headers = append([]string(nil), headers...)

	if err := features.RequireColumns(r.headers); err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	r.index = make(map[string]int, len(r.headers))
	for i, h := range r.headers {
		r.index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns every row sorted by date. Malformed rows are errors.
func (r *Reader) Read(ctx context.Context) ([]features.Observation, error) {
	var out []features.Observation

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		obs, err := r.parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, obs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// parseRow maps a record onto an Observation by header name.
func (r *Reader) parseRow(record []string) (features.Observation, error) {
	var obs features.Observation

	date, err := features.ParseDate(record[r.index[features.ColumnDate]])
	if err != nil {
		return obs, err
	}
	obs.Date = date

	fields := []struct {
		column string
		dst    *float64
	}{
		{features.ColumnAvgGPUUtil, &obs.AvgGPUUtil},
		{features.ColumnP95GPUUtil, &obs.P95GPUUtil},
		{features.ColumnAvgCPUUtil, &obs.AvgCPUUtil},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[r.index[f.column]]), 64)
		if err != nil {
			return obs, fmt.Errorf("%s: %w", f.column, err)
		}
		*f.dst = v
	}

	return obs, nil
}
