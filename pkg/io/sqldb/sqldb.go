// Package sqldb reads the gold daily table from, and publishes the scored
// table to, SQLite or PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/hed1ad/gpuwatch/pkg/features"
)

// dialect captures the few differences between the supported databases.
type dialect struct {
	driver string
	floatT string
	bind   func(n int) string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		floatT: "REAL",
		bind:   func(int) string { return "?" },
	},
	"postgres": {
		driver: "pgx",
		floatT: "DOUBLE PRECISION",
		bind:   func(n int) string { return fmt.Sprintf("$%d", n) },
	},
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used unquoted as a table name.
func ValidIdentifier(name string) bool {
	return identRe.MatchString(name)
}

// DB is a connection to one database.
type DB struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to a database. kind is "sqlite" (dsn is a file path or
// ":memory:") or "postgres" (dsn is a connection URL).
func Open(kind, dsn string) (*DB, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported database %q", kind)
	}

	if kind == "sqlite" {
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}

	if kind == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite is single-writer
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &DB{db: db, dialect: d}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Reader returns a reader over table.
func (d *DB) Reader(table string) *Reader {
	return &Reader{db: d, table: table}
}

// Writer returns a writer that replaces table.
func (d *DB) Writer(table string) *Writer {
	return &Writer{db: d, table: table}
}

// Reader reads observations from a gold table.
type Reader struct {
	db    *DB
	table string
}

// Columns returns the column names of the table.
func (r *Reader) Columns(ctx context.Context) ([]string, error) {
	if !ValidIdentifier(r.table) {
		return nil, fmt.Errorf("invalid table name %q", r.table)
	}

	rows, err := r.db.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", r.table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", r.table, err)
	}
	defer rows.Close()

	return rows.Columns()
}

// Read returns every row ordered by date. NULL features are read as NaN.
func (r *Reader) Read(ctx context.Context) ([]features.Observation, error) {
	cols, err := r.Columns(ctx)
	if err != nil {
		return nil, err
	}
	if err := features.RequireColumns(cols); err != nil {
		return nil, fmt.Errorf("%s: %w", r.table, err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(features.Required, ", "), r.table, features.ColumnDate)
	rows, err := r.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []features.Observation
	for rows.Next() {
		var (
			dt            any
			avg, p95, cpu sql.NullFloat64
		)
		if err := rows.Scan(&dt, &avg, &p95, &cpu); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.table, err)
		}

		date, err := toDate(dt)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.table, features.ColumnDate, err)
		}
		out = append(out, features.Observation{
			Date:       date,
			AvgGPUUtil: orNaN(avg),
			P95GPUUtil: orNaN(p95),
			AvgCPUUtil: orNaN(cpu),
		})
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Writer replaces a scored table.
type Writer struct {
	db    *DB
	table string
}

// Replace drops and recreates the table with rows in a single transaction.
func (w *Writer) Replace(ctx context.Context, rows []features.ScoredObservation) error {
	if !ValidIdentifier(w.table) {
		return fmt.Errorf("invalid table name %q", w.table)
	}

	tx, err := w.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ft := w.db.dialect.floatT
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", w.table),
		fmt.Sprintf(`CREATE TABLE %s (
    %s DATE NOT NULL PRIMARY KEY,
    %s %s NOT NULL,
    %s %s NOT NULL,
    %s %s NOT NULL,
    %s INTEGER NOT NULL,
    %s %s NOT NULL
)`, w.table,
			features.ColumnDate,
			features.ColumnAvgGPUUtil, ft,
			features.ColumnP95GPUUtil, ft,
			features.ColumnAvgCPUUtil, ft,
			features.ColumnAnomalyFlag,
			features.ColumnAnomalyScore, ft),
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("recreate %s: %w", w.table, err)
		}
	}

	bind := w.db.dialect.bind
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s)",
		w.table,
		strings.Join(features.Required, ", "),
		features.ColumnAnomalyFlag, features.ColumnAnomalyScore,
		bind(1), bind(2), bind(3), bind(4), bind(5), bind(6),
	))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	for _, r := range rows {
		_, err := insert.ExecContext(ctx,
			r.Date.Format(features.DateLayout),
			r.AvgGPUUtil, r.P95GPUUtil, r.AvgCPUUtil,
			r.FlagInt(), r.AnomalyScore,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.Date.Format(features.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", w.table, err)
	}
	return nil
}

// Close closes the database connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

func toDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return features.Day(t), nil
	case string:
		return features.ParseDate(t)
	case []byte:
		return features.ParseDate(string(t))
	case nil:
		return time.Time{}, fmt.Errorf("NULL date")
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
