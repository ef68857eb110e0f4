// Package stats records sweep statistics to a sqlite database,
// so that long optimization runs can be inspected and resumed.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableStats = "stats"
)

// Stat is the statistics of one optimization sweep.
type Stat struct {
	// Run identifies the optimization run.
	Run string
	// Sweep is the sweep number within the run.
	Sweep int
	// Energy is the energy after the sweep.
	Energy float64
	// Variance is the energy variance after the sweep.
	Variance float64
	// TruncErr is the maximum truncation error of the sweep.
	TruncErr float64
	// Chi is the largest bond dimension of the chain after the sweep.
	Chi int
}

// Recorder writes sweep statistics to a sqlite database.
type Recorder struct {
	path string
	db   *sql.DB
}

// Open opens a Recorder backed by the database at path.
// Existing statistics in the database are kept.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Recorder{path: path, db: db}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Record writes one sweep statistic.
func (r *Recorder) Record(ctx context.Context, s Stat) error {
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, sweep, energy, variance, truncerr, chi) VALUES (?, ?, ?, ?, ?, ?)`, tableStats)
	args := []any{s.Run, s.Sweep, s.Energy, s.Variance, s.TruncErr, s.Chi}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// List returns the statistics of a run ordered by sweep.
func (r *Recorder) List(ctx context.Context, run string) ([]Stat, error) {
	sqlStr := fmt.Sprintf(`SELECT run, sweep, energy, variance, truncerr, chi FROM %s WHERE run=? ORDER BY sweep`, tableStats)
	rows, err := r.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var s Stat
		if err := rows.Scan(&s.Run, &s.Sweep, &s.Energy, &s.Variance, &s.TruncErr, &s.Chi); err != nil {
			return nil, errors.Wrap(err, "")
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return stats, nil
}

// LastSweep returns the largest recorded sweep number of a run,
// or -1 when the run has no records.
func (r *Recorder) LastSweep(ctx context.Context, run string) (int, error) {
	sqlStr := fmt.Sprintf(`SELECT COALESCE(MAX(sweep), -1) FROM %s WHERE run=?`, tableStats)
	var sweep int
	if err := r.db.QueryRowContext(ctx, sqlStr, run).Scan(&sweep); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return sweep, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, sweep INTEGER, energy REAL, variance REAL, truncerr REAL, chi INTEGER, PRIMARY KEY (run, sweep)) STRICT`, tableStats)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
