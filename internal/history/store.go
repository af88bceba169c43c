package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"

	_ "modernc.org/sqlite"
)

// DailyCost is one stored day of one provider, or of every provider when
// Provider is monitor.TotalKey
type DailyCost struct {
	Date      string    `json:"date"`
	Provider  string    `json:"provider"`
	Currency  string    `json:"currency"`
	Cost      float64   `json:"cost"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncRun records one provider fetch
type SyncRun struct {
	ID         string        `json:"id"`
	Provider   string        `json:"provider"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	DataPoints int           `json:"data_points"`
}

// Store is a SQLite-backed cost history
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSummary upserts the per-provider daily costs of a summary and
// returns the number of rows written
func (s *Store) SaveSummary(ctx context.Context, summary *aggregator.MultiCloudCostSummary, at time.Time) (int, error) {
	if summary == nil {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_costs (date, provider, currency, cost, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(date, provider) DO UPDATE SET
		   currency = excluded.currency,
		   cost = excluded.cost,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, day := range summary.CombinedDailyCosts {
		for _, p := range summary.Providers() {
			cost, ok := day.ProviderBreakdown[p]
			if !ok {
				continue
			}
			if _, err := stmt.ExecContext(ctx, day.Date, p, summary.Currency, cost, at.UnixMilli()); err != nil {
				return 0, fmt.Errorf("upsert daily cost %s/%s: %w", day.Date, p, err)
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit daily costs: %w", err)
	}
	return written, nil
}

// DailyCosts returns stored days in [start, end] ordered by date. A provider
// of monitor.TotalKey sums every provider per day.
func (s *Store) DailyCosts(ctx context.Context, p string, start, end time.Time) ([]DailyCost, error) {
	from, to := start.Format(provider.DateLayout), end.Format(provider.DateLayout)

	var (
		rows *sql.Rows
		err  error
	)
	if p == monitor.TotalKey {
		rows, err = s.db.QueryContext(ctx,
			`SELECT date, ?, MAX(currency), SUM(cost), MAX(updated_at)
			 FROM daily_costs WHERE date BETWEEN ? AND ?
			 GROUP BY date ORDER BY date`, monitor.TotalKey, from, to)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT date, provider, currency, cost, updated_at
			 FROM daily_costs WHERE provider = ? AND date BETWEEN ? AND ?
			 ORDER BY date`, p, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("query daily costs: %w", err)
	}
	defer rows.Close()

	var out []DailyCost
	for rows.Next() {
		var (
			d       DailyCost
			updated int64
		)
		if err := rows.Scan(&d.Date, &d.Provider, &d.Currency, &d.Cost, &updated); err != nil {
			return nil, fmt.Errorf("scan daily cost: %w", err)
		}
		d.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Series returns dates and costs of DailyCosts as parallel slices
func (s *Store) Series(ctx context.Context, p string, start, end time.Time) ([]string, []float64, error) {
	days, err := s.DailyCosts(ctx, p, start, end)
	if err != nil {
		return nil, nil, err
	}
	dates := make([]string, len(days))
	costs := make([]float64, len(days))
	for i, d := range days {
		dates[i] = d.Date
		costs[i] = d.Cost
	}
	return dates, costs, nil
}

// RecordSync stores one provider fetch
func (s *Store) RecordSync(ctx context.Context, run SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, provider, started_at, duration_ms, success, error_kind, error, data_points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Provider, run.StartedAt.UnixMilli(), run.Duration.Milliseconds(),
		run.Success, run.ErrorKind, run.Error, run.DataPoints)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// LastSyncs returns the most recent run of every provider, ordered by provider
func (s *Store) LastSyncs(ctx context.Context) ([]SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.provider, r.started_at, r.duration_ms, r.success, r.error_kind, r.error, r.data_points
		 FROM sync_runs r
		 JOIN (SELECT provider, MAX(started_at) AS started_at FROM sync_runs GROUP BY provider) latest
		   ON latest.provider = r.provider AND latest.started_at = r.started_at
		 ORDER BY r.provider`)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			run       SyncRun
			started   int64
			duration  int64
			succeeded int64
		)
		if err := rows.Scan(&run.ID, &run.Provider, &started, &duration, &succeeded, &run.ErrorKind, &run.Error, &run.DataPoints); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		if seen[run.Provider] {
			continue
		}
		seen[run.Provider] = true
		run.StartedAt = time.UnixMilli(started).UTC()
		run.Duration = time.Duration(duration) * time.Millisecond
		run.Success = succeeded != 0
		out = append(out, run)
	}
	return out, rows.Err()
}

// Prune deletes daily costs dated before cutoff and sync runs started
// before it, returning the number of rows removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM daily_costs WHERE date < ?", cutoff.Format(provider.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("prune daily costs: %w", err)
	}
	days, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM sync_runs WHERE started_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune sync runs: %w", err)
	}
	runs, _ := res.RowsAffected()

	return days + runs, nil
}
