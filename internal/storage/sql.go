package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/san-kum/cellsim/internal/jobs"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS simulations (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT,
	config TEXT NOT NULL DEFAULT '{}',
	total_time_seconds DOUBLE PRECISION NOT NULL,
	current_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
	simulation_id TEXT NOT NULL REFERENCES simulations(id) ON DELETE CASCADE,
	time_seconds DOUBLE PRECISION NOT NULL,
	metabolites TEXT NOT NULL,
	fluxes TEXT NOT NULL,
	cell_metrics TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (simulation_id, time_seconds)
);
CREATE INDEX IF NOT EXISTS idx_results_simulation_time ON results(simulation_id, time_seconds);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS simulations (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error_message TEXT,
	config JSONB NOT NULL DEFAULT '{}',
	total_time_seconds DOUBLE PRECISION NOT NULL,
	current_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
	simulation_id TEXT NOT NULL REFERENCES simulations(id) ON DELETE CASCADE,
	time_seconds DOUBLE PRECISION NOT NULL,
	metabolites JSONB NOT NULL,
	fluxes JSONB NOT NULL,
	cell_metrics JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (simulation_id, time_seconds)
);
CREATE INDEX IF NOT EXISTS idx_results_simulation_time ON results(simulation_id, time_seconds);
`

const recordColumns = `id, status, created_at, started_at, completed_at, error_message, config, total_time_seconds, current_time_seconds`

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

type jobConfig struct {
	Timestep float64 `json:"timestep"`
	Network  string  `json:"network,omitempty"`
}

// OpenSQL opens and migrates a sqlite3 or postgres database.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	schema := postgresSchema
	if driver == "sqlite3" {
		schema = sqliteSchema
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			`PRAGMA journal_mode=WAL;`,
			`PRAGMA busy_timeout=5000;`,
			`PRAGMA foreign_keys=ON;`,
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) CreateJob(ctx context.Context, rec jobs.Record) error {
	cfg, err := json.Marshal(jobConfig{Timestep: rec.Dt, Network: rec.Network})
	if err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = jobs.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO simulations (id, status, created_at, error_message, config, total_time_seconds, current_time_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, string(rec.Status), rec.CreatedAt, rec.ErrorMessage, string(cfg), rec.TotalTime, rec.CurrentTime,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (jobs.Record, error) {
	var (
		rec       jobs.Record
		status    string
		started   sql.NullTime
		completed sql.NullTime
		errMsg    sql.NullString
		cfg       []byte
	)
	if err := row.Scan(&rec.ID, &status, &rec.CreatedAt, &started, &completed, &errMsg, &cfg, &rec.TotalTime, &rec.CurrentTime); err != nil {
		return rec, err
	}
	rec.Status = jobs.Status(status)
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.ErrorMessage = &msg
	}
	var c jobConfig
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c); err != nil {
			return rec, fmt.Errorf("storage: decode config of %s: %w", rec.ID, err)
		}
	}
	rec.Dt = c.Timestep
	rec.Network = c.Network
	return rec, nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` FROM simulations WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func (s *SQLStore) ListJobs(ctx context.Context, limit, offset int) ([]jobs.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+recordColumns+` FROM simulations
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE simulation_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM simulations WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateStatus(ctx context.Context, u jobs.StatusUpdate) error {
	now := time.Now().UTC()
	sets := []string{"status = ?"}
	args := []any{string(u.Status)}

	if u.CurrentTime != nil {
		sets = append(sets, "current_time_seconds = ?")
		args = append(args, *u.CurrentTime)
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	}
	if u.Status == jobs.StatusRunning {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, now)
	}
	if u.Status.Terminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	args = append(args, u.JobID)

	query := `UPDATE simulations SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", u.JobID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) AppendTimestep(ctx context.Context, ts jobs.Timestep) error {
	metabolites, err := json.Marshal(ts.Concentrations)
	if err != nil {
		return err
	}
	fluxes, err := json.Marshal(ts.Fluxes)
	if err != nil {
		return err
	}
	cellMetrics, err := json.Marshal(ts.CellMetrics)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO results (simulation_id, time_seconds, metabolites, fluxes, cell_metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (simulation_id, time_seconds) DO UPDATE SET
			metabolites = excluded.metabolites,
			fluxes = excluded.fluxes,
			cell_metrics = excluded.cell_metrics,
			created_at = excluded.created_at`),
		ts.JobID, ts.Time, string(metabolites), string(fluxes), string(cellMetrics), time.Now().UTC(),
	)
	return err
}

func scanTimestep(row scanner) (jobs.Timestep, error) {
	var (
		ts                         jobs.Timestep
		metabolites, fluxes, cells []byte
	)
	if err := row.Scan(&ts.JobID, &ts.Time, &metabolites, &fluxes, &cells); err != nil {
		return ts, err
	}
	for _, f := range []struct {
		raw []byte
		dst *map[string]float64
	}{
		{metabolites, &ts.Concentrations},
		{fluxes, &ts.Fluxes},
		{cells, &ts.CellMetrics},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return ts, fmt.Errorf("storage: decode timestep %s@%g: %w", ts.JobID, ts.Time, err)
		}
	}
	return ts, nil
}

const timestepColumns = `simulation_id, time_seconds, metabolites, fluxes, cell_metrics`

func (s *SQLStore) ReadLatest(ctx context.Context, id string) (*jobs.Timestep, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+timestepColumns+` FROM results
		WHERE simulation_id = ?
		ORDER BY time_seconds DESC LIMIT 1`), id)
	ts, err := scanTimestep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *SQLStore) ReadAfter(ctx context.Context, id string, after *float64, limit int) ([]jobs.Timestep, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	query := `SELECT ` + timestepColumns + ` FROM results WHERE simulation_id = ?`
	args := []any{id}
	if after != nil {
		query += ` AND time_seconds > ?`
		args = append(args, *after)
	}
	query += ` ORDER BY time_seconds ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Timestep
	for rows.Next() {
		ts, err := scanTimestep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountTimesteps(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM results WHERE simulation_id = ?`), id).Scan(&n)
	return n, err
}
