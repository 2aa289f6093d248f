package caseflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is a Store backed by PostgreSQL. Cases and checkpoints are
// stored as JSONB documents keyed by case id; the status log and intervention
// records get their own tables. UpdateCase uses SELECT ... FOR UPDATE so
// concurrent mutations of the same case serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for the given database URL and
// creates the schema if it does not exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool. The caller keeps
// ownership of the pool.
func NewPostgresStoreFromDB(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		document JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS status_log (
		seq BIGSERIAL PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_log_case ON status_log(case_id, seq);
	CREATE TABLE IF NOT EXISTS checkpoints (
		case_id TEXT PRIMARY KEY REFERENCES cases(id) ON DELETE CASCADE,
		document JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS interventions (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL,
		missing_fields JSONB NOT NULL,
		status TEXT NOT NULL,
		polling_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_case ON interventions(case_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_interventions_pending
		ON interventions(case_id) WHERE status = 'PENDING';`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		return fmt.Errorf("case id is required")
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	document, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, document, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		c.ID, document, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*Case, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM cases WHERE id = $1`, caseID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query case: %w", err)
	}
	var c Case
	if err := json.Unmarshal(document, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCase(ctx context.Context, caseID string, fn func(c *Case) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var document []byte
	err = tx.QueryRowContext(ctx,
		`SELECT document FROM cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&document)
	if err == sql.ErrNoRows {
		return ErrCaseNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock case: %w", err)
	}

	var c Case
	if err := json.Unmarshal(document, &c); err != nil {
		return fmt.Errorf("failed to unmarshal case: %w", err)
	}
	if err := fn(&c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()

	updated, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE cases SET document = $2, updated_at = $3 WHERE id = $1`,
		caseID, updated, c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *PostgresStore) CountCases(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AppendStatus(ctx context.Context, caseID string, status Status) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO status_log (case_id, status, recorded_at)
		 SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM cases WHERE id = $1)`,
		caseID, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("failed to append status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *PostgresStore) LatestStatus(ctx context.Context, caseID string) (*StatusEntry, error) {
	var entry StatusEntry
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT case_id, status, recorded_at FROM status_log
		 WHERE case_id = $1 ORDER BY seq DESC LIMIT 1`,
		caseID).Scan(&entry.CaseID, &status, &entry.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest status: %w", err)
	}
	entry.Status = Status(status)
	return &entry, nil
}

func (s *PostgresStore) StatusHistory(ctx context.Context, caseID string) ([]*StatusEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, status, recorded_at FROM status_log
		 WHERE case_id = $1 ORDER BY seq ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var entries []*StatusEntry
	for rows.Next() {
		var entry StatusEntry
		var status string
		if err := rows.Scan(&entry.CaseID, &status, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan status entry: %w", err)
		}
		entry.Status = Status(status)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	checkpoint.CheckpointAt = time.Now()
	document, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (case_id, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (case_id) DO UPDATE SET document = $2, updated_at = $3`,
		checkpoint.CaseID, document, checkpoint.CheckpointAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, caseID string) (*Checkpoint, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM checkpoints WHERE case_id = $1`, caseID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(document, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, caseID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE case_id = $1`, caseID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateIntervention(ctx context.Context, record *InterventionRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interventions WHERE case_id = $1 AND status = 'PENDING'`,
		record.CaseID).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("failed to count pending interventions: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	if record.ID == "" {
		record.ID = NewInterventionID()
	}
	record.Status = InterventionPending
	record.PollingActive = true
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	missing, err := json.Marshal(record.MissingFields)
	if err != nil {
		return false, fmt.Errorf("failed to marshal missing fields: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO interventions
			(id, case_id, kind, reason, missing_fields, status, polling_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.CaseID, record.Kind, record.Reason,
		missing, string(record.Status), record.PollingActive, record.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert intervention: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ResolveInterventions(ctx context.Context, caseID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE interventions
		 SET status = 'RESOLVED', polling_active = FALSE, resolved_at = $2
		 WHERE case_id = $1 AND status = 'PENDING'`,
		caseID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to resolve interventions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) SetPollingActive(ctx context.Context, caseID string, active bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE interventions SET polling_active = $2
		 WHERE case_id = $1 AND status = 'PENDING'`,
		caseID, active); err != nil {
		return fmt.Errorf("failed to update polling flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) Interventions(ctx context.Context, caseID string) ([]*InterventionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, kind, reason, missing_fields, status, polling_active, created_at, resolved_at
		 FROM interventions WHERE case_id = $1 ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var records []*InterventionRecord
	for rows.Next() {
		var record InterventionRecord
		var missing []byte
		var status string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&record.ID, &record.CaseID, &record.Kind, &record.Reason,
			&missing, &status, &record.PollingActive, &record.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intervention: %w", err)
		}
		if err := json.Unmarshal(missing, &record.MissingFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing fields: %w", err)
		}
		record.Status = InterventionStatus(status)
		if resolvedAt.Valid {
			record.ResolvedAt = resolvedAt.Time
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interventions: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) CountPendingInterventions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interventions WHERE status = 'PENDING'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending interventions: %w", err)
	}
	return count, nil
}
