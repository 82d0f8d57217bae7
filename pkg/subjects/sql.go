package subjects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// Placeholders are written in ascending order so the same statements bind
// correctly on both PostgreSQL and SQLite.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		plan TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS subject_usage (
		subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		feature TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (subject_id, feature)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subject_usage_feature ON subject_usage(feature)`,
}

// SQLStore implements Store on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQL-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying connection pool
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate creates the subject tables if they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// CreateSubject inserts a subject and its initial usage counters
func (s *SQLStore) CreateSubject(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("subject id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO subjects (id, plan) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Plan,
	)
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %s", ErrSubjectExists, rec.ID)
	}

	for key, count := range rec.Usage {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO subject_usage (subject_id, feature, count) VALUES ($1, $2, $3)`,
			rec.ID, string(key), count,
		)
		if err != nil {
			return fmt.Errorf("failed to create usage for %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subject: %w", err)
	}
	return nil
}

// GetSubject loads a subject and its usage counters
func (s *SQLStore) GetSubject(ctx context.Context, id string) (*Record, error) {
	rec := &Record{Usage: make(map[plans.FeatureKey]int64)}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, plan, updated_at FROM subjects WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Plan, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT feature, count FROM subject_usage WHERE subject_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var feature string
		var count int64
		if err := rows.Scan(&feature, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		rec.Usage[plans.FeatureKey(feature)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	return rec, nil
}

// PersistPlanChange updates the stored plan in a single statement
func (s *SQLStore) PersistPlanChange(ctx context.Context, id string, tier plans.PlanTier) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subjects SET plan = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(tier), id,
	)
	if err != nil {
		return fmt.Errorf("failed to persist plan change: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check persisted plan change: %w", err)
	}
	if affected == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

// IncrementUsage adds n to a usage counter, creating it on first use. The
// insert and the update are both guarded by the cap, so concurrent writers
// across processes cannot push the counter past limit.
func (s *SQLStore) IncrementUsage(ctx context.Context, id string, key plans.FeatureKey, n, limit int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subject_usage (subject_id, feature, count)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS BIGINT) WHERE CAST($3 AS BIGINT) <= CAST($4 AS BIGINT)
		ON CONFLICT (subject_id, feature)
		DO UPDATE SET count = subject_usage.count + excluded.count, updated_at = CURRENT_TIMESTAMP
		WHERE subject_usage.count <= CAST($4 AS BIGINT) - excluded.count
		RETURNING count`,
		id, string(key), n, usageCap(limit),
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.usage(ctx, id, key)
		if err != nil {
			return 0, err
		}
		return current, ErrUsageLimit
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return total, nil
}

func (s *SQLStore) usage(ctx context.Context, id string, key plans.FeatureKey) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM subject_usage WHERE subject_id = $1 AND feature = $2`,
		id, string(key),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return count, nil
}

// ResetUsage zeroes the given counters for every subject
func (s *SQLStore) ResetUsage(ctx context.Context, keys []plans.FeatureKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(key)
	}

	query := fmt.Sprintf(
		`UPDATE subject_usage SET count = 0, updated_at = CURRENT_TIMESTAMP WHERE feature IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check reset usage: %w", err)
	}
	return affected, nil
}
