package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgreSQL error codes the store translates.
const (
	uniqueViolation           = "23505"
	foreignKeyViolation       = "23503"
	invalidTextRepresentation = "22P02" // e.g. an ID that is not a UUID
)

// PostgresStore implements Store backed by PostgreSQL. The schema lives in
// migrations/ and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const ruleColumns = `id, application_order, active, source_column, source_pattern,
	output_column, output_pattern, created_at`

// AddRule inserts a new rule into the database. The generated ID and
// timestamp are written back to rule only once the insert succeeds.
func (s *PostgresStore) AddRule(ctx context.Context, rule *Rule) error {
	stored := *rule
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, stored.ID, stored.ApplicationOrder, stored.Active, stored.SourceColumn, stored.SourcePattern,
		stored.OutputColumn, stored.OutputPattern, stored.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", translatePQError(err))
	}

	*rule = stored
	return nil
}

// GetRule retrieves a rule by ID
func (s *PostgresStore) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", translateLookupError(err, "rule", id))
	}

	return rule, nil
}

// ListRules returns all rules by ascending application order
func (s *PostgresStore) ListRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		ORDER BY application_order ASC
	`)
}

// ListActiveRules returns active rules by ascending application order
func (s *PostgresStore) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE active = true
		ORDER BY application_order ASC
	`)
}

func (s *PostgresStore) queryRules(ctx context.Context, query string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []*Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// UpdateRule modifies an existing rule; created_at is left as stored
func (s *PostgresStore) UpdateRule(ctx context.Context, rule *Rule) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET application_order = $1, active = $2, source_column = $3, source_pattern = $4,
			output_column = $5, output_pattern = $6
		WHERE id = $7
	`, rule.ApplicationOrder, rule.Active, rule.SourceColumn, rule.SourcePattern,
		rule.OutputColumn, rule.OutputPattern, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w",
			translateLookupError(translatePQError(err), "rule", rule.ID))
	}

	if err := expectOneRow(result, "rule", rule.ID); err != nil {
		return err
	}

	stored, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = stored.CreatedAt
	return nil
}

// DeleteRule removes a rule from the database
func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", translateLookupError(err, "rule", id))
	}
	return expectOneRow(result, "rule", id)
}

// AddSourceLine inserts a new unprocessed line
func (s *PostgresStore) AddSourceLine(ctx context.Context, line *SourceLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(line.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_lines (id, fields, processed, created_at)
		VALUES ($1, $2, $3, $4)
	`, line.ID, fieldsJSON, line.Processed, line.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert source line: %w", translatePQError(err))
	}

	return nil
}

// GetSourceLine retrieves a source line by ID
func (s *PostgresStore) GetSourceLine(ctx context.Context, id string) (*SourceLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fields, processed, created_at
		FROM source_lines
		WHERE id = $1
	`, id)

	line, err := scanSourceLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source line %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source line: %w", translateLookupError(err, "source line", id))
	}
	return line, nil
}

// ListSourceLines returns all source lines by ingestion time
func (s *PostgresStore) ListSourceLines(ctx context.Context) ([]*SourceLine, error) {
	return s.querySourceLines(ctx, `
		SELECT id, fields, processed, created_at
		FROM source_lines
		ORDER BY created_at ASC, id ASC
	`)
}

// ListUnprocessed returns unprocessed lines by ingestion time
func (s *PostgresStore) ListUnprocessed(ctx context.Context) ([]*SourceLine, error) {
	return s.querySourceLines(ctx, `
		SELECT id, fields, processed, created_at
		FROM source_lines
		WHERE processed = false
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresStore) querySourceLines(ctx context.Context, query string) ([]*SourceLine, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list source lines: %w", err)
	}
	defer rows.Close()

	lines := []*SourceLine{}
	for rows.Next() {
		line, err := scanSourceLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source lines: %w", err)
	}
	return lines, nil
}

// CreateOutputLine inserts an output line
func (s *PostgresStore) CreateOutputLine(ctx context.Context, line *OutputLine) error {
	return insertOutputLine(ctx, s.db, line)
}

// MarkProcessed sets the processed flag of a source line
func (s *PostgresStore) MarkProcessed(ctx context.Context, sourceLineID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE source_lines SET processed = true WHERE id = $1
	`, sourceLineID)
	if err != nil {
		return fmt.Errorf("failed to mark source line processed: %w",
			translateLookupError(err, "source line", sourceLineID))
	}
	return expectOneRow(result, "source line", sourceLineID)
}

// CommitOutput inserts the output line and flags its source in one
// transaction. The update only matches a still-unprocessed source, so a
// concurrent commit for the same line rolls back instead of duplicating.
func (s *PostgresStore) CommitOutput(ctx context.Context, line *OutputLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOutputLine(ctx, tx, line); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE source_lines SET processed = true WHERE id = $1 AND processed = false
	`, line.SourceLineID)
	if err != nil {
		return fmt.Errorf("failed to mark source line processed: %w", err)
	}
	if err := expectOneRow(result, "unprocessed source line", line.SourceLineID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit output line: %w", err)
	}
	return nil
}

// ListOutputLines returns output lines by creation time
func (s *PostgresStore) ListOutputLines(ctx context.Context) ([]*OutputLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_line_id, fields, created_at
		FROM output_lines
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list output lines: %w", err)
	}
	defer rows.Close()

	lines := []*OutputLine{}
	for rows.Next() {
		line, err := scanOutputLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating output lines: %w", err)
	}
	return lines, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOutputLine(ctx context.Context, db execer, line *OutputLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(line.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO output_lines (id, source_line_id, fields, created_at)
		VALUES ($1, $2, $3, $4)
	`, line.ID, line.SourceLineID, fieldsJSON, line.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert output line: %w",
			translateLookupError(err, "source line", line.SourceLineID))
	}
	return nil
}

// translatePQError maps constraint violations onto the store's sentinels.
func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation &&
		pqErr.Constraint == "rules_application_order_unique" {
		return fmt.Errorf("%s: %w", pqErr.Message, ErrDuplicateOrder)
	}
	return err
}

// translateLookupError reports a missing or malformed referenced ID as
// ErrNotFound, matching the other stores.
func translateLookupError(err error, kind, id string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case invalidTextRepresentation, foreignKeyViolation:
		return fmt.Errorf("%s %s: %s: %w", kind, id, pqErr.Message, ErrNotFound)
	}
	return err
}
