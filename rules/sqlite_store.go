package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on an embedded SQLite file. It suits
// single-process use such as the transform CLI; the schema is created on
// open.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens the database with custom settings.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: cfg.Path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		application_order INTEGER NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1,
		source_column TEXT NOT NULL,
		source_pattern TEXT NOT NULL,
		output_column TEXT NOT NULL,
		output_pattern TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS source_lines (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		fields TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_source_lines_processed ON source_lines(processed);

	CREATE TABLE IF NOT EXISTS output_lines (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_line_id TEXT NOT NULL REFERENCES source_lines(id),
		fields TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_output_lines_source_line ON output_lines(source_line_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddRule inserts a new rule. The generated ID and timestamp are written
// back to rule only once the insert succeeds.
func (s *SQLiteStore) AddRule(ctx context.Context, rule *Rule) error {
	stored := *rule
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ApplicationOrder, stored.Active, stored.SourceColumn, stored.SourcePattern,
		stored.OutputColumn, stored.OutputPattern, stored.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", translateSQLiteError(err))
	}

	*rule = stored
	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)

	rule, err := scanSQLiteRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListRules returns all rules by ascending order.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY application_order ASC`)
}

// ListActiveRules returns active rules by ascending order.
func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY application_order ASC`)
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []*Rule{}
	for rows.Next() {
		r, err := scanSQLiteRule(rows)
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

// UpdateRule modifies an existing rule; created_at is left as stored.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule *Rule) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET application_order = ?, active = ?, source_column = ?, source_pattern = ?,
			output_column = ?, output_pattern = ?
		WHERE id = ?
	`, rule.ApplicationOrder, rule.Active, rule.SourceColumn, rule.SourcePattern,
		rule.OutputColumn, rule.OutputPattern, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", translateSQLiteError(err))
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

// DeleteRule removes a rule.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOneRow(result, "rule", id)
}

// AddSourceLine inserts a new line.
func (s *SQLiteStore) AddSourceLine(ctx context.Context, line *SourceLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}

	fieldsJSON, err := json.Marshal(line.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_lines (id, fields, processed, created_at)
		VALUES (?, ?, ?, ?)
	`, line.ID, string(fieldsJSON), line.Processed, line.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert source line: %w", err)
	}
	return nil
}

// GetSourceLine retrieves a source line by ID.
func (s *SQLiteStore) GetSourceLine(ctx context.Context, id string) (*SourceLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fields, processed, created_at FROM source_lines WHERE id = ?
	`, id)

	line, err := scanSQLiteSourceLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source line %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source line: %w", err)
	}
	return line, nil
}

// ListSourceLines returns every source line in insertion order.
func (s *SQLiteStore) ListSourceLines(ctx context.Context) ([]*SourceLine, error) {
	return s.querySourceLines(ctx, `
		SELECT id, fields, processed, created_at FROM source_lines ORDER BY seq ASC
	`)
}

// ListUnprocessed returns unprocessed lines in insertion order.
func (s *SQLiteStore) ListUnprocessed(ctx context.Context) ([]*SourceLine, error) {
	return s.querySourceLines(ctx, `
		SELECT id, fields, processed, created_at FROM source_lines WHERE processed = 0 ORDER BY seq ASC
	`)
}

func (s *SQLiteStore) querySourceLines(ctx context.Context, query string) ([]*SourceLine, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list source lines: %w", err)
	}
	defer rows.Close()

	lines := []*SourceLine{}
	for rows.Next() {
		line, err := scanSQLiteSourceLine(rows)
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

// CreateOutputLine inserts an output line.
func (s *SQLiteStore) CreateOutputLine(ctx context.Context, line *OutputLine) error {
	return insertSQLiteOutputLine(ctx, s.db, line)
}

// MarkProcessed sets the processed flag of a source line.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, sourceLineID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE source_lines SET processed = 1 WHERE id = ?`, sourceLineID)
	if err != nil {
		return fmt.Errorf("failed to mark source line processed: %w", err)
	}
	return expectOneRow(result, "source line", sourceLineID)
}

// CommitOutput inserts the output line and flags its source in one transaction.
func (s *SQLiteStore) CommitOutput(ctx context.Context, line *OutputLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSQLiteOutputLine(ctx, tx, line); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE source_lines SET processed = 1 WHERE id = ? AND processed = 0
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

// ListOutputLines returns output lines in creation order.
func (s *SQLiteStore) ListOutputLines(ctx context.Context) ([]*OutputLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_line_id, fields, created_at FROM output_lines ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list output lines: %w", err)
	}
	defer rows.Close()

	lines := []*OutputLine{}
	for rows.Next() {
		var line OutputLine
		var fieldsJSON string
		var createdAt int64
		if err := rows.Scan(&line.ID, &line.SourceLineID, &fieldsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan output line: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &line.Fields); err != nil {
			return nil, fmt.Errorf("invalid fields for output line %s: %w", line.ID, err)
		}
		line.CreatedAt = time.Unix(0, createdAt)
		lines = append(lines, &line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating output lines: %w", err)
	}
	return lines, nil
}

func insertSQLiteOutputLine(ctx context.Context, db execer, line *OutputLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}

	fieldsJSON, err := json.Marshal(line.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO output_lines (id, source_line_id, fields, created_at)
		VALUES (?, ?, ?, ?)
	`, line.ID, line.SourceLineID, string(fieldsJSON), line.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert output line: %w", err)
	}
	return nil
}

func scanSQLiteRule(row scanner) (*Rule, error) {
	var r Rule
	var createdAt int64
	err := row.Scan(&r.ID, &r.ApplicationOrder, &r.Active, &r.SourceColumn, &r.SourcePattern,
		&r.OutputColumn, &r.OutputPattern, &createdAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt)
	return &r, nil
}

func scanSQLiteSourceLine(row scanner) (*SourceLine, error) {
	var line SourceLine
	var fieldsJSON string
	var createdAt int64
	if err := row.Scan(&line.ID, &fieldsJSON, &line.Processed, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &line.Fields); err != nil {
		return nil, fmt.Errorf("invalid fields for source line %s: %w", line.ID, err)
	}
	line.CreatedAt = time.Unix(0, createdAt)
	return &line, nil
}

func translateSQLiteError(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed: rules.application_order") {
		return fmt.Errorf("%v: %w", err, ErrDuplicateOrder)
	}
	return err
}
