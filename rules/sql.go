package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var r Rule
	err := row.Scan(
		&r.ID,
		&r.ApplicationOrder,
		&r.Active,
		&r.SourceColumn,
		&r.SourcePattern,
		&r.OutputColumn,
		&r.OutputPattern,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanSourceLine(row scanner) (*SourceLine, error) {
	var line SourceLine
	var fieldsJSON []byte
	if err := row.Scan(&line.ID, &fieldsJSON, &line.Processed, &line.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &line.Fields); err != nil {
		return nil, fmt.Errorf("invalid fields for source line %s: %w", line.ID, err)
	}
	return &line, nil
}

func scanOutputLine(row scanner) (*OutputLine, error) {
	var line OutputLine
	var fieldsJSON []byte
	if err := row.Scan(&line.ID, &line.SourceLineID, &fieldsJSON, &line.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &line.Fields); err != nil {
		return nil, fmt.Errorf("invalid fields for output line %s: %w", line.ID, err)
	}
	return &line, nil
}

// expectOneRow turns an update or delete that touched nothing into ErrNotFound.
func expectOneRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
