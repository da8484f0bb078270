package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewExecution creates the workflow execution record for a document. A
// document has exactly one execution while non-terminal; the unique index on
// document_id enforces it.
func (s *Store) NewExecution(ctx context.Context, documentID string) (*Execution, error) {
	if documentID == "" {
		return nil, errors.New("document id is required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO executions (id, document_id, stage, created_at, updated_at, version)
         VALUES (?, ?, '', ?, ?, 1)`,
		id,
		documentID,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return s.GetExecution(ctx, id)
}

// GetExecution fetches an execution by identifier. Missing executions return nil.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return execution, nil
}

// ExecutionForDocument fetches the execution owning a document, if any.
func (s *Store) ExecutionForDocument(ctx context.Context, documentID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE document_id = ?`, documentID)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution for document: %w", err)
	}
	return execution, nil
}

// UpdateExecution persists changes guarded by the execution's version. The
// pending token is cleared or set atomically with the stage transition.
func (s *Store) UpdateExecution(ctx context.Context, execution *Execution) error {
	if execution == nil {
		return errors.New("execution is nil")
	}
	execution.UpdatedAt = time.Now().UTC()

	retryJSON, err := marshalJSON(execution.RetryState)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE executions
         SET stage = ?, pending_token = ?, retry_state_json = ?, updated_at = ?,
             version = version + 1
         WHERE id = ? AND version = ?`,
		execution.Stage,
		nullableString(execution.PendingToken),
		retryJSON,
		execution.UpdatedAt.Format(time.RFC3339Nano),
		execution.ID,
		execution.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution %s at version %d: %w", execution.ID, execution.Version, ErrVersionConflict)
	}
	execution.Version++
	return nil
}

// DeleteExecution removes the execution record once its document is terminal.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

// TerminalExecutionIDs lists executions whose document already reached a
// terminal status, used by crash-recovery reconciliation.
func (s *Store) TerminalExecutionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT e.id FROM executions e
         JOIN documents d ON d.id = e.document_id
         WHERE d.status IN (?, ?)`,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("query terminal executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const executionColumns = "id, document_id, stage, pending_token, retry_state_json, created_at, updated_at, version"

func scanExecution(scanner interface{ Scan(dest ...any) error }) (*Execution, error) {
	var (
		id           string
		documentID   string
		stage        sql.NullString
		pendingToken sql.NullString
		retryRaw     sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		version      int64
	)

	if err := scanner.Scan(
		&id,
		&documentID,
		&stage,
		&pendingToken,
		&retryRaw,
		&createdRaw,
		&updatedRaw,
		&version,
	); err != nil {
		return nil, err
	}

	execution := &Execution{
		ID:           id,
		DocumentID:   documentID,
		Stage:        stage.String,
		PendingToken: pendingToken.String,
		Version:      version,
	}
	if err := unmarshalJSON(retryRaw, &execution.RetryState); err != nil {
		return nil, err
	}
	if execution.RetryState == nil {
		execution.RetryState = make(map[string]StageRetryState)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		execution.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		execution.UpdatedAt = updated
	}
	return execution, nil
}
