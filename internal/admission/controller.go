package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docflow/internal/docstore"
)

// Lease records one admitted execution holding a concurrency slot.
type Lease struct {
	Token       string
	ExecutionID string
	AcquiredAt  time.Time
}

// Controller mediates access to processing slots. It shares the document
// store's database so the counter, the leases, and the documents they guard
// commit through one WAL.
type Controller struct {
	db      *sql.DB
	ceiling int
}

// New builds a controller over the store's database with the configured ceiling.
func New(store *docstore.Store, ceiling int) (*Controller, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ceiling < 1 {
		return nil, fmt.Errorf("concurrency ceiling must be positive, got %d", ceiling)
	}
	return &Controller{db: store.DB(), ceiling: ceiling}, nil
}

// Ceiling returns the configured concurrency limit.
func (c *Controller) Ceiling() int {
	return c.ceiling
}

// TryAcquire attempts to admit an execution. It returns the lease token and
// true on success, or false when the ceiling is reached. Re-acquiring for an
// execution that already holds a lease returns the existing token without
// consuming another slot.
func (c *Controller) TryAcquire(ctx context.Context, executionID string) (string, bool, error) {
	if executionID == "" {
		return "", false, errors.New("execution id is required")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin admission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(
		ctx,
		`SELECT lease_token FROM admission_leases WHERE execution_id = ?`,
		executionID,
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, true, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("lookup lease: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE admission_counter SET active = active + 1 WHERE id = 1 AND active < ?`,
		c.ceiling,
	)
	if err != nil {
		return "", false, fmt.Errorf("increment admission counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return "", false, nil
	}

	token := uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO admission_leases (lease_token, execution_id, acquired_at) VALUES (?, ?, ?)`,
		token,
		executionID,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return "", false, fmt.Errorf("insert lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit admission: %w", err)
	}
	return token, true, nil
}

// Release frees the slot held by a lease token. Releasing a token that was
// already released (or never existed) is a no-op, so callers may release on
// every terminal path without tracking whether an earlier path got there first.
func (c *Controller) Release(ctx context.Context, leaseToken string) error {
	if leaseToken == "" {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM admission_leases WHERE lease_token = ?`, leaseToken)
	if err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE admission_counter SET active = active - 1 WHERE id = 1 AND active > 0`,
	); err != nil {
		return fmt.Errorf("decrement admission counter: %w", err)
	}
	return tx.Commit()
}

// ReleaseForExecution frees whatever slot an execution holds, if any.
func (c *Controller) ReleaseForExecution(ctx context.Context, executionID string) error {
	var token string
	err := c.db.QueryRowContext(
		ctx,
		`SELECT lease_token FROM admission_leases WHERE execution_id = ?`,
		executionID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup lease for execution: %w", err)
	}
	return c.Release(ctx, token)
}

// Active returns the current number of admitted executions.
func (c *Controller) Active(ctx context.Context) (int, error) {
	var active int
	if err := c.db.QueryRowContext(ctx, `SELECT active FROM admission_counter WHERE id = 1`).Scan(&active); err != nil {
		return 0, fmt.Errorf("read admission counter: %w", err)
	}
	return active, nil
}

// Leases lists outstanding leases, oldest first.
func (c *Controller) Leases(ctx context.Context) ([]Lease, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT lease_token, execution_id, acquired_at FROM admission_leases ORDER BY acquired_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query leases: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var lease Lease
		var acquiredRaw string
		if err := rows.Scan(&lease.Token, &lease.ExecutionID, &acquiredRaw); err != nil {
			return nil, err
		}
		if acquired, parseErr := time.Parse(time.RFC3339Nano, acquiredRaw); parseErr == nil {
			lease.AcquiredAt = acquired
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

// ReclaimOrphaned releases leases whose execution no longer exists or whose
// document already reached a terminal status. It runs on startup and from the
// supervisory sweep so a crash between terminal transition and release cannot
// leak slots permanently.
func (c *Controller) ReclaimOrphaned(ctx context.Context) (int, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT l.lease_token FROM admission_leases l
         LEFT JOIN executions e ON e.id = l.execution_id
         LEFT JOIN documents d ON d.id = e.document_id
         WHERE e.id IS NULL OR d.status IN (?, ?)`,
		docstore.StatusCompleted,
		docstore.StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("query orphaned leases: %w", err)
	}

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return 0, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	released := 0
	for _, token := range tokens {
		if err := c.Release(ctx, token); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}
