package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docflow/internal/docstore"
)

// Kind distinguishes what a suspended stage is waiting on.
type Kind string

const (
	KindJob    Kind = "job"
	KindReview Kind = "review"
)

// Token is one suspend point awaiting an external callback.
type Token struct {
	Token         string
	ExecutionID   string
	DocumentID    string
	SectionID     string
	Stage         string
	Kind          Kind
	ExternalJobID string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Pending reports whether the token is still claimable.
func (t Token) Pending() bool {
	return t.ResolvedAt == nil
}

// Registry issues and resolves task tokens against the shared document database.
type Registry struct {
	db *sql.DB
}

// NewRegistry builds a registry over the store's database handle.
func NewRegistry(store *docstore.Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Registry{db: store.DB()}, nil
}

// Register issues a new token for a suspending stage. The external job id is
// optional and lets the reconciliation sweep poll the remote service.
func (r *Registry) Register(ctx context.Context, executionID, documentID, sectionID, stage string, kind Kind, externalJobID string) (*Token, error) {
	if executionID == "" || documentID == "" || stage == "" {
		return nil, errors.New("execution id, document id and stage are required")
	}
	token := &Token{
		Token:         uuid.NewString(),
		ExecutionID:   executionID,
		DocumentID:    documentID,
		SectionID:     sectionID,
		Stage:         stage,
		Kind:          kind,
		ExternalJobID: externalJobID,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO task_tokens (token, execution_id, document_id, section_id, stage, kind, external_job_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Token,
		token.ExecutionID,
		token.DocumentID,
		nullableString(token.SectionID),
		token.Stage,
		token.Kind,
		nullableString(token.ExternalJobID),
		token.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task token: %w", err)
	}
	return token, nil
}

// BindExternalJob records the remote id a token is waiting on. Tokens are
// registered before the remote submission so the callback token can ride
// along; the remote id only exists afterwards.
func (r *Registry) BindExternalJob(ctx context.Context, value, externalJobID string) error {
	if _, err := r.db.ExecContext(
		ctx,
		`UPDATE task_tokens SET external_job_id = ? WHERE token = ?`,
		nullableString(externalJobID),
		value,
	); err != nil {
		return fmt.Errorf("bind external job: %w", err)
	}
	return nil
}

// Get fetches a token by value. Missing tokens return nil.
func (r *Registry) Get(ctx context.Context, value string) (*Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM task_tokens WHERE token = ?`, value)
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task token: %w", err)
	}
	return token, nil
}

// Claim resolves a pending token. It returns the token and true when this
// caller won the claim, the token and false when a prior caller already
// resolved it, and a nil token when the value is unknown.
func (r *Registry) Claim(ctx context.Context, value string) (*Token, bool, error) {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE task_tokens SET resolved_at = ? WHERE token = ? AND resolved_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano),
		value,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim task token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	token, err := r.Get(ctx, value)
	if err != nil {
		return nil, false, err
	}
	if token == nil {
		return nil, false, nil
	}
	return token, affected > 0, nil
}

// PendingForExecution lists unresolved tokens for one execution.
func (r *Registry) PendingForExecution(ctx context.Context, executionID string) ([]*Token, error) {
	return r.queryTokens(
		ctx,
		`SELECT `+tokenColumns+` FROM task_tokens WHERE execution_id = ? AND resolved_at IS NULL ORDER BY created_at`,
		executionID,
	)
}

// PendingOlderThan lists unresolved tokens issued before the cutoff. The
// reconciliation sweep uses it to find suspensions whose callback may have
// been lost.
func (r *Registry) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Token, error) {
	return r.queryTokens(
		ctx,
		`SELECT `+tokenColumns+` FROM task_tokens WHERE resolved_at IS NULL AND created_at < ? ORDER BY created_at`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
}

// DeleteForExecution removes every token belonging to an execution, resolved
// or not. It runs when the execution record is retired.
func (r *Registry) DeleteForExecution(ctx context.Context, executionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM task_tokens WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete task tokens: %w", err)
	}
	return nil
}

func (r *Registry) queryTokens(ctx context.Context, query string, args ...any) ([]*Token, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task tokens: %w", err)
	}
	defer rows.Close()

	var result []*Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, token)
	}
	return result, rows.Err()
}

const tokenColumns = "token, execution_id, document_id, section_id, stage, kind, external_job_id, created_at, resolved_at"

func scanToken(scanner interface{ Scan(dest ...any) error }) (*Token, error) {
	var (
		value       string
		executionID string
		documentID  string
		sectionID   sql.NullString
		stage       string
		kind        string
		externalID  sql.NullString
		createdRaw  string
		resolvedRaw sql.NullString
	)
	if err := scanner.Scan(
		&value,
		&executionID,
		&documentID,
		&sectionID,
		&stage,
		&kind,
		&externalID,
		&createdRaw,
		&resolvedRaw,
	); err != nil {
		return nil, err
	}

	token := &Token{
		Token:         value,
		ExecutionID:   executionID,
		DocumentID:    documentID,
		SectionID:     sectionID.String,
		Stage:         stage,
		Kind:          Kind(kind),
		ExternalJobID: externalID.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		token.CreatedAt = created
	}
	if resolvedRaw.Valid {
		if resolved, err := time.Parse(time.RFC3339Nano, resolvedRaw.String); err == nil {
			token.ResolvedAt = &resolved
		}
	}
	return token, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
