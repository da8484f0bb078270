package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDocument inserts a freshly submitted document in the queued state.
// When id is empty a new identifier is generated.
func (s *Store) NewDocument(ctx context.Context, id, inputLocation, pattern string) (*Document, error) {
	inputLocation = strings.TrimSpace(inputLocation)
	if inputLocation == "" {
		return nil, errors.New("input location is required")
	}
	if id = strings.TrimSpace(id); id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO documents (
            id, input_location, pattern, status, queued_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		id,
		inputLocation,
		pattern,
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	return s.GetDocument(ctx, id)
}

// GetDocument fetches a document by identifier. Missing documents return nil.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// UpdateDocument persists changes guarded by the document's version. On
// success the in-memory version is bumped to match the stored row.
func (s *Store) UpdateDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	doc.UpdatedAt = time.Now().UTC()

	pagesJSON, err := marshalJSON(doc.Pages)
	if err != nil {
		return err
	}
	errorsJSON, err := marshalJSON(doc.Errors)
	if err != nil {
		return err
	}
	meteringJSON, err := marshalJSON(doc.Metering)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE documents
         SET input_location = ?, pattern = ?, status = ?, pages_json = ?,
             errors_json = ?, metering_json = ?, summary_ref = ?, evaluation_ref = ?,
             started_at = ?, completed_at = ?, updated_at = ?, last_heartbeat = ?,
             version = version + 1
         WHERE id = ? AND version = ?`,
		doc.InputLocation,
		doc.Pattern,
		doc.Status,
		pagesJSON,
		errorsJSON,
		meteringJSON,
		nullableString(doc.SummaryRef),
		nullableString(doc.EvaluationRef),
		nullableTime(doc.StartedAt),
		nullableTime(doc.CompletedAt),
		doc.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(doc.LastHeartbeat),
		doc.ID,
		doc.Version,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s at version %d: %w", doc.ID, doc.Version, ErrVersionConflict)
	}
	doc.Version++
	return nil
}

// mutateRetries bounds how often an optimistic update is re-read and re-applied.
const mutateRetries = 5

// MutateDocument applies mutate under the version guard, re-reading and
// re-applying on conflict. The returned document reflects the committed state.
func (s *Store) MutateDocument(ctx context.Context, id string, mutate func(*Document)) (*Document, error) {
	for attempt := 0; attempt < mutateRetries; attempt++ {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		mutate(doc)
		err = s.UpdateDocument(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("document %s: update kept conflicting after %d attempts", id, mutateRetries)
}

// ListDocuments returns documents filtered by status set (or all documents
// when no status is provided), ordered by submission time.
func (s *Store) ListDocuments(ctx context.Context, statuses ...Status) ([]*Document, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + documentColumns + ` FROM documents`
	orderClause := ` ORDER BY queued_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// NextForStatuses returns the oldest document matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE status IN (` + placeholders + `) ORDER BY queued_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight
// document. updated_at stays untouched: it marks the last state change and
// anchors the stage wall-clock budget.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE documents SET last_heartbeat = ? WHERE id = ?`,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// StageTimedOut lists documents whose current stage, processing or suspended,
// last changed state before the cutoff. Ready statuses hold no running stage
// and are never reported.
func (s *Store) StageTimedOut(ctx context.Context, cutoff time.Time) ([]*Document, error) {
	statuses := make([]Status, 0, len(processingStatuses)+len(suspendedStatuses))
	for status := range processingStatuses {
		statuses = append(statuses, status)
	}
	for status := range suspendedStatuses {
		statuses = append(statuses, status)
	}

	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	query := `SELECT ` + documentColumns + ` FROM documents
        WHERE status IN (` + placeholders + `) AND updated_at < ?
        ORDER BY queued_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timed out stages: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ReclaimStaleProcessing rolls documents stuck in processing states back to
// their stage start when heartbeats expire, so the stage restarts from its
// last durable snapshot.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, transition := range stageRollbackTransitions {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE documents
             SET status = ?, last_heartbeat = NULL, updated_at = ?, version = version + 1
             WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
			transition.to,
			now,
			transition.from,
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return total, fmt.Errorf("reclaim stale documents: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// RetryFailed moves failed documents back to queued for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE documents
            SET status = ?, errors_json = NULL, completed_at = NULL, updated_at = ?, version = version + 1
            WHERE status = ?`,
			StatusQueued,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed documents: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusQueued, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE documents
        SET status = ?, errors_json = NULL, completed_at = NULL, updated_at = ?, version = version + 1
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected documents: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of documents grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates document state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusQueued:
			health.Queued += count
		case status == StatusFailed:
			health.Failed += count
		case status == StatusCompleted:
			health.Completed += count
		case IsSuspendedStatus(status):
			health.Suspended += count
		case IsProcessingStatus(status):
			health.Processing += count
		}
	}
	return health, nil
}

// Remove deletes a document by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed documents.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed documents.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all documents.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	return res.RowsAffected()
}

const documentColumns = "id, input_location, pattern, status, pages_json, errors_json, metering_json, summary_ref, evaluation_ref, queued_at, started_at, completed_at, updated_at, last_heartbeat, version"

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		id            string
		inputLocation string
		pattern       string
		statusStr     string
		pagesRaw      sql.NullString
		errorsRaw     sql.NullString
		meteringRaw   sql.NullString
		summaryRef    sql.NullString
		evaluationRef sql.NullString
		queuedRaw     sql.NullString
		startedRaw    sql.NullString
		completedRaw  sql.NullString
		updatedRaw    sql.NullString
		heartbeatRaw  sql.NullString
		version       int64
	)

	if err := scanner.Scan(
		&id,
		&inputLocation,
		&pattern,
		&statusStr,
		&pagesRaw,
		&errorsRaw,
		&meteringRaw,
		&summaryRef,
		&evaluationRef,
		&queuedRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
		&heartbeatRaw,
		&version,
	); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:            id,
		InputLocation: inputLocation,
		Pattern:       pattern,
		Status:        Status(statusStr),
		SummaryRef:    summaryRef.String,
		EvaluationRef: evaluationRef.String,
		Version:       version,
	}
	if err := unmarshalJSON(pagesRaw, &doc.Pages); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(errorsRaw, &doc.Errors); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meteringRaw, &doc.Metering); err != nil {
		return nil, err
	}
	if doc.Metering == nil {
		doc.Metering = Metering{}
	}

	if queued, err := parseTimeString(queuedRaw.String); err == nil {
		doc.QueuedAt = queued
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		doc.UpdatedAt = updated
	}
	doc.StartedAt = parseTimePtr(startedRaw)
	doc.CompletedAt = parseTimePtr(completedRaw)
	doc.LastHeartbeat = parseTimePtr(heartbeatRaw)
	return doc, nil
}
