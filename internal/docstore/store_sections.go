package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplaceSections swaps the section set for a document inside one transaction.
// Classification produces the authoritative split, so any earlier sections are
// discarded.
func (s *Store) ReplaceSections(ctx context.Context, documentID string, sections []*Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sections tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}

	now := time.Now().UTC()
	for _, section := range sections {
		if section.ID == "" {
			section.ID = uuid.NewString()
		}
		section.DocumentID = documentID
		if section.Status == "" {
			section.Status = SectionPending
		}
		if section.HITLStatus == "" {
			section.HITLStatus = HITLNone
		}
		section.UpdatedAt = now
		section.Version = 1

		pageIDsJSON, err := marshalJSON(section.PageIDs)
		if err != nil {
			return err
		}
		attributesJSON, err := marshalJSON(section.Attributes)
		if err != nil {
			return err
		}
		alertsJSON, err := marshalJSON(section.ConfidenceAlerts)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO sections (
                id, document_id, class, page_ids_json, status, extraction_result_ref,
                attributes_json, confidence_alerts_json, hitl_status, error_message,
                updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			section.ID,
			section.DocumentID,
			nullableString(section.Class),
			pageIDsJSON,
			section.Status,
			nullableString(section.ExtractionResultRef),
			attributesJSON,
			alertsJSON,
			section.HITLStatus,
			nullableString(section.ErrorMessage),
			now.Format(time.RFC3339Nano),
			section.Version,
		); err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sections: %w", err)
	}
	return nil
}

// GetSection fetches a section by identifier. Missing sections return nil.
func (s *Store) GetSection(ctx context.Context, id string) (*Section, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id = ?`, id)
	section, err := scanSection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get section: %w", err)
	}
	return section, nil
}

// SectionsForDocument returns a document's sections in insertion order.
func (s *Store) SectionsForDocument(ctx context.Context, documentID string) ([]*Section, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE document_id = ? ORDER BY rowid`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var sections []*Section
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	return sections, rows.Err()
}

// UpdateSection persists changes guarded by the section's version.
func (s *Store) UpdateSection(ctx context.Context, section *Section) error {
	if section == nil {
		return errors.New("section is nil")
	}
	if section.HITLStatus == "" {
		section.HITLStatus = HITLNone
	}
	section.UpdatedAt = time.Now().UTC()

	pageIDsJSON, err := marshalJSON(section.PageIDs)
	if err != nil {
		return err
	}
	attributesJSON, err := marshalJSON(section.Attributes)
	if err != nil {
		return err
	}
	alertsJSON, err := marshalJSON(section.ConfidenceAlerts)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sections
         SET class = ?, page_ids_json = ?, status = ?, extraction_result_ref = ?,
             attributes_json = ?, confidence_alerts_json = ?, hitl_status = ?,
             error_message = ?, updated_at = ?, version = version + 1
         WHERE id = ? AND version = ?`,
		nullableString(section.Class),
		pageIDsJSON,
		section.Status,
		nullableString(section.ExtractionResultRef),
		attributesJSON,
		alertsJSON,
		section.HITLStatus,
		nullableString(section.ErrorMessage),
		section.UpdatedAt.Format(time.RFC3339Nano),
		section.ID,
		section.Version,
	)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("section %s at version %d: %w", section.ID, section.Version, ErrVersionConflict)
	}
	section.Version++
	return nil
}

// MutateSection applies mutate under the version guard, re-reading and
// re-applying on conflict. The returned section reflects the committed state.
func (s *Store) MutateSection(ctx context.Context, id string, mutate func(*Section)) (*Section, error) {
	for attempt := 0; attempt < mutateRetries; attempt++ {
		section, err := s.GetSection(ctx, id)
		if err != nil {
			return nil, err
		}
		if section == nil {
			return nil, fmt.Errorf("section %s: %w", id, ErrNotFound)
		}
		mutate(section)
		err = s.UpdateSection(ctx, section)
		if err == nil {
			return section, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("section %s: update kept conflicting after %d attempts", id, mutateRetries)
}

const sectionColumns = "id, document_id, class, page_ids_json, status, extraction_result_ref, attributes_json, confidence_alerts_json, hitl_status, error_message, updated_at, version"

func scanSection(scanner interface{ Scan(dest ...any) error }) (*Section, error) {
	var (
		id           string
		documentID   string
		class        sql.NullString
		pageIDsRaw   sql.NullString
		statusStr    string
		resultRef    sql.NullString
		attrsRaw     sql.NullString
		alertsRaw    sql.NullString
		hitlStr      string
		errorMessage sql.NullString
		updatedRaw   sql.NullString
		version      int64
	)

	if err := scanner.Scan(
		&id,
		&documentID,
		&class,
		&pageIDsRaw,
		&statusStr,
		&resultRef,
		&attrsRaw,
		&alertsRaw,
		&hitlStr,
		&errorMessage,
		&updatedRaw,
		&version,
	); err != nil {
		return nil, err
	}

	section := &Section{
		ID:                  id,
		DocumentID:          documentID,
		Class:               class.String,
		Status:              SectionStatus(statusStr),
		ExtractionResultRef: resultRef.String,
		HITLStatus:          HITLStatus(hitlStr),
		ErrorMessage:        errorMessage.String,
		Version:             version,
	}
	if err := unmarshalJSON(pageIDsRaw, &section.PageIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(attrsRaw, &section.Attributes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(alertsRaw, &section.ConfidenceAlerts); err != nil {
		return nil, err
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		section.UpdatedAt = updated
	}
	return section, nil
}
