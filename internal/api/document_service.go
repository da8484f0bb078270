package api

import (
	"context"

	"docflow/internal/docstore"
)

// DocumentReader abstracts the store interactions API queries need.
type DocumentReader interface {
	ListDocuments(ctx context.Context, statuses ...docstore.Status) ([]*docstore.Document, error)
	GetDocument(ctx context.Context, id string) (*docstore.Document, error)
	SectionsForDocument(ctx context.Context, documentID string) ([]*docstore.Section, error)
	Stats(ctx context.Context) (map[docstore.Status]int, error)
}

// DocumentService exposes read-only document operations returning API DTOs.
type DocumentService struct {
	store DocumentReader
}

// NewDocumentService constructs a DocumentService around the provided reader.
func NewDocumentService(store DocumentReader) *DocumentService {
	if store == nil {
		return nil
	}
	return &DocumentService{store: store}
}

// List returns documents filtered by status.
func (s *DocumentService) List(ctx context.Context, statuses ...docstore.Status) ([]Document, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	docs, err := s.store.ListDocuments(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs), nil
}

// Describe fetches a single document with its sections and error history.
// A missing document returns nil without error.
func (s *DocumentService) Describe(ctx context.Context, id string) (*DocumentDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	sections, err := s.store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	detail := DocumentDetail{
		Document: FromDocument(doc),
		Sections: FromSections(sections),
		Errors:   FromStageErrors(doc.Errors),
	}
	return &detail, nil
}

// Stats returns document counts keyed by status string.
func (s *DocumentService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return mergeStats(stats), nil
}
