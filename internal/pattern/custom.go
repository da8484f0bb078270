package pattern

import (
	"context"

	"docflow/internal/docstore"
	"docflow/internal/services"
	"docflow/internal/services/inference"
)

// custom behaves like composed but routes assessment to a dedicated model
// endpoint.
type custom struct {
	composed
}

func (s *custom) Name() string { return "custom" }

func (s *custom) Assess(ctx context.Context, doc *docstore.Document, section *docstore.Section) (inference.AssessResult, error) {
	if s.deps.CustomAssessor == nil {
		return inference.AssessResult{}, services.Wrap(
			services.ErrValidation, "assess", "request", "assessment endpoint not configured", nil)
	}
	if section.ExtractionResultRef == "" && len(section.Attributes) == 0 {
		return inference.AssessResult{}, services.Wrap(
			services.ErrValidation, "assess", "request", "section has no extraction output", nil)
	}
	return s.deps.CustomAssessor.Assess(ctx, inference.AssessRequest{
		DocumentID: doc.ID,
		SectionID:  section.ID,
		Class:      section.Class,
		ResultRef:  section.ExtractionResultRef,
		Attributes: attributeValues(section),
	})
}
