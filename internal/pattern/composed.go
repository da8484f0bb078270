package pattern

import (
	"context"

	"docflow/internal/docstore"
	"docflow/internal/services"
	"docflow/internal/services/inference"
	"docflow/internal/services/jobs"
)

// composed classifies synchronously through the inference service and
// extracts each section through the async job service.
type composed struct {
	deps Deps
}

func (s *composed) Name() string { return "composed" }

func (s *composed) Classify(ctx context.Context, doc *docstore.Document) (Split, error) {
	pages := make([]inference.PageInput, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		pages = append(pages, inference.PageInput{ID: page.ID, TextRef: page.TextRef})
	}
	result, err := s.deps.Inference.Classify(ctx, inference.ClassifyRequest{
		DocumentID: doc.ID,
		Pages:      pages,
		Classes:    s.deps.Classes,
	})
	if err != nil {
		return Split{}, err
	}

	split := Split{
		PageClasses: result.PageClasses,
		Metering:    docstore.Metering(result.Metering),
	}
	for _, span := range result.Sections {
		split.Sections = append(split.Sections, docstore.Section{
			Class:   span.Class,
			PageIDs: span.PageIDs,
		})
	}
	return split, nil
}

func (s *composed) Extract(ctx context.Context, doc *docstore.Document, section *docstore.Section, callbackToken string) (string, error) {
	return s.deps.Jobs.Submit(ctx, jobs.SubmitRequest{
		DocumentID:    doc.ID,
		SectionID:     section.ID,
		Class:         section.Class,
		PageRefs:      pageRefs(doc, section),
		Mode:          "extract",
		CallbackToken: callbackToken,
		CallbackURL:   s.deps.CallbackURL,
	})
}

func (s *composed) Assess(ctx context.Context, doc *docstore.Document, section *docstore.Section) (inference.AssessResult, error) {
	if section.ExtractionResultRef == "" && len(section.Attributes) == 0 {
		return inference.AssessResult{}, services.Wrap(
			services.ErrValidation, "assess", "request", "section has no extraction output", nil)
	}
	return s.deps.Assessor.Assess(ctx, inference.AssessRequest{
		DocumentID: doc.ID,
		SectionID:  section.ID,
		Class:      section.Class,
		ResultRef:  section.ExtractionResultRef,
		Attributes: attributeValues(section),
	})
}
