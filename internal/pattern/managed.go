package pattern

import (
	"context"

	"docflow/internal/docstore"
	"docflow/internal/services/inference"
	"docflow/internal/services/jobs"
)

// managedClass labels the single whole-document section the managed pattern
// produces; the managed service derives the real class split inside its job.
const managedClass = "document"

// managed delegates classification and extraction to one end-to-end job. The
// local classify step degenerates to a single section spanning every page.
type managed struct {
	deps Deps
}

func (s *managed) Name() string { return "managed" }

func (s *managed) Classify(_ context.Context, doc *docstore.Document) (Split, error) {
	pageIDs := make([]string, 0, len(doc.Pages))
	pageClasses := make(map[string]string, len(doc.Pages))
	for _, page := range doc.Pages {
		pageIDs = append(pageIDs, page.ID)
		pageClasses[page.ID] = managedClass
	}
	return Split{
		PageClasses: pageClasses,
		Sections:    []docstore.Section{{Class: managedClass, PageIDs: pageIDs}},
	}, nil
}

func (s *managed) Extract(ctx context.Context, doc *docstore.Document, section *docstore.Section, callbackToken string) (string, error) {
	return s.deps.Jobs.Submit(ctx, jobs.SubmitRequest{
		DocumentID:    doc.ID,
		SectionID:     section.ID,
		PageRefs:      pageRefs(doc, section),
		Mode:          "classify_extract",
		CallbackToken: callbackToken,
		CallbackURL:   s.deps.CallbackURL,
	})
}

func (s *managed) Assess(ctx context.Context, doc *docstore.Document, section *docstore.Section) (inference.AssessResult, error) {
	composed := composed{deps: s.deps}
	return composed.Assess(ctx, doc, section)
}
