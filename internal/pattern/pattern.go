// Package pattern implements the extraction strategies a submission may
// select. The strategy is chosen once, at submission, and the scheduler never
// branches on it: every strategy answers the same Classify/Extract/Assess
// surface, differing only in which external services do the work.
//
//   - managed: one external job classifies and extracts end to end.
//   - composed: synchronous classification via inference, async extraction jobs.
//   - custom: composed, with assessment on a dedicated model endpoint.
package pattern

import (
	"context"
	"fmt"
	"strings"

	"docflow/internal/docstore"
	"docflow/internal/services/inference"
	"docflow/internal/services/jobs"
)

// Classifier is the subset of the inference client classification needs.
type Classifier interface {
	Classify(ctx context.Context, request inference.ClassifyRequest) (inference.ClassifyResult, error)
}

// Assessor is the subset of an inference client assessment needs.
type Assessor interface {
	Assess(ctx context.Context, request inference.AssessRequest) (inference.AssessResult, error)
}

// Submitter is the subset of the job client extraction needs.
type Submitter interface {
	Submit(ctx context.Context, request jobs.SubmitRequest) (string, error)
}

// Split is the section layout a strategy derives for a document.
type Split struct {
	PageClasses map[string]string
	Sections    []docstore.Section
	Metering    docstore.Metering
}

// Strategy is one extraction pattern.
type Strategy interface {
	Name() string
	// Classify derives the section split for a document.
	Classify(ctx context.Context, doc *docstore.Document) (Split, error)
	// Extract submits the async job for one section and returns the remote
	// job id. The callback token ties the job's completion back to the
	// suspended execution.
	Extract(ctx context.Context, doc *docstore.Document, section *docstore.Section, callbackToken string) (string, error)
	// Assess scores a section's extraction output.
	Assess(ctx context.Context, doc *docstore.Document, section *docstore.Section) (inference.AssessResult, error)
}

// Deps carries the service clients strategies draw from.
type Deps struct {
	Inference Classifier
	Assessor  Assessor
	// CustomAssessor is the dedicated assessment endpoint for the custom
	// pattern; nil for the others.
	CustomAssessor Assessor
	Jobs           Submitter
	// Classes optionally restricts classification to a known taxonomy.
	Classes []string
	// CallbackURL is advertised to async services for completion callbacks.
	CallbackURL string
}

// Known reports whether name resolves to a strategy. Submission uses it to
// reject unknown patterns before a document is enqueued.
func Known(name string) bool {
	_, err := New(name, Deps{})
	return err == nil
}

// New resolves a pattern name to its strategy.
func New(name string, deps Deps) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "managed":
		return &managed{deps: deps}, nil
	case "composed":
		return &composed{deps: deps}, nil
	case "custom":
		return &custom{composed: composed{deps: deps}}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", name)
	}
}

func pageRefs(doc *docstore.Document, section *docstore.Section) []string {
	byID := make(map[string]docstore.Page, len(doc.Pages))
	for _, page := range doc.Pages {
		byID[page.ID] = page
	}
	refs := make([]string, 0, len(section.PageIDs))
	for _, id := range section.PageIDs {
		if page, ok := byID[id]; ok && page.TextRef != "" {
			refs = append(refs, page.TextRef)
		}
	}
	return refs
}

func attributeValues(section *docstore.Section) map[string]string {
	values := make(map[string]string, len(section.Attributes))
	for name, attr := range section.Attributes {
		values[name] = attr.Value
	}
	return values
}
