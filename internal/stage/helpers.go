package stage

import (
	"docflow/internal/docstore"
	"docflow/internal/services"
)

// RequirePages returns the document's pages or a services.ErrValidation when
// OCR output is missing, suitable for stage Execute methods that consume page
// artifacts.
func RequirePages(name string, doc *docstore.Document) ([]docstore.Page, error) {
	if len(doc.Pages) == 0 {
		return nil, services.Wrap(
			services.ErrValidation, name, "load pages",
			"Document has no page artifacts; rerun recognition", nil)
	}
	return doc.Pages, nil
}

// RequireClasses returns the document's pages only when every page carries a
// class label, otherwise a services.ErrValidation.
func RequireClasses(name string, doc *docstore.Document) ([]docstore.Page, error) {
	pages, err := RequirePages(name, doc)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		if page.Class == "" {
			return nil, services.Wrap(
				services.ErrValidation, name, "load page classes",
				"Document has unclassified pages; rerun classification", nil)
		}
	}
	return pages, nil
}
