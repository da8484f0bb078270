package pattern

import (
	"sync"

	"docflow/internal/docstore"
)

// Selector resolves the strategy a document was submitted with. Strategies
// are stateless over shared clients, so one instance per pattern is cached.
type Selector struct {
	deps Deps

	mu    sync.Mutex
	cache map[string]Strategy
}

// NewSelector builds a selector over the shared service clients.
func NewSelector(deps Deps) *Selector {
	return &Selector{deps: deps, cache: make(map[string]Strategy)}
}

// ForDocument returns the strategy named by the document's pattern.
func (s *Selector) ForDocument(doc *docstore.Document) (Strategy, error) {
	return s.ForName(doc.Pattern)
}

// ForName returns the strategy for a pattern name.
func (s *Selector) ForName(name string) (Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strategy, ok := s.cache[name]; ok {
		return strategy, nil
	}
	strategy, err := New(name, s.deps)
	if err != nil {
		return nil, err
	}
	s.cache[name] = strategy
	return strategy, nil
}
