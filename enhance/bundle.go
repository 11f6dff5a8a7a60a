package enhance

import (
	"sort"
)

// Well-known context source names
const (
	SourceSimilarTickets = "similar_tickets"
	SourceKBArticles     = "kb_articles"
	SourceDiagnostics    = "diagnostics"

	// SourceContextGathering tags a failure of the gatherer as a whole (timeout or error),
	// as opposed to a failure of one of its sources.
	SourceContextGathering = "context_gathering"
)

var wellKnownSources = []string{SourceSimilarTickets, SourceKBArticles, SourceDiagnostics}

// Item is one piece of retrieved supporting data
type Item struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// SourceError annotates a context source that could not be read
type SourceError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Bundle is the supporting data gathered for one execution.
// A bundle is always valid formatter input, including when every source failed.
type Bundle struct {
	Sources map[string][]Item `json:"sources"`
	Errors  []SourceError     `json:"errors,omitempty"`
}

// NewBundle returns an empty bundle
func NewBundle() *Bundle {
	return &Bundle{Sources: make(map[string][]Item)}
}

// Add appends items under source
func (b *Bundle) Add(source string, items ...Item) {
	if b.Sources == nil {
		b.Sources = make(map[string][]Item)
	}
	b.Sources[source] = append(b.Sources[source], items...)
}

// AddError records that source failed with err
func (b *Bundle) AddError(source string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	b.Errors = append(b.Errors, SourceError{Source: source, Message: msg})
}

// SuccessCount is the number of sources that returned at least one item
func (b *Bundle) SuccessCount() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, items := range b.Sources {
		if len(items) > 0 {
			n++
		}
	}
	return n
}

// FailureCount is the number of error annotations
func (b *Bundle) FailureCount() int {
	if b == nil {
		return 0
	}
	return len(b.Errors)
}

// IsEmpty reports whether no source returned any item
func (b *Bundle) IsEmpty() bool {
	return b.SuccessCount() == 0
}

// SourceNames returns the non-empty sources in rendering order:
// well-known sources first, then the rest sorted by name.
func (b *Bundle) SourceNames() []string {
	if b == nil {
		return nil
	}

	var names []string
	known := make(map[string]bool, len(wellKnownSources))
	for _, name := range wellKnownSources {
		known[name] = true
		if len(b.Sources[name]) > 0 {
			names = append(names, name)
		}
	}

	var others []string
	for name, items := range b.Sources {
		if !known[name] && len(items) > 0 {
			others = append(others, name)
		}
	}
	sort.Strings(others)

	return append(names, others...)
}
