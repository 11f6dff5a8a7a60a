package enhance

import (
	"fmt"
	"strings"
)

// FallbackMarker is present in every fallback document so readers (and tests) can tell
// it apart from synthesized text.
const FallbackMarker = "generated without AI synthesis"

// MaxFallbackItems caps the items rendered per source
const MaxFallbackItems = 5

const (
	fallbackHeader    = "## Ticket Context (" + FallbackMarker + ")"
	fallbackEmptyBody = "_No related context was found for this ticket._"
)

var sourceTitles = map[string]string{
	SourceSimilarTickets: "Similar Tickets",
	SourceKBArticles:     "Knowledge Base Articles",
	SourceDiagnostics:    "Diagnostics",
}

// FormatFallback renders bundle as a Markdown document without calling any model.
// Output depends only on the bundle contents, so equal bundles yield identical text.
func FormatFallback(bundle *Bundle) string {
	var sb strings.Builder
	sb.WriteString(fallbackHeader)
	sb.WriteString("\n\n")

	names := bundle.SourceNames()
	if len(names) == 0 {
		sb.WriteString(fallbackEmptyBody)
		sb.WriteString("\n")
	}

	for i, name := range names {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeSource(&sb, name, bundle.Sources[name])
	}

	if bundle != nil && len(bundle.Errors) > 0 {
		sb.WriteString("\n### Unavailable Sources\n\n")
		for _, e := range bundle.Errors {
			fmt.Fprintf(&sb, "- %s: %s\n", e.Source, singleLine(e.Message))
		}
	}

	return sb.String()
}

func writeSource(sb *strings.Builder, name string, items []Item) {
	title, ok := sourceTitles[name]
	if !ok {
		title = name
	}
	fmt.Fprintf(sb, "### %s\n\n", title)

	shown := items
	if len(shown) > MaxFallbackItems {
		shown = shown[:MaxFallbackItems]
	}
	for _, item := range shown {
		sb.WriteString("- ")
		sb.WriteString(itemLabel(item))
		if item.Score != nil {
			fmt.Fprintf(sb, " (score %.2f)", *item.Score)
		}
		if item.Summary != "" {
			sb.WriteString(": ")
			sb.WriteString(singleLine(item.Summary))
		}
		sb.WriteString("\n")
	}
	if hidden := len(items) - len(shown); hidden > 0 {
		fmt.Fprintf(sb, "- _and %d more_\n", hidden)
	}
}

func itemLabel(item Item) string {
	label := item.Title
	if label == "" {
		label = item.ID
	}
	if item.ID != "" && item.Title != "" {
		label = fmt.Sprintf("[%s] %s", item.ID, item.Title)
	}
	if label == "" {
		label = "(untitled)"
	}
	if item.URL != "" {
		label = fmt.Sprintf("%s <%s>", label, item.URL)
	}
	return label
}

// singleLine keeps list entries on one line
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
