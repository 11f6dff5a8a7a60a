package synth

import (
	"fmt"
	"strings"

	"github.com/teranos/ticketpulse/enhance"
)

// MaxPromptItems caps the items per source sent to the model
const MaxPromptItems = 8

const systemPrompt = `You help IT service desk agents resolve tickets.
You receive supporting context gathered for one ticket: similar resolved tickets,
knowledge base articles and live diagnostics.
Write a short internal note for the agent in Markdown:
- a one-paragraph assessment of the likely cause
- concrete next steps, most promising first
- links to the most relevant tickets or articles
Use only the context given. If it is thin, say so instead of guessing.`

// BuildPrompt renders bundle into the system and user prompts
func BuildPrompt(bundle *enhance.Bundle) (system, user string) {
	var sb strings.Builder
	sb.WriteString("Context gathered for the ticket:\n")

	names := bundle.SourceNames()
	if len(names) == 0 {
		sb.WriteString("\n(no related context was found)\n")
	}
	for _, name := range names {
		items := bundle.Sources[name]
		fmt.Fprintf(&sb, "\n### %s\n", name)
		for i, item := range items {
			if i == MaxPromptItems {
				fmt.Fprintf(&sb, "(%d more omitted)\n", len(items)-MaxPromptItems)
				break
			}
			writeItem(&sb, item)
		}
	}

	if bundle != nil && len(bundle.Errors) > 0 {
		sb.WriteString("\nUnavailable sources:\n")
		for _, e := range bundle.Errors {
			fmt.Fprintf(&sb, "- %s: %s\n", e.Source, e.Message)
		}
	}
	return systemPrompt, sb.String()
}

func writeItem(sb *strings.Builder, item enhance.Item) {
	sb.WriteString("- ")
	if item.ID != "" {
		fmt.Fprintf(sb, "[%s] ", item.ID)
	}
	sb.WriteString(oneLine(item.Title))
	if item.Score != nil {
		fmt.Fprintf(sb, " (relevance %.2f)", *item.Score)
	}
	if item.URL != "" {
		fmt.Fprintf(sb, " <%s>", item.URL)
	}
	sb.WriteString("\n")
	if item.Summary != "" {
		fmt.Fprintf(sb, "  %s\n", oneLine(item.Summary))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
