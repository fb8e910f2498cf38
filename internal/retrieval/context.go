package retrieval

import (
	"fmt"
	"strings"
)

// NoContextNotice is handed to the generator when retrieval found nothing, so
// it answers that the knowledge base has no relevant information.
const NoContextNotice = "No relevant information was found in the knowledge base. Tell the user you do not have enough information to answer."

// InsufficientAnswer is shown to users when no answer can be given.
const InsufficientAnswer = "I don't have enough information to answer that."

// FormatContext renders results as numbered source blocks for a generator.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return NoContextNotice
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Source %d: %s]\n%s", i+1, sourceLabel(r), r.Text)
	}
	return b.String()
}

func sourceLabel(r Result) string {
	if r.Kind == ResultFAQ {
		return "FAQ " + r.Citation.FAQID
	}
	if r.Citation.Origin != "" {
		return r.Citation.Origin
	}
	return r.Ref
}
