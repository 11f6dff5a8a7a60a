package gather

import (
	"strings"
	"unicode"
)

// MaxTerms caps the keywords taken from a description
const MaxTerms = 8

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "have": true, "has": true, "not": true, "but": true, "are": true,
	"was": true, "were": true, "when": true, "what": true, "can": true, "cannot": true,
	"our": true, "your": true, "you": true, "any": true, "all": true, "after": true,
	"before": true, "again": true, "still": true, "into": true, "please": true,
	"help": true, "issue": true, "problem": true, "since": true, "does": true,
	"doesn": true, "don": true, "isn": true, "won": true, "keeps": true, "also": true,
}

// Terms extracts search keywords from text: lowercased words of three or more
// characters, without stopwords or duplicates, in order of first appearance.
func Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == MaxTerms {
			break
		}
	}
	return terms
}
