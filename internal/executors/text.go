package executors

import (
	"strings"
	"unicode"
)

// tokenize lowercases the text and splits it into word tokens, dropping
// punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// splitSentences splits text on terminal punctuation. Runs of terminators
// count once.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if s := strings.TrimSpace(cur.String()); s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// stopwords is a compact English function-word list used to isolate content
// words for coherence scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "so": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "from": true, "by": true, "with": true,
	"about": true, "as": true, "into": true, "over": true, "under": true,
	"is": true, "am": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "may": true, "might": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "him": true, "her": true, "us": true, "them": true,
	"my": true, "your": true, "his": true, "its": true, "our": true, "their": true,
	"this": true, "that": true, "these": true, "those": true, "there": true,
	"not": true, "no": true, "nor": true, "very": true, "just": true, "too": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"how": true, "why": true, "all": true, "some": true, "any": true,
}

// contentWords returns the non-stopword tokens of a sentence as a set.
func contentWords(sentence string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(sentence) {
		if !stopwords[w] {
			set[w] = true
		}
	}
	return set
}
