package embedding

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTermLength is the shortest token kept as a term; shorter tokens are dropped.
const minTermLength = 3

// Tokenize lowercases text, treats every rune that is not a letter or digit as
// a separator and returns the tokens longer than two runes, in order.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTermLength {
			terms = append(terms, f)
		}
	}
	return terms
}

// termFrequencies counts occurrences and returns the distinct terms in order of
// first appearance together with the largest count.
func termFrequencies(terms []string) (distinct []string, tf map[string]int, maxTF int) {
	tf = make(map[string]int, len(terms))
	for _, t := range terms {
		if tf[t] == 0 {
			distinct = append(distinct, t)
		}
		tf[t]++
		if tf[t] > maxTF {
			maxTF = tf[t]
		}
	}
	return distinct, tf, maxTF
}
