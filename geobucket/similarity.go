// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"slices"
	"strings"
	"unicode"
)

// Trigrams returns the sorted set of character trigrams of s.
//
// s is split into words on anything that is not a letter or a digit and each
// word is padded with two leading blanks and one trailing blank, so "ab"
// yields "  a", " ab" and "ab ". A string made only of punctuation is treated
// as whitespace-separated words instead, so it still has trigrams.
func Trigrams(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		words = strings.Fields(s)
	}

	set := make(map[string]struct{})

	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}

	grams := make([]string, 0, len(set))
	for g := range set {
		grams = append(grams, g)
	}

	slices.Sort(grams)

	return grams
}

// Similarity scores two normalized names in [0,1] with the Sørensen-Dice
// coefficient over their trigram sets. It is symmetric, returns 1 for
// identical non-empty names and 0 when either side is empty.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	return trigramDice(Trigrams(a), Trigrams(b))
}

// trigramDice expects both inputs sorted and deduplicated.
func trigramDice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shared := 0

	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch strings.Compare(a[i], b[j]) {
		case 0:
			shared++
			i++
			j++
		case -1:
			i++
		default:
			j++
		}
	}

	return 2 * float64(shared) / float64(len(a)+len(b))
}

// scorer caches the trigrams of a fixed query so it can be compared against
// many candidates.
type scorer struct {
	query []string
}

func newScorer(normalizedQuery string) scorer {
	if normalizedQuery == "" {
		return scorer{}
	}

	return scorer{query: Trigrams(normalizedQuery)}
}

func (s scorer) score(candidate string) float64 {
	if candidate == "" {
		return 0
	}

	return trigramDice(s.query, Trigrams(candidate))
}
