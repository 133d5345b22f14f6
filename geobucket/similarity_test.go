// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Sangotedo", "sangotedo"},
		{"  Sangotedo   Lagos ", "sangotedo lagos"},
		{"LEKKI\tPhase\n1", "lekki phase 1"},
		{"Ìkòyí", "ikoyi"},
		{"Sangotedo, Ajah", "sangotedo, ajah"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := Normalize(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestTrigrams(t *testing.T) {
	want := []string{"  a", " ab", "ab "}
	if diff := cmp.Diff(want, Trigrams("ab")); diff != "" {
		t.Errorf("Trigrams(ab) mismatch (-want +got):\n%s", diff)
	}

	// Words are padded on their own, separators do not produce trigrams.
	assert.Equal(t, Trigrams("ab cd"), Trigrams("ab, cd"))
	assert.Empty(t, Trigrams(""))
	assert.NotEmpty(t, Trigrams("--"))
}

func TestSimilarityProperties(t *testing.T) {
	names := []string{
		"sangotedo",
		"sangotedo lagos",
		"sangotedo, ajah",
		"lekki",
		"lekki phase 1",
		"victoria island",
		"a",
		"--",
	}

	for _, a := range names {
		assert.InDelta(t, 1.0, Similarity(a, a), 1e-12, "reflexive for %q", a)
		assert.Zero(t, Similarity(a, ""), "empty right for %q", a)
		assert.Zero(t, Similarity("", a), "empty left for %q", a)

		for _, b := range names {
			s := Similarity(a, b)
			assert.Equal(t, s, Similarity(b, a), "symmetric for %q %q", a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}

	assert.Zero(t, Similarity("", ""))
}

func TestSimilarityScores(t *testing.T) {
	assert.InDelta(t, 20.0/26.0, Similarity("sangotedo", "sangotedo lagos"), 1e-9)
	assert.Greater(t, Similarity("sangotedo", "sangotedo lagos"), DefaultMergeThreshold)
	assert.InDelta(t, 0.8, Similarity("sangotedo", "sangotedo, ajah"), 1e-9)
	assert.Zero(t, Similarity("sangotedo", "lekki"))
	assert.Less(t, Similarity("sangotedo", "lekki phase 1"), DefaultSearchThreshold)
}

func TestScorerMatchesSimilarity(t *testing.T) {
	s := newScorer("sangotedo")

	for _, c := range []string{"sangotedo", "sangotedo lagos", "lekki", ""} {
		assert.InDelta(t, Similarity("sangotedo", c), s.score(c), 1e-12, c)
	}

	assert.Zero(t, newScorer("").score("sangotedo"))
}
