// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
)

const (
	// DefaultSearchThreshold is the similarity a bucket name must exceed to
	// match a query.
	DefaultSearchThreshold = 0.3
	// DefaultSearchLimit caps the number of matches returned by a search.
	DefaultSearchLimit = 50
)

// Match is a bucket matching a search query.
type Match struct {
	Bucket *Bucket `json:"bucket"`
	Score  float64 `json:"score"`
}

// Matches is the ranked result of a search. It can be consumed once: after
// the first call to All or Results every further iteration yields nothing.
type Matches struct {
	mu       sync.Mutex
	consumed bool
	matches  []Match
}

func (m *Matches) take() []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consumed {
		return nil
	}

	m.consumed = true
	matches := m.matches
	m.matches = nil

	return matches
}

// All yields the matching bucket ids, best first.
func (m *Matches) All() iter.Seq[BucketID] {
	return func(yield func(BucketID) bool) {
		for _, match := range m.take() {
			if !yield(match.Bucket.ID) {
				return
			}
		}
	}
}

// Results yields the matches with their buckets and scores, best first.
func (m *Matches) Results() iter.Seq[Match] {
	return func(yield func(Match) bool) {
		for _, match := range m.take() {
			if !yield(match) {
				return
			}
		}
	}
}

// SearchMatcher ranks buckets by name similarity to a free text query.
type SearchMatcher struct {
	repo    BucketRepository
	limit   int
	metrics *Metrics
}

// SearchOption configures a SearchMatcher.
type SearchOption func(*SearchMatcher)

// WithSearchLimit caps the number of matches. Zero or less means no cap.
func WithSearchLimit(limit int) SearchOption {
	return func(s *SearchMatcher) {
		s.limit = limit
	}
}

// WithSearchMetrics records candidate and match counts on m.
func WithSearchMetrics(m *Metrics) SearchOption {
	return func(s *SearchMatcher) {
		s.metrics = m
	}
}

// NewSearchMatcher creates a matcher over repo.
func NewSearchMatcher(repo BucketRepository, opts ...SearchOption) *SearchMatcher {
	s := &SearchMatcher{
		repo:  repo,
		limit: DefaultSearchLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Search returns the buckets whose normalized name scores strictly above
// threshold against rawQuery, ordered by score, then member count, both
// descending, then by id. An empty query matches nothing.
func (s *SearchMatcher) Search(ctx context.Context, rawQuery string, threshold float64) (*Matches, error) {
	query := Normalize(rawQuery)
	if query == "" {
		return &Matches{}, nil
	}

	candidates, err := s.repo.SearchCandidates(ctx, query)
	if err != nil {
		return nil, repositoryError("searching candidates", err)
	}

	sc := newScorer(query)
	matches := make([]Match, 0, len(candidates))
	seen := make(map[BucketID]struct{}, len(candidates))

	for _, b := range candidates {
		if _, dup := seen[b.ID]; dup {
			continue
		}

		seen[b.ID] = struct{}{}

		if score := sc.score(b.NormalizedName); score > threshold {
			matches = append(matches, Match{Bucket: b, Score: score})
		}
	}

	slices.SortFunc(matches, compareMatches)

	if s.limit > 0 && len(matches) > s.limit {
		matches = matches[:s.limit]
	}

	s.metrics.observeSearch(len(candidates), len(matches))

	return &Matches{matches: matches}, nil
}

func compareMatches(a, b Match) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}

	if c := cmp.Compare(b.Bucket.MemberCount, a.Bucket.MemberCount); c != 0 {
		return c
	}

	return cmp.Compare(a.Bucket.ID, b.Bucket.ID)
}
