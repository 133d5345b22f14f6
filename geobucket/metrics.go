// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects resolver and matcher counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	resolutions      *prometheus.CounterVec
	conflicts        prometheus.Counter
	searchCandidates prometheus.Histogram
	searchMatches    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geobuckets_resolutions_total",
			Help: "Resolved records by outcome.",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geobuckets_resolution_conflicts_total",
			Help: "Bucket inserts that lost a race with a concurrent writer.",
		}),
		searchCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geobuckets_search_candidates",
			Help:    "Candidates returned by the repository per search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		searchMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geobuckets_search_matches",
			Help:    "Buckets above the threshold per search.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}

	reg.MustRegister(m.resolutions, m.conflicts, m.searchCandidates, m.searchMatches)

	return m
}

func (m *Metrics) observeResolution(o Outcome) {
	if m == nil {
		return
	}

	m.resolutions.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeConflict() {
	if m == nil {
		return
	}

	m.conflicts.Inc()
}

func (m *Metrics) observeSearch(candidates, matches int) {
	if m == nil {
		return
	}

	m.searchCandidates.Observe(float64(candidates))
	m.searchMatches.Observe(float64(matches))
}
