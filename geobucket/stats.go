// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ErrStatsUnsupported is returned when the configured store cannot aggregate.
var ErrStatsUnsupported = errors.New("store does not support statistics")

// Stats summarizes the bucket table.
type Stats struct {
	TotalBuckets int64 `json:"total_buckets"`
	EmptyBuckets int64 `json:"empty_buckets"`
	TotalMembers int64 `json:"total_members"`
	UniqueNames  int64 `json:"unique_names"`
	// Bounds covers every bucket center; nil when there are no buckets.
	Bounds *orb.Bound `json:"bounds,omitempty"`
	// AreaKm2 is the geodesic area of Bounds.
	AreaKm2 float64 `json:"total_area_km2"`
	// Density is members per km² of Bounds, 0 for a degenerate box.
	Density     float64           `json:"avg_bucket_density"`
	Resolutions []ResolutionStats `json:"resolutions"`
	TopBuckets  []*Bucket         `json:"top_buckets"`
}

// ResolutionStats aggregates member counts of the buckets at one resolution.
type ResolutionStats struct {
	Resolution   int     `json:"resolution"`
	Buckets      int64   `json:"bucket_count"`
	MinMembers   int64   `json:"min_members"`
	MaxMembers   int64   `json:"max_members"`
	TotalMembers int64   `json:"total_members"`
	AvgMembers   float64 `json:"avg_members"`
}

// setCoverage derives the area and density from Bounds.
func (s *Stats) setCoverage() {
	s.AreaKm2, s.Density = 0, 0
	if s.Bounds == nil {
		return
	}

	s.AreaKm2 = geo.Area(*s.Bounds) / 1e6
	if s.AreaKm2 > 0 {
		s.Density = float64(s.TotalMembers) / s.AreaKm2
	}
}

// AverageMembers returns the mean number of members per bucket.
func (s *Stats) AverageMembers() float64 {
	if s.TotalBuckets == 0 {
		return 0
	}

	return float64(s.TotalMembers) / float64(s.TotalBuckets)
}

// StatsReader is implemented by stores that can aggregate bucket statistics.
type StatsReader interface {
	// Stats aggregates the bucket table and returns the top buckets by
	// member count.
	Stats(ctx context.Context, top int) (*Stats, error)
}

// ReadStats returns the statistics of repo, or ErrStatsUnsupported.
func ReadStats(ctx context.Context, repo BucketRepository, top int) (*Stats, error) {
	reader, ok := repo.(StatsReader)
	if !ok {
		return nil, ErrStatsUnsupported
	}

	stats, err := reader.Stats(ctx, top)
	if err != nil {
		return nil, repositoryError("reading statistics", err)
	}

	return stats, nil
}

// ComputeStats aggregates buckets in memory, for stores without a query
// engine. The top buckets are the non empty ones with the most members, ties
// by id.
func ComputeStats(buckets []*Bucket, top int) *Stats {
	stats := &Stats{TotalBuckets: int64(len(buckets))}
	names := make(map[string]struct{})

	var bound orb.Bound

	byResolution := make(map[int]*ResolutionStats)

	for i, b := range buckets {
		rs, ok := byResolution[b.Resolution]
		if !ok {
			rs = &ResolutionStats{Resolution: b.Resolution, MinMembers: b.MemberCount}
			byResolution[b.Resolution] = rs
		}

		rs.Buckets++
		rs.TotalMembers += b.MemberCount
		rs.MinMembers = min(rs.MinMembers, b.MemberCount)
		rs.MaxMembers = max(rs.MaxMembers, b.MemberCount)

		stats.TotalMembers += b.MemberCount
		if b.MemberCount == 0 {
			stats.EmptyBuckets++
		}

		names[b.NormalizedName] = struct{}{}

		if i == 0 {
			bound = b.Center.Orb().Bound()
		} else {
			bound = bound.Extend(b.Center.Orb())
		}
	}

	stats.UniqueNames = int64(len(names))

	if len(buckets) > 0 {
		stats.Bounds = &bound
	}

	stats.setCoverage()

	stats.Resolutions = make([]ResolutionStats, 0, len(byResolution))
	for _, rs := range byResolution {
		rs.AvgMembers = float64(rs.TotalMembers) / float64(rs.Buckets)
		stats.Resolutions = append(stats.Resolutions, *rs)
	}

	slices.SortFunc(stats.Resolutions, func(a, b ResolutionStats) int {
		return cmp.Compare(a.Resolution, b.Resolution)
	})

	if top > 0 {
		ranked := slices.DeleteFunc(slices.Clone(buckets), func(b *Bucket) bool { return b.MemberCount == 0 })
		slices.SortFunc(ranked, func(a, b *Bucket) int {
			if c := cmp.Compare(b.MemberCount, a.MemberCount); c != 0 {
				return c
			}

			return cmp.Compare(a.ID, b.ID)
		})

		stats.TopBuckets = page(ranked, top, 0)
	}

	return stats
}
