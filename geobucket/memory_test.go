// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"testing"

	"github.com/jcodagnone/geobuckets/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	stored, inserted, err := repo.InsertIfAbsent(ctx, testBucket(t, sangotedoLat, sangotedoLng, "Sangotedo"))
	require.NoError(t, err)
	require.True(t, inserted)

	stored.MemberCount = 100
	stored.Boundary[0][0][0] = 0

	got, err := repo.FindByPrimaryCell(ctx, stored.PrimaryCell)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MemberCount)
	assert.NotZero(t, got.Boundary[0][0][0])
}

func TestMemorySearchCandidates(t *testing.T) {
	repo := NewMemoryRepository()
	ids := seedSearchBuckets(t, repo)
	ctx := context.Background()

	found, err := repo.SearchCandidates(ctx, "sangotedo")
	require.NoError(t, err)

	got := make([]BucketID, 0, len(found))
	for _, b := range found {
		got = append(got, b.ID)
	}

	assert.ElementsMatch(t, []BucketID{ids["Sangotedo"], ids["Sangotedo, Ajah"]}, got)

	found, err = repo.SearchCandidates(ctx, "lek")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ids["Lekki"], found[0].ID)

	found, err = repo.SearchCandidates(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryStats(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	stats, err := repo.Stats(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBuckets)
	assert.Nil(t, stats.Bounds)
	assert.Zero(t, stats.AverageMembers())
	assert.Zero(t, stats.AreaKm2)
	assert.Zero(t, stats.Density)
	assert.Empty(t, stats.Resolutions)

	ids := seedSearchBuckets(t, repo)
	require.NoError(t, repo.IncrementMemberCount(ctx, ids["Lekki"]))

	stats, err = repo.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalBuckets)
	assert.Equal(t, int64(4), stats.TotalMembers)
	assert.Equal(t, int64(3), stats.UniqueNames)
	assert.InDelta(t, 4.0/3.0, stats.AverageMembers(), 1e-9)
	require.Len(t, stats.TopBuckets, 2)
	assert.Equal(t, ids["Lekki"], stats.TopBuckets[0].ID)
	assert.Equal(t, ids["Sangotedo"], stats.TopBuckets[1].ID)
	require.NotNil(t, stats.Bounds)
	assert.Less(t, stats.Bounds.Min.Lon(), 3.46)
	assert.Greater(t, stats.Bounds.Max.Lon(), 3.62)

	// ~19km of longitude by ~2.5km of latitude around Lagos.
	assert.Greater(t, stats.AreaKm2, 20.0)
	assert.Less(t, stats.AreaKm2, 80.0)
	assert.InDelta(t, 4/stats.AreaKm2, stats.Density, 1e-9)

	assert.Equal(t, []ResolutionStats{{
		Resolution:   spatial.ResolutionPrimary,
		Buckets:      3,
		MinMembers:   1,
		MaxMembers:   2,
		TotalMembers: 4,
		AvgMembers:   4.0 / 3.0,
	}}, stats.Resolutions)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, items, page(items, 0, 0))
	assert.Equal(t, []int{1, 2}, page(items, 2, 0))
	assert.Equal(t, []int{4, 5}, page(items, 10, 3))
	assert.Nil(t, page(items, 2, 5))
	assert.Nil(t, page([]int(nil), 2, 0))
}

func TestReadStatsUnsupported(t *testing.T) {
	_, err := ReadStats(context.Background(), &failingRepo{}, 5)
	require.ErrorIs(t, err, ErrStatsUnsupported)
}
