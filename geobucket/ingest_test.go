// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestIngestor(buckets BucketRepository, records RecordRepository) *Ingestor {
	return NewIngestor(NewResolver(buckets), NewSearchMatcher(buckets), records)
}

func TestIngest(t *testing.T) {
	buckets := NewMemoryRepository()
	ing := newTestIngestor(buckets, NewMemoryRecordRepository())
	ctx := context.Background()

	rec, res, err := ing.Ingest(ctx, NewRecord{
		Title:      "2 bedroom flat",
		Name:       "  Sangotedo ",
		Lat:        sangotedoLat,
		Lng:        sangotedoLng,
		Attributes: map[string]any{"price": 1200},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, res.Bucket.ID, rec.BucketID)
	assert.Equal(t, "sangotedo", rec.NormalizedName)
	assert.Equal(t, "  Sangotedo ", rec.Name)
	assert.Equal(t, res.Cells, rec.Cells)
	assert.Equal(t, byte(7), rec.ID[6]>>4, "uuid v7")

	got, err := ing.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)

	b, err := buckets.FindByPrimaryCell(ctx, rec.Cells.Primary)
	require.NoError(t, err)
	assert.Equal(t, "  Sangotedo ", b.CanonicalName)
}

func TestIngestValidation(t *testing.T) {
	ing := newTestIngestor(NewMemoryRepository(), NewMemoryRecordRepository())
	ctx := context.Background()

	_, _, err := ing.Ingest(ctx, NewRecord{Name: "Lekki", Lat: 6.44, Lng: 3.45})
	assert.True(t, IsInvalidRecordError(err))

	_, _, err = ing.Ingest(ctx, NewRecord{Title: "flat", Name: "Lekki", Lat: -100, Lng: 3.45})
	assert.True(t, IsInvalidCoordinateError(err))
}

func TestIngestIfAbsent(t *testing.T) {
	buckets := NewMemoryRepository()
	ing := newTestIngestor(buckets, NewMemoryRecordRepository())
	ctx := context.Background()

	in := NewRecord{Title: "duplex", Name: "Lekki", Lat: 6.4474, Lng: 3.4553}

	first, created, err := ing.IngestIfAbsent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := ing.IngestIfAbsent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	b, err := buckets.FindByPrimaryCell(ctx, first.Cells.Primary)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.MemberCount, "existing records are not counted twice")
}

func TestListByLocation(t *testing.T) {
	for name, newRepo := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			buckets := newRepo(t)
			ing := newTestIngestor(buckets, NewMemoryRecordRepository())
			ctx := context.Background()

			inputs := []NewRecord{
				{Title: "a", Name: "Sangotedo", Lat: 6.4698, Lng: 3.6285},
				{Title: "b", Name: "Sangotedo, Ajah", Lat: 6.4550, Lng: 3.5600},
				{Title: "c", Name: "Lekki", Lat: 6.4474, Lng: 3.4553},
				{Title: "d", Name: "Sangotedo", Lat: 6.4698, Lng: 3.6285},
			}

			for _, in := range inputs {
				_, _, err := ing.Ingest(ctx, in)
				require.NoError(t, err)
			}

			page, err := ing.ListByLocation(ctx, "sangotedo", 10, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(3), page.Total)

			titles := make([]string, 0, len(page.Records))
			for _, r := range page.Records {
				titles = append(titles, r.Title)
			}

			assert.Equal(t, []string{"d", "b", "a"}, titles)

			page, err = ing.ListByLocation(ctx, "", 2, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(4), page.Total)
			assert.Len(t, page.Records, 2)

			page, err = ing.ListByLocation(ctx, "victoria island", 10, 0)
			require.NoError(t, err)
			assert.Zero(t, page.Total)
			assert.NotNil(t, page.Records)
			assert.Empty(t, page.Records)
		})
	}
}

func TestUniqueTitlesBeforeConcurrentIngest(t *testing.T) {
	batch := []NewRecord{
		{Title: "duplex", Name: "Lekki", Lat: 6.4474, Lng: 3.4553},
		{Title: "flat", Name: "Sangotedo", Lat: sangotedoLat, Lng: sangotedoLng},
		{Title: "duplex", Name: "Lekki Phase 1", Lat: 6.4478, Lng: 3.4723},
		{Title: "duplex", Name: "Lekki", Lat: 6.4474, Lng: 3.4553},
	}

	unique, dropped := UniqueTitles(batch)
	assert.Equal(t, 2, dropped)
	require.Len(t, unique, 2)
	assert.Equal(t, "Lekki", unique[0].Name)
	assert.Equal(t, "flat", unique[1].Title)

	records := NewMemoryRecordRepository()
	ing := newTestIngestor(NewMemoryRepository(), records)
	ctx := context.Background()

	var g errgroup.Group
	for _, rec := range unique {
		g.Go(func() error {
			_, _, err := ing.IngestIfAbsent(ctx, rec)

			return err
		})
	}
	require.NoError(t, g.Wait())

	dups, err := records.FindByTitle(ctx, "duplex")
	require.NoError(t, err)
	require.NotNil(t, dups)
	assert.Equal(t, "Lekki", dups.Name)

	_, total, err := records.List(ctx, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestSeedRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.json")

	srcBuckets := NewMemoryRepository()
	srcRecords := NewMemoryRecordRepository()
	src := newTestIngestor(srcBuckets, srcRecords)

	for _, in := range []NewRecord{
		{Title: "a", Name: "Sangotedo", Lat: 6.4698, Lng: 3.6285, Attributes: map[string]any{"rooms": float64(2)}},
		{Title: "b", Name: "Lekki", Lat: 6.4474, Lng: 3.4553},
		{Title: "c", Name: "Sangotedo", Lat: 6.4698, Lng: 3.6285},
	} {
		_, _, err := src.Ingest(ctx, in)
		require.NoError(t, err)
	}

	require.NoError(t, ExportToJSON(ctx, srcBuckets, srcRecords, path))

	seed, err := ReadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Records, 3)
	assert.Equal(t, "a", seed.Records[0].Title, "oldest first")
	assert.Len(t, seed.Buckets, 2)

	dstBuckets := NewMemoryRepository()
	dstRecords := NewMemoryRecordRepository()
	dst := newTestIngestor(dstBuckets, dstRecords)

	seeded, n, err := SeedIfEmpty(ctx, dst, dstRecords, path)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, 3, n)

	seeded, n, err = SeedIfEmpty(ctx, dst, dstRecords, path)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Equal(t, 3, n)

	stats, err := dstBuckets.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalBuckets)
	assert.Equal(t, int64(3), stats.TotalMembers)
	assert.Equal(t, "Sangotedo", stats.TopBuckets[0].CanonicalName)

	seeded, _, err = SeedIfEmpty(ctx, newTestIngestor(NewMemoryRepository(), NewMemoryRecordRepository()),
		NewMemoryRecordRepository(), filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.False(t, seeded)
}
