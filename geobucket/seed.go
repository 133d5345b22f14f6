// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"
)

// SeedData represents the JSON seed file format.
//
// Buckets are informational: importing replays Records through the resolver
// so the buckets are derived again.
type SeedData struct {
	Version     string      `json:"version"`
	LastUpdated time.Time   `json:"last_updated"`
	Buckets     []*Bucket   `json:"buckets,omitempty"`
	Records     []NewRecord `json:"records"`
}

// ExportToJSON writes every record, oldest first, and the bucket table when
// the store can list it.
func ExportToJSON(ctx context.Context, repo BucketRepository, records RecordRepository, filepath string) error {
	all, _, err := records.List(ctx, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	seed := &SeedData{
		Version:     "1.0",
		LastUpdated: time.Now(),
		Records:     make([]NewRecord, 0, len(all)),
	}

	for _, rec := range slices.Backward(all) {
		seed.Records = append(seed.Records, NewRecord{
			Title:      rec.Title,
			Name:       rec.Name,
			Lat:        rec.Point.Lat,
			Lng:        rec.Point.Lng,
			Attributes: rec.Attributes,
		})
	}

	if lister, ok := repo.(BucketLister); ok {
		seed.Buckets, err = lister.ListBuckets(ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("listing buckets: %w", err)
		}
	}

	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}

	err = os.WriteFile(filepath, data, 0o600)
	if err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

// ReadSeed parses a seed file.
func ReadSeed(filepath string) (*SeedData, error) {
	data, err := os.ReadFile(filepath) // #nosec G304 - filepath is provided by admin
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var seed SeedData
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	return &seed, nil
}

// UniqueTitles returns records keeping only the first record of each title,
// and how many were dropped. Concurrent IngestIfAbsent calls only dedupe
// against titles already stored, so a batch must be deduped before fan-out.
func UniqueTitles(records []NewRecord) ([]NewRecord, int) {
	seen := make(map[string]struct{}, len(records))
	unique := make([]NewRecord, 0, len(records))

	for _, rec := range records {
		if _, ok := seen[rec.Title]; ok {
			continue
		}

		seen[rec.Title] = struct{}{}
		unique = append(unique, rec)
	}

	return unique, len(records) - len(unique)
}

// ImportFromJSON ingests the records of a seed file, skipping titles that
// already exist. It returns the number of records created.
func ImportFromJSON(ctx context.Context, ingestor *Ingestor, filepath string) (int, error) {
	seed, err := ReadSeed(filepath)
	if err != nil {
		return 0, err
	}

	imported := 0

	for _, rec := range seed.Records {
		_, created, err := ingestor.IngestIfAbsent(ctx, rec)
		if err != nil {
			return imported, fmt.Errorf("ingesting %q: %w", rec.Title, err)
		}

		if created {
			imported++
		}
	}

	return imported, nil
}

// SeedIfEmpty seeds the store from a JSON file if no records exist.
func SeedIfEmpty(ctx context.Context, ingestor *Ingestor, records RecordRepository, filepath string) (bool, int, error) {
	_, count, err := records.List(ctx, nil, 1, 0)
	if err != nil {
		return false, 0, fmt.Errorf("counting records: %w", err)
	}

	if count > 0 {
		return false, int(count), nil
	}
	// Store is empty, try to seed
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		// No seed file exists, that's okay
		return false, 0, nil
	}

	imported, err := ImportFromJSON(ctx, ingestor, filepath)
	if err != nil {
		return false, 0, err
	}

	return true, imported, nil
}
