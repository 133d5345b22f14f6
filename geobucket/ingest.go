// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jcodagnone/geobuckets/spatial"
)

// MaxNameLength bounds the location name of an ingested record, in runes.
const MaxNameLength = 2000

// NewRecord is the input of an ingestion.
type NewRecord struct {
	Title      string         `json:"title"`
	Name       string         `json:"location_name"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate checks the required fields.
func (n NewRecord) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return &Error{Type: ErrorTypeInvalidRecord, Message: "title is required"}
	}

	if utf8.RuneCountInString(n.Name) > MaxNameLength {
		return &Error{
			Type:    ErrorTypeInvalidRecord,
			Message: fmt.Sprintf("location name longer than %d characters", MaxNameLength),
		}
	}

	if err := spatial.ValidateCoordinate(n.Lat, n.Lng); err != nil {
		return classifySpatialError(err)
	}

	return nil
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []*LocationRecord `json:"records"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// Ingestor stores location records, assigning each to its bucket.
type Ingestor struct {
	resolver *Resolver
	matcher  *SearchMatcher
	records  RecordRepository
}

// NewIngestor wires an ingestor.
func NewIngestor(resolver *Resolver, matcher *SearchMatcher, records RecordRepository) *Ingestor {
	return &Ingestor{
		resolver: resolver,
		matcher:  matcher,
		records:  records,
	}
}

// Ingest resolves the bucket of n and stores it as a new record.
//
// The bucket's member count is updated before the record is written, so a
// failed write leaves the count one ahead.
func (i *Ingestor) Ingest(ctx context.Context, n NewRecord) (*LocationRecord, *Resolution, error) {
	if err := n.Validate(); err != nil {
		return nil, nil, err
	}

	res, err := i.resolver.ResolveDetailed(ctx, n.Lat, n.Lng, n.Name)
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generating record id: %w", err)
	}

	rec := &LocationRecord{
		ID:             id,
		Title:          n.Title,
		Name:           n.Name,
		NormalizedName: res.NormalizedName,
		Point:          spatial.Point{Lat: n.Lat, Lng: n.Lng},
		Cells:          res.Cells,
		BucketID:       res.Bucket.ID,
		Attributes:     n.Attributes,
		CreatedAt:      time.Now().UTC(),
	}

	if err := i.records.Save(ctx, rec); err != nil {
		return nil, nil, repositoryError("saving record", err)
	}

	return rec, res, nil
}

// IngestIfAbsent returns the existing record with n's title, or ingests n.
// The returned bool reports whether a record was created.
func (i *Ingestor) IngestIfAbsent(ctx context.Context, n NewRecord) (*LocationRecord, bool, error) {
	existing, err := i.records.FindByTitle(ctx, n.Title)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, ErrRecordNotFound) {
		return nil, false, repositoryError("looking up record by title", err)
	}

	rec, _, err := i.Ingest(ctx, n)
	if err != nil {
		return nil, false, err
	}

	return rec, true, nil
}

// Get returns a record by id.
func (i *Ingestor) Get(ctx context.Context, id uuid.UUID) (*LocationRecord, error) {
	rec, err := i.records.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	if err != nil {
		return nil, repositoryError("reading record", err)
	}

	return rec, nil
}

// ListByLocation pages through records newest first. A non empty location
// restricts the listing to the records of the buckets matching it; when no
// bucket matches the page is empty.
func (i *Ingestor) ListByLocation(ctx context.Context, location string, limit, offset int) (*RecordPage, error) {
	page := &RecordPage{Limit: limit, Offset: offset, Records: []*LocationRecord{}}

	var buckets []BucketID

	if strings.TrimSpace(location) != "" {
		matches, err := i.matcher.Search(ctx, location, DefaultSearchThreshold)
		if err != nil {
			return nil, err
		}

		buckets = slices.Collect(matches.All())
		if len(buckets) == 0 {
			return page, nil
		}
	}

	records, total, err := i.records.List(ctx, buckets, limit, offset)
	if err != nil {
		return nil, repositoryError("listing records", err)
	}

	if records != nil {
		page.Records = records
	}

	page.Total = total

	return page, nil
}
