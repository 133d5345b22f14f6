// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package geobucket assigns point-of-interest records to canonical location
// buckets and answers fuzzy searches over bucket names.
//
// A bucket owns one primary hexagonal cell. New records join the bucket of
// their own cell, or a bucket in an adjacent cell with a near identical name,
// or create a new bucket.
package geobucket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jcodagnone/geobuckets/spatial"
	"github.com/paulmach/orb"
)

// BucketID identifies a bucket.
type BucketID int64

// Bucket is the canonical grouping of all records of one neighborhood.
type Bucket struct {
	ID             BucketID      `json:"id"`
	PrimaryCell    spatial.Cell  `json:"primary_cell"`
	ParentCell     spatial.Cell  `json:"parent_cell"`
	Resolution     int           `json:"resolution"`
	CanonicalName  string        `json:"canonical_name"`
	NormalizedName string        `json:"normalized_name"`
	Center         spatial.Point `json:"center"`
	Boundary       orb.Polygon   `json:"boundary,omitempty"`
	MemberCount    int64         `json:"member_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewBucket builds the bucket for a primary cell, named after the first
// record that lands on it. The bucket starts with that record as its only
// member.
func NewBucket(cells spatial.CellSet, canonicalName, normalizedName string) (*Bucket, error) {
	center, err := spatial.CellCenter(cells.Primary)
	if err != nil {
		return nil, err
	}

	boundary, err := spatial.CellBoundary(cells.Primary)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	return &Bucket{
		PrimaryCell:    cells.Primary,
		ParentCell:     cells.Parent,
		Resolution:     spatial.ResolutionPrimary,
		CanonicalName:  canonicalName,
		NormalizedName: normalizedName,
		Center:         center,
		Boundary:       boundary,
		MemberCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a deep copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	c := *b
	c.Boundary = b.Boundary.Clone()

	return &c
}

func (b *Bucket) String() string {
	return fmt.Sprintf("bucket %d %q (%s)", b.ID, b.CanonicalName, b.PrimaryCell)
}

// LocationRecord is a point of interest assigned to a bucket.
type LocationRecord struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	Name           string          `json:"name"`
	NormalizedName string          `json:"normalized_name"`
	Point          spatial.Point   `json:"point"`
	Cells          spatial.CellSet `json:"cells"`
	BucketID       BucketID        `json:"bucket_id"`
	Attributes     map[string]any  `json:"attributes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
