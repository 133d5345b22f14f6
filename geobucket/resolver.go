// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jcodagnone/geobuckets/spatial"
)

const (
	// DefaultMergeThreshold is the name similarity a neighboring bucket must
	// exceed for a record to join it.
	DefaultMergeThreshold = 0.7

	// Merging never looks further than the adjacent cells.
	neighborRingSize = 1
)

// Outcome tells how a record was assigned to its bucket.
type Outcome int

const (
	// OutcomeExact the bucket owns the record's primary cell.
	OutcomeExact Outcome = iota + 1
	// OutcomeNeighbor the bucket is in an adjacent cell with a similar name.
	OutcomeNeighbor
	// OutcomeCreated a new bucket was created for the record.
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExact:
		return "exact"
	case OutcomeNeighbor:
		return "neighbor"
	case OutcomeCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Resolution is the detailed result of resolving one record.
type Resolution struct {
	Bucket         *Bucket
	Outcome        Outcome
	Cells          spatial.CellSet
	NormalizedName string
	// Score is the name similarity with the bucket, only set for OutcomeNeighbor.
	Score float64
}

// Resolver assigns records to buckets. It is safe for concurrent use; all
// shared state lives in the repository.
type Resolver struct {
	repo           BucketRepository
	mergeThreshold float64
	metrics        *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMergeThreshold overrides DefaultMergeThreshold.
func WithMergeThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) {
		r.mergeThreshold = threshold
	}
}

// WithResolverMetrics records resolution outcomes on m.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver over repo.
func NewResolver(repo BucketRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:           repo,
		mergeThreshold: DefaultMergeThreshold,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the bucket the record at (lat, lng) named rawName belongs
// to, creating it if needed. The bucket's member count accounts for the
// record on return.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64, rawName string) (BucketID, error) {
	res, err := r.ResolveDetailed(ctx, lat, lng, rawName)
	if err != nil {
		return 0, err
	}

	return res.Bucket.ID, nil
}

// ResolveDetailed is Resolve returning the full Resolution.
func (r *Resolver) ResolveDetailed(ctx context.Context, lat, lng float64, rawName string) (*Resolution, error) {
	cells, err := spatial.Cells(lat, lng)
	if err != nil {
		return nil, classifySpatialError(err)
	}

	return r.ResolveCells(ctx, cells, rawName)
}

type resolveState int

const (
	stateExactLookup resolveState = iota
	stateNeighborScan
	stateCreate
	stateDone
)

// ResolveCells resolves a record whose cells are already computed.
func (r *Resolver) ResolveCells(ctx context.Context, cells spatial.CellSet, rawName string) (*Resolution, error) {
	res := &Resolution{
		Cells:          cells,
		NormalizedName: Normalize(rawName),
	}

	conflicts := 0

	for state := stateExactLookup; state != stateDone; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", cells.Primary, err)
		}

		switch state {
		case stateExactLookup:
			b, err := r.repo.FindByPrimaryCell(ctx, cells.Primary)
			if errors.Is(err, ErrBucketNotFound) {
				state = stateNeighborScan

				continue
			}

			if err != nil {
				return nil, repositoryError("looking up primary cell", err)
			}

			if err := r.join(ctx, res, b, OutcomeExact); err != nil {
				return nil, err
			}

			state = stateDone

		case stateNeighborScan:
			if res.NormalizedName == "" {
				state = stateCreate

				continue
			}

			b, score, err := r.bestNeighbor(ctx, cells.Primary, res.NormalizedName)
			if err != nil {
				return nil, err
			}

			if b == nil {
				state = stateCreate

				continue
			}

			res.Score = score

			if err := r.join(ctx, res, b, OutcomeNeighbor); err != nil {
				return nil, err
			}

			state = stateDone

		case stateCreate:
			candidate, err := NewBucket(cells, rawName, res.NormalizedName)
			if err != nil {
				return nil, classifySpatialError(err)
			}

			stored, inserted, err := r.repo.InsertIfAbsent(ctx, candidate)
			if err != nil {
				return nil, repositoryError("inserting bucket", err)
			}

			if !inserted {
				r.metrics.observeConflict()

				conflicts++
				if conflicts > 1 {
					return nil, repositoryError(
						fmt.Sprintf("primary cell %s still contended after retry", cells.Primary),
						ErrResolutionConflict,
					)
				}

				log.Printf("bucket for %s created concurrently, retrying lookup", cells.Primary)

				res.Score = 0
				state = stateExactLookup

				continue
			}

			res.Bucket = stored
			res.Outcome = OutcomeCreated
			state = stateDone
		}
	}

	r.metrics.observeResolution(res.Outcome)

	return res, nil
}

func (r *Resolver) join(ctx context.Context, res *Resolution, b *Bucket, outcome Outcome) error {
	if err := r.repo.IncrementMemberCount(ctx, b.ID); err != nil {
		return repositoryError(fmt.Sprintf("incrementing bucket %d", b.ID), err)
	}

	b.MemberCount++

	res.Bucket = b
	res.Outcome = outcome

	return nil
}

// bestNeighbor returns the bucket of the adjacent cells whose name scores
// highest against normalizedName, if it is above the merge threshold. Ties go
// to the lowest cell.
func (r *Resolver) bestNeighbor(ctx context.Context, primary spatial.Cell, normalizedName string) (*Bucket, float64, error) {
	ring, err := spatial.NeighborRing(primary, neighborRingSize)
	if err != nil {
		return nil, 0, classifySpatialError(err)
	}

	neighbors, err := r.repo.FindByPrimaryCells(ctx, ring)
	if err != nil {
		return nil, 0, repositoryError("scanning neighbor cells", err)
	}

	s := newScorer(normalizedName)

	var (
		best      *Bucket
		bestScore float64
	)

	for _, b := range neighbors {
		score := s.score(b.NormalizedName)
		if score <= r.mergeThreshold {
			continue
		}

		if best == nil || score > bestScore || (score == bestScore && b.PrimaryCell < best.PrimaryCell) {
			best, bestScore = b, score
		}
	}

	return best, bestScore, nil
}
