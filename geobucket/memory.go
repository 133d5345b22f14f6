// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/jcodagnone/geobuckets/spatial"
)

// MemoryRepository is an in-process BucketRepository. Trigram postings are
// kept as roaring bitmaps of bucket ids.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   BucketID
	buckets  map[BucketID]*Bucket
	byCell   map[spatial.Cell]BucketID
	postings map[string]*roaring.Bitmap
}

var (
	_ BucketRepository = (*MemoryRepository)(nil)
	_ BucketLister     = (*MemoryRepository)(nil)
	_ StatsReader      = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		buckets:  make(map[BucketID]*Bucket),
		byCell:   make(map[spatial.Cell]BucketID),
		postings: make(map[string]*roaring.Bitmap),
	}
}

func (m *MemoryRepository) FindByPrimaryCell(_ context.Context, cell spatial.Cell) (*Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCell[cell]
	if !ok {
		return nil, ErrBucketNotFound
	}

	return m.buckets[id].Clone(), nil
}

func (m *MemoryRepository) FindByPrimaryCells(_ context.Context, cells []spatial.Cell) ([]*Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []*Bucket

	for _, c := range cells {
		if id, ok := m.byCell[c]; ok {
			found = append(found, m.buckets[id].Clone())
		}
	}

	return found, nil
}

func (m *MemoryRepository) InsertIfAbsent(_ context.Context, b *Bucket) (*Bucket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byCell[b.PrimaryCell]; ok {
		return m.buckets[id].Clone(), false, nil
	}

	if m.nextID >= math.MaxUint32 {
		return nil, false, fmt.Errorf("memory repository is full (%d buckets)", len(m.buckets))
	}

	m.nextID++

	stored := b.Clone()
	stored.ID = m.nextID

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}

	m.buckets[stored.ID] = stored
	m.byCell[stored.PrimaryCell] = stored.ID

	for _, g := range Trigrams(stored.NormalizedName) {
		bm, ok := m.postings[g]
		if !ok {
			bm = roaring.New()
			m.postings[g] = bm
		}

		bm.Add(uint32(stored.ID))
	}

	return stored.Clone(), true, nil
}

func (m *MemoryRepository) IncrementMemberCount(_ context.Context, id BucketID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[id]
	if !ok {
		return fmt.Errorf("incrementing bucket %d: %w", id, ErrBucketNotFound)
	}

	b.MemberCount++
	b.UpdatedAt = time.Now().UTC()

	return nil
}

func (m *MemoryRepository) SearchCandidates(_ context.Context, normalizedQuery string) ([]*Bucket, error) {
	if normalizedQuery == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lists []*roaring.Bitmap

	for _, g := range Trigrams(normalizedQuery) {
		if bm, ok := m.postings[g]; ok {
			lists = append(lists, bm)
		}
	}

	ids := roaring.FastOr(lists...)

	for id, b := range m.buckets {
		if strings.HasPrefix(b.NormalizedName, normalizedQuery) {
			ids.Add(uint32(id))
		}
	}

	found := make([]*Bucket, 0, ids.GetCardinality())

	it := ids.Iterator()
	for it.HasNext() {
		found = append(found, m.buckets[BucketID(it.Next())].Clone())
	}

	return found, nil
}

func (m *MemoryRepository) ListBuckets(_ context.Context, limit, offset int) ([]*Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sorted(func(a, b *Bucket) int { return cmp.Compare(a.ID, b.ID) })

	return page(all, limit, offset), nil
}

func (m *MemoryRepository) Stats(_ context.Context, top int) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ComputeStats(m.sorted(func(a, b *Bucket) int { return cmp.Compare(a.ID, b.ID) }), top), nil
}

// sorted returns clones of every bucket. Callers hold the lock.
func (m *MemoryRepository) sorted(cmpFn func(a, b *Bucket) int) []*Bucket {
	all := make([]*Bucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		all = append(all, b.Clone())
	}

	slices.SortFunc(all, cmpFn)

	return all
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}

	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

// MemoryRecordRepository is an in-process RecordRepository.
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records []*LocationRecord
	byID    map[uuid.UUID]*LocationRecord
}

var _ RecordRepository = (*MemoryRecordRepository)(nil)

// NewMemoryRecordRepository creates an empty record repository.
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{byID: make(map[uuid.UUID]*LocationRecord)}
}

func (m *MemoryRecordRepository) Save(_ context.Context, r *LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[r.ID]; ok {
		return fmt.Errorf("saving record %s: duplicate id", r.ID)
	}

	stored := *r
	m.records = append(m.records, &stored)
	m.byID[r.ID] = &stored

	return nil
}

func (m *MemoryRecordRepository) Get(_ context.Context, id uuid.UUID) (*LocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	c := *r

	return &c, nil
}

func (m *MemoryRecordRepository) FindByTitle(_ context.Context, title string) (*LocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range slices.Backward(m.records) {
		if r.Title == title {
			c := *r

			return &c, nil
		}
	}

	return nil, ErrRecordNotFound
}

func (m *MemoryRecordRepository) List(_ context.Context, buckets []BucketID, limit, offset int) ([]*LocationRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*LocationRecord

	for _, r := range slices.Backward(m.records) {
		if len(buckets) > 0 && !slices.Contains(buckets, r.BucketID) {
			continue
		}

		c := *r
		matched = append(matched, &c)
	}

	return page(matched, limit, offset), int64(len(matched)), nil
}
