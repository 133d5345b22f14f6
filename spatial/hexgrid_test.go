// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"math"
	"slices"
	"testing"

	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/h3-go/v4"
)

const (
	sangotedoLat = 6.4698
	sangotedoLng = 3.6285
)

func TestCellOfIsDeterministic(t *testing.T) {
	points := []Point{
		{Lat: sangotedoLat, Lng: sangotedoLng},
		{Lat: -34.8822366, Lng: -56.1529602},
		{Lat: 90, Lng: 180},
		{Lat: -90, Lng: -180},
		{Lat: 0, Lng: 0},
	}

	for _, p := range points {
		for _, res := range []int{ResolutionParent, ResolutionPrimary, ResolutionFine} {
			a, err := CellOf(p.Lat, p.Lng, res)
			require.NoError(t, err)

			b, err := CellOf(p.Lat, p.Lng, res)
			require.NoError(t, err)

			assert.Equal(t, a, b, "point %v res %d", p, res)
			assert.Equal(t, res, a.Resolution())
		}
	}
}

func TestCellOfRejectsInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
	}{
		{"lat too high", 90.0001, 0},
		{"lat too low", -91, 0},
		{"lng too high", 0, 180.5},
		{"lng too low", 0, -181},
		{"lat NaN", math.NaN(), 0},
		{"lng NaN", 0, math.NaN()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CellOf(tc.lat, tc.lng, ResolutionPrimary)
			require.ErrorIs(t, err, ErrInvalidCoordinate)
		})
	}
}

func TestCellOfRejectsInvalidResolution(t *testing.T) {
	_, err := CellOf(sangotedoLat, sangotedoLng, 16)
	require.ErrorIs(t, err, ErrInvalidResolution)

	_, err = CellOf(sangotedoLat, sangotedoLng, -1)
	require.ErrorIs(t, err, ErrInvalidResolution)
}

func TestParentCell(t *testing.T) {
	fine, err := CellOf(sangotedoLat, sangotedoLng, ResolutionFine)
	require.NoError(t, err)

	primary, err := CellOf(sangotedoLat, sangotedoLng, ResolutionPrimary)
	require.NoError(t, err)

	parent, err := ParentCell(fine, ResolutionPrimary)
	require.NoError(t, err)
	assert.Equal(t, primary, parent)

	_, err = ParentCell(primary, ResolutionPrimary)
	require.ErrorIs(t, err, ErrInvalidResolution)

	_, err = ParentCell(primary, ResolutionFine)
	require.ErrorIs(t, err, ErrInvalidResolution)

	_, err = ParentCell(Cell(42), ResolutionParent)
	require.ErrorIs(t, err, ErrInvalidCell)
}

func TestCellsNest(t *testing.T) {
	cells, err := Cells(sangotedoLat, sangotedoLng)
	require.NoError(t, err)

	assert.Equal(t, ResolutionFine, cells.Precise.Resolution())
	assert.Equal(t, ResolutionPrimary, cells.Primary.Resolution())
	assert.Equal(t, ResolutionParent, cells.Parent.Resolution())

	parent, err := ParentCell(cells.Precise, ResolutionParent)
	require.NoError(t, err)
	assert.Equal(t, cells.Parent, parent)

	_, err = Cells(100, 0)
	require.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestNeighborRing(t *testing.T) {
	points := []Point{
		{Lat: sangotedoLat, Lng: sangotedoLng},
		{Lat: -34.8822366, Lng: -56.1529602},
		{Lat: 51.5074, Lng: -0.1278},
	}

	for _, p := range points {
		cell, err := CellOf(p.Lat, p.Lng, ResolutionPrimary)
		require.NoError(t, err)

		ring, err := NeighborRing(cell, 1)
		require.NoError(t, err)

		assert.Len(t, ring, 7)
		assert.Contains(t, ring, cell)
		assert.True(t, slices.IsSorted(ring))

		for _, n := range ring {
			assert.Equal(t, ResolutionPrimary, n.Resolution())
		}
	}
}

func TestNeighborRingAroundPentagons(t *testing.T) {
	pentagons, err := h3.Pentagons(ResolutionPrimary)
	require.NoError(t, err)
	require.Len(t, pentagons, 12)

	for _, p := range pentagons {
		cell := Cell(p)

		ring, err := NeighborRing(cell, 1)
		require.NoError(t, err)

		// Pentagons have five edge neighbors.
		assert.Len(t, ring, 6, "pentagon %s", cell)
		assert.Contains(t, ring, cell)
		assert.True(t, slices.IsSorted(ring))
	}
}

func TestNeighborRingIsSymmetric(t *testing.T) {
	cell, err := CellOf(sangotedoLat, sangotedoLng, ResolutionPrimary)
	require.NoError(t, err)

	ring, err := NeighborRing(cell, 1)
	require.NoError(t, err)

	for _, n := range ring {
		back, err := NeighborRing(n, 1)
		require.NoError(t, err)
		assert.Contains(t, back, cell)
	}
}

func TestNeighborRingRejectsMisuse(t *testing.T) {
	cell, err := CellOf(sangotedoLat, sangotedoLng, ResolutionPrimary)
	require.NoError(t, err)

	_, err = NeighborRing(cell, 0)
	require.ErrorIs(t, err, ErrInvalidResolution)

	_, err = NeighborRing(Cell(7), 1)
	require.ErrorIs(t, err, ErrInvalidCell)
}

func TestCellCenterAndBoundary(t *testing.T) {
	cell, err := CellOf(sangotedoLat, sangotedoLng, ResolutionPrimary)
	require.NoError(t, err)

	center, err := CellCenter(cell)
	require.NoError(t, err)

	back, err := CellOf(center.Lat, center.Lng, ResolutionPrimary)
	require.NoError(t, err)
	assert.Equal(t, cell, back)

	// A resolution 8 cell has an edge of ~0.5km.
	assert.Less(t, geo.Distance(center.Orb(), Point{Lat: sangotedoLat, Lng: sangotedoLng}.Orb()), 1000.0)

	poly, err := CellBoundary(cell)
	require.NoError(t, err)
	require.Len(t, poly, 1)

	ring := poly[0]
	assert.Len(t, ring, 7)
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.True(t, poly.Bound().Contains(center.Orb()))
}

func TestParseCell(t *testing.T) {
	cell, err := CellOf(sangotedoLat, sangotedoLng, ResolutionPrimary)
	require.NoError(t, err)

	parsed, err := ParseCell(cell.String())
	require.NoError(t, err)
	assert.Equal(t, cell, parsed)

	_, err = ParseCell("not-a-cell")
	require.Error(t, err)

	_, err = ParseCell("1")
	require.ErrorIs(t, err, ErrInvalidCell)
}
