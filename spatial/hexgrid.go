// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"
)

// Resolutions used across the system.
const (
	// ResolutionFine is the sub-neighborhood precision stored on every record.
	ResolutionFine = 9
	// ResolutionPrimary is the bucket granularity (~0.74 km² cells).
	ResolutionPrimary = 8
	// ResolutionParent is the coarse grouping level (~5.2 km² cells).
	ResolutionParent = 7
)

var (
	// ErrInvalidCoordinate is returned for latitudes outside [-90,90] or
	// longitudes outside [-180,180].
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidResolution is returned when a resolution is out of the H3 range
	// or a parent is requested at a resolution that is not coarser.
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrInvalidCell is returned for identifiers that are not H3 cells.
	ErrInvalidCell = errors.New("invalid cell")
)

// Cell is a hexagonal cell identifier. Cells are totally ordered by their
// numeric value.
type Cell int64

// String returns the canonical hexadecimal representation of the cell.
func (c Cell) String() string {
	return h3.Cell(c).String()
}

// Resolution returns the resolution the cell belongs to.
func (c Cell) Resolution() int {
	return h3.Cell(c).Resolution()
}

// IsValid reports whether c is a valid H3 cell.
func (c Cell) IsValid() bool {
	return h3.Cell(c).IsValid()
}

// ParseCell parses the hexadecimal representation produced by String.
func ParseCell(s string) (Cell, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cell %q: %w", s, err)
	}

	c := Cell(v)
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}

	return c, nil
}

// CellSet holds the cells of a point at the three fixed resolutions.
type CellSet struct {
	Precise Cell `json:"precise"`
	Primary Cell `json:"primary"`
	Parent  Cell `json:"parent"`
}

// ValidateCoordinate checks the latitude and longitude ranges.
func ValidateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidCoordinate, lat)
	}

	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidCoordinate, lng)
	}

	return nil
}

// CellOf returns the cell containing (lat, lng) at the given resolution.
func CellOf(lat, lng float64, resolution int) (Cell, error) {
	if err := ValidateCoordinate(lat, lng); err != nil {
		return 0, err
	}

	if resolution < 0 || resolution > 15 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}

	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution)
	if err != nil {
		return 0, fmt.Errorf("converting to h3 cell at res %d: %w", resolution, err)
	}

	return Cell(cell), nil
}

// ParentCell maps cell to its ancestor at parentResolution, which must be
// strictly coarser than the cell's own resolution.
func ParentCell(cell Cell, parentResolution int) (Cell, error) {
	if !cell.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCell, int64(cell))
	}

	if parentResolution < 0 || parentResolution >= cell.Resolution() {
		return 0, fmt.Errorf("%w: parent resolution %d is not coarser than %d",
			ErrInvalidResolution, parentResolution, cell.Resolution())
	}

	parent, err := h3.Cell(cell).Parent(parentResolution)
	if err != nil {
		return 0, fmt.Errorf("computing parent at res %d: %w", parentResolution, err)
	}

	return Cell(parent), nil
}

// Cells computes the precise, primary and parent cells of a point. The parent
// is derived from the primary cell so both always nest.
func Cells(lat, lng float64) (CellSet, error) {
	precise, err := CellOf(lat, lng, ResolutionFine)
	if err != nil {
		return CellSet{}, err
	}

	primary, err := ParentCell(precise, ResolutionPrimary)
	if err != nil {
		return CellSet{}, err
	}

	parent, err := ParentCell(primary, ResolutionParent)
	if err != nil {
		return CellSet{}, err
	}

	return CellSet{Precise: precise, Primary: primary, Parent: parent}, nil
}

// NeighborRing returns cell together with every cell within ringSize steps of
// edge adjacency, sorted ascending. For ringSize 1 this is the cell plus its six
// edge neighbors (five around the twelve pentagons).
func NeighborRing(cell Cell, ringSize int) ([]Cell, error) {
	if !cell.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCell, int64(cell))
	}

	if ringSize < 1 {
		return nil, fmt.Errorf("%w: ring size %d", ErrInvalidResolution, ringSize)
	}

	disk, err := h3.Cell(cell).GridDisk(ringSize)
	if err != nil {
		return nil, fmt.Errorf("computing grid disk: %w", err)
	}

	ring := make([]Cell, 0, len(disk))
	for _, c := range disk {
		ring = append(ring, Cell(c))
	}

	slices.Sort(ring)

	return slices.Compact(ring), nil
}

// CellCenter returns the centroid of a cell.
func CellCenter(cell Cell) (Point, error) {
	ll, err := h3.Cell(cell).LatLng()
	if err != nil {
		return Point{}, fmt.Errorf("computing cell center: %w", err)
	}

	return Point{Lat: ll.Lat, Lng: ll.Lng}, nil
}

// CellBoundary returns the closed hexagon (or pentagon) outline of a cell.
func CellBoundary(cell Cell) (orb.Polygon, error) {
	boundary, err := h3.Cell(cell).Boundary()
	if err != nil {
		return nil, fmt.Errorf("computing cell boundary: %w", err)
	}

	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}

	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}

	return orb.Polygon{ring}, nil
}
