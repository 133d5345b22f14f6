// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"errors"
	"fmt"

	"github.com/jcodagnone/geobuckets/spatial"
)

var (
	// ErrBucketNotFound is returned by repositories when no bucket matches.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrRecordNotFound is returned by record repositories when no record matches.
	ErrRecordNotFound = errors.New("record not found")
	// ErrResolutionConflict signals that a concurrent writer created the bucket
	// for a primary cell between lookup and insert.
	ErrResolutionConflict = errors.New("resolution conflict")
)

// ErrorType classifies the errors returned by the resolver and the matcher.
type ErrorType int

const (
	// ErrorTypeUnknown unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidCoordinate latitude or longitude out of range.
	ErrorTypeInvalidCoordinate
	// ErrorTypeInvalidResolution misuse of the hexagonal index.
	ErrorTypeInvalidResolution
	// ErrorTypeRepository storage failure, transient or permanent.
	ErrorTypeRepository
	// ErrorTypeResolutionConflict optimistic insert lost a race.
	ErrorTypeResolutionConflict
	// ErrorTypeInvalidRecord an ingested record is missing required fields.
	ErrorTypeInvalidRecord
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidCoordinate:
		return "invalid_coordinate"
	case ErrorTypeInvalidResolution:
		return "invalid_resolution"
	case ErrorTypeRepository:
		return "repository"
	case ErrorTypeResolutionConflict:
		return "resolution_conflict"
	case ErrorTypeInvalidRecord:
		return "invalid_record"
	default:
		return "unknown"
	}
}

// Error is the error type surfaced by this package.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorType(err error) ErrorType {
	var gbErr *Error
	if errors.As(err, &gbErr) {
		return gbErr.Type
	}

	return ErrorTypeUnknown
}

// IsInvalidCoordinateError reports whether err was caused by an out of range coordinate.
func IsInvalidCoordinateError(err error) bool {
	return errorType(err) == ErrorTypeInvalidCoordinate || errors.Is(err, spatial.ErrInvalidCoordinate)
}

// IsInvalidResolutionError reports whether err comes from misusing the hexagonal index.
func IsInvalidResolutionError(err error) bool {
	return errorType(err) == ErrorTypeInvalidResolution ||
		errors.Is(err, spatial.ErrInvalidResolution) ||
		errors.Is(err, spatial.ErrInvalidCell)
}

// IsRepositoryError reports whether err is a storage failure.
func IsRepositoryError(err error) bool {
	return errorType(err) == ErrorTypeRepository
}

// IsResolutionConflictError reports whether err is, or was caused by, a lost
// get-or-create race.
func IsResolutionConflictError(err error) bool {
	return errorType(err) == ErrorTypeResolutionConflict || errors.Is(err, ErrResolutionConflict)
}

// IsInvalidRecordError reports whether err was caused by an invalid record.
func IsInvalidRecordError(err error) bool {
	return errorType(err) == ErrorTypeInvalidRecord
}

func repositoryError(message string, err error) *Error {
	return &Error{Type: ErrorTypeRepository, Message: message, Err: err}
}

// classifySpatialError maps errors from the spatial package onto the taxonomy.
func classifySpatialError(err error) *Error {
	switch {
	case errors.Is(err, spatial.ErrInvalidCoordinate):
		return &Error{Type: ErrorTypeInvalidCoordinate, Message: "invalid coordinate", Err: err}
	case errors.Is(err, spatial.ErrInvalidResolution), errors.Is(err, spatial.ErrInvalidCell):
		return &Error{Type: ErrorTypeInvalidResolution, Message: "invalid resolution", Err: err}
	default:
		return &Error{Type: ErrorTypeUnknown, Message: "indexing point", Err: err}
	}
}
