// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jcodagnone/geobuckets/spatial"
	"github.com/stretchr/testify/assert"
)

type errorCheckTestCase struct {
	name string
	err  error
	want bool
}

func runErrorCheckTest(t *testing.T, tests []errorCheckTestCase, checkFunc func(error) bool) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkFunc(tt.err))
		})
	}
}

func TestIsInvalidCoordinateError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"typed", &Error{Type: ErrorTypeInvalidCoordinate, Message: "bad"}, true},
		{"spatial sentinel", fmt.Errorf("indexing: %w", spatial.ErrInvalidCoordinate), true},
		{"classified", classifySpatialError(spatial.ErrInvalidCoordinate), true},
		{"repository", repositoryError("boom", errors.New("io")), false},
		{"nil", nil, false},
	}, IsInvalidCoordinateError)
}

func TestIsInvalidResolutionError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"typed", &Error{Type: ErrorTypeInvalidResolution, Message: "bad"}, true},
		{"resolution sentinel", spatial.ErrInvalidResolution, true},
		{"cell sentinel", fmt.Errorf("parent: %w", spatial.ErrInvalidCell), true},
		{"classified", classifySpatialError(spatial.ErrInvalidCell), true},
		{"coordinate", spatial.ErrInvalidCoordinate, false},
	}, IsInvalidResolutionError)
}

func TestIsRepositoryError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"typed", repositoryError("finding bucket", errors.New("connection refused")), true},
		{"wrapped", fmt.Errorf("resolving: %w", repositoryError("x", nil)), true},
		{"plain", errors.New("connection refused"), false},
		{"nil", nil, false},
	}, IsRepositoryError)
}

func TestIsResolutionConflictError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"sentinel", ErrResolutionConflict, true},
		{"behind repository error", repositoryError("inserting bucket", ErrResolutionConflict), true},
		{"typed", &Error{Type: ErrorTypeResolutionConflict, Message: "lost race"}, true},
		{"other", ErrBucketNotFound, false},
	}, IsResolutionConflictError)
}

func TestIsInvalidRecordError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"missing title", NewRecord{Lat: 1, Lng: 1}.Validate(), true},
		{"bad coordinate", NewRecord{Title: "x", Lat: 91}.Validate(), false},
		{"valid", NewRecord{Title: "x", Lat: 1, Lng: 1}.Validate(), false},
	}, IsInvalidRecordError)
}

func TestErrorMessage(t *testing.T) {
	err := repositoryError("finding bucket", errors.New("connection refused"))
	assert.Equal(t, "finding bucket: connection refused", err.Error())
	assert.Equal(t, "lost race", (&Error{Message: "lost race"}).Error())
	assert.Equal(t, "repository", ErrorTypeRepository.String())
	assert.Equal(t, "unknown", ErrorType(99).String())
	assert.Equal(t, ErrorTypeUnknown, classifySpatialError(errors.New("other")).Type)
}
