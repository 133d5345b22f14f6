// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultTopStats = 10
)

// Server exposes ingestion, resolution and search over HTTP.
type Server struct {
	buckets  BucketRepository
	resolver *Resolver
	matcher  *SearchMatcher
	ingestor *Ingestor
	gatherer prometheus.Gatherer
}

// NewServer creates a server. gatherer may be nil to disable /metrics.
func NewServer(buckets BucketRepository, resolver *Resolver, matcher *SearchMatcher, ingestor *Ingestor, gatherer prometheus.Gatherer) *Server {
	return &Server{
		buckets:  buckets,
		resolver: resolver,
		matcher:  matcher,
		ingestor: ingestor,
		gatherer: gatherer,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	api.POST("/records", s.createRecord)
	api.GET("/records", s.listRecords)
	api.GET("/records/:id", s.getRecord)
	api.GET("/buckets/search", s.searchBuckets)
	api.POST("/buckets/resolve", s.resolveBucket)
	api.GET("/buckets/stats", s.bucketStats)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	log.Printf("Listening on http://%s", addr)

	return s.Router().Run(addr)
}

// createRecordRequest is the ingest body. Coordinates are pointers so an
// omitted one is rejected instead of landing at (0,0).
type createRecordRequest struct {
	Title      string         `json:"title"`
	Name       string         `json:"location_name"`
	Lat        *float64       `json:"lat" binding:"required"`
	Lng        *float64       `json:"lng" binding:"required"`
	Attributes map[string]any `json:"attributes"`
}

func (s *Server) createRecord(ctx *gin.Context) {
	var body createRecordRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	req := NewRecord{
		Title:      body.Title,
		Name:       body.Name,
		Lat:        *body.Lat,
		Lng:        *body.Lng,
		Attributes: body.Attributes,
	}

	if ctx.Query("if_absent") == "true" {
		rec, created, err := s.ingestor.IngestIfAbsent(ctx.Request.Context(), req)
		if err != nil {
			writeError(ctx, err)

			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}

		ctx.JSON(status, gin.H{"record": rec, "bucket_id": rec.BucketID, "created": created})

		return
	}

	rec, res, err := s.ingestor.Ingest(ctx.Request.Context(), req)
	if err != nil {
		writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"record":    rec,
		"bucket_id": res.Bucket.ID,
		"outcome":   res.Outcome.String(),
		"created":   true,
	})
}

func (s *Server) listRecords(ctx *gin.Context) {
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}

	page, err := s.ingestor.ListByLocation(ctx.Request.Context(), ctx.Query("location"), limit, offset)
	if err != nil {
		writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, page)
}

func (s *Server) getRecord(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})

		return
	}

	rec, err := s.ingestor.Get(ctx.Request.Context(), id)
	if err != nil {
		writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, rec)
}

func (s *Server) searchBuckets(ctx *gin.Context) {
	threshold := DefaultSearchThreshold

	if v := ctx.Query("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t >= 1 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a number in [0,1)"})

			return
		}

		threshold = t
	}

	matches, err := s.matcher.Search(ctx.Request.Context(), ctx.Query("q"), threshold)
	if err != nil {
		writeError(ctx, err)

		return
	}

	results := []Match{}
	for m := range matches.Results() {
		results = append(results, m)
	}

	ctx.JSON(http.StatusOK, gin.H{"query": ctx.Query("q"), "matches": results})
}

type resolveRequest struct {
	Lat  *float64 `json:"lat" binding:"required"`
	Lng  *float64 `json:"lng" binding:"required"`
	Name string   `json:"name"`
}

func (s *Server) resolveBucket(ctx *gin.Context) {
	var req resolveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	res, err := s.resolver.ResolveDetailed(ctx.Request.Context(), *req.Lat, *req.Lng, req.Name)
	if err != nil {
		writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"bucket":          res.Bucket,
		"outcome":         res.Outcome.String(),
		"cells":           res.Cells,
		"normalized_name": res.NormalizedName,
	})
}

func (s *Server) bucketStats(ctx *gin.Context) {
	top := defaultTopStats

	if v := ctx.Query("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxPageSize {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid top"})

			return
		}

		top = n
	}

	stats, err := ReadStats(ctx.Request.Context(), s.buckets, top)
	if err != nil {
		writeError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"stats":           stats,
		"average_members": stats.AverageMembers(),
	})
}

func pagination(ctx *gin.Context) (int, int, bool) {
	limit, offset := defaultPageSize, 0

	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})

			return 0, 0, false
		}

		limit = n
	}

	if v := ctx.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})

			return 0, 0, false
		}

		offset = n
	}

	return limit, offset, true
}

func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case IsInvalidCoordinateError(err), IsInvalidRecordError(err), IsInvalidResolutionError(err):
		status = http.StatusBadRequest
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrBucketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrStatsUnsupported):
		status = http.StatusNotImplemented
	case IsRepositoryError(err):
		log.Printf("repository error: %v", err)

		status = http.StatusServiceUnavailable
	default:
		log.Printf("unexpected error: %v", err)
	}

	ctx.JSON(status, gin.H{"error": err.Error(), "type": errorType(err).String()})
}
