// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jcodagnone/geobuckets/spatial"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// BucketRepository is the durable bucket store the resolver and the matcher
// work against.
type BucketRepository interface {
	// FindByPrimaryCell returns the bucket owning cell or ErrBucketNotFound.
	FindByPrimaryCell(ctx context.Context, cell spatial.Cell) (*Bucket, error)

	// FindByPrimaryCells returns the buckets owning any of cells, in no
	// particular order.
	FindByPrimaryCells(ctx context.Context, cells []spatial.Cell) ([]*Bucket, error)

	// InsertIfAbsent atomically inserts b unless a bucket already owns its
	// primary cell. It returns the stored bucket and whether it was inserted.
	InsertIfAbsent(ctx context.Context, b *Bucket) (*Bucket, bool, error)

	// IncrementMemberCount atomically adds one member to the bucket.
	IncrementMemberCount(ctx context.Context, id BucketID) error

	// SearchCandidates pre-filters buckets whose normalized name may be
	// similar to normalizedQuery. Callers re-score every candidate.
	SearchCandidates(ctx context.Context, normalizedQuery string) ([]*Bucket, error)
}

// BucketLister is implemented by stores that can enumerate buckets.
type BucketLister interface {
	// ListBuckets returns buckets ordered by id. A non positive limit returns all.
	ListBuckets(ctx context.Context, limit, offset int) ([]*Bucket, error)
}

// SQLBucketRepository is a BucketRepository backed by DuckDB.
type SQLBucketRepository struct {
	db *sql.DB
}

var (
	_ BucketRepository = (*SQLBucketRepository)(nil)
	_ BucketLister     = (*SQLBucketRepository)(nil)
	_ StatsReader      = (*SQLBucketRepository)(nil)
)

// NewSQLBucketRepository creates a bucket repository on db.
//
// DuckDB allows a single writer per database, so the pool is capped to one
// connection: concurrent resolutions queue on it instead of failing with
// write-write conflicts.
func NewSQLBucketRepository(db *sql.DB) *SQLBucketRepository {
	db.SetMaxOpenConns(1)

	return &SQLBucketRepository{db: db}
}

// DB returns the underlying database connection.
func (r *SQLBucketRepository) DB() *sql.DB {
	return r.db
}

// CreateSchema creates the buckets tables.
func (r *SQLBucketRepository) CreateSchema() error {
	// DuckDB needs to load the spatial extension
	_, err := r.db.Exec(`INSTALL spatial; LOAD spatial;`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS buckets_seq START 1;

		CREATE TABLE IF NOT EXISTS buckets (
			id BIGINT PRIMARY KEY DEFAULT nextval('buckets_seq'),
			primary_cell BIGINT NOT NULL UNIQUE,
			parent_cell BIGINT NOT NULL,
			resolution TINYINT NOT NULL,
			canonical_name VARCHAR NOT NULL,
			normalized_name VARCHAR NOT NULL,
			center POINT_2D,
			boundary VARCHAR,
			member_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS buckets_parent_idx ON buckets (parent_cell);

		CREATE TABLE IF NOT EXISTS bucket_trigrams (
			bucket_id BIGINT NOT NULL,
			trigram VARCHAR NOT NULL,
			PRIMARY KEY (bucket_id, trigram)
		);

		CREATE INDEX IF NOT EXISTS bucket_trigrams_trigram_idx ON bucket_trigrams (trigram);
	`)

	return err
}

var bucketSelect = `
	SELECT id, primary_cell, parent_cell, resolution,
	       canonical_name, normalized_name, center, boundary,
	       member_count, created_at, updated_at
	FROM buckets
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (*Bucket, error) {
	b := &Bucket{}

	var primary, parent int64

	var boundary sql.NullString

	err := row.Scan(
		&b.ID, &primary, &parent, &b.Resolution,
		&b.CanonicalName, &b.NormalizedName, &b.Center, &boundary,
		&b.MemberCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.PrimaryCell = spatial.Cell(primary)
	b.ParentCell = spatial.Cell(parent)

	if boundary.Valid && boundary.String != "" {
		poly, err := wkt.UnmarshalPolygon(boundary.String)
		if err != nil {
			return nil, fmt.Errorf("parsing boundary of bucket %d: %w", b.ID, err)
		}

		b.Boundary = poly
	}

	return b, nil
}

func (r *SQLBucketRepository) list(ctx context.Context, query string, args []any) ([]*Bucket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*Bucket

	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}

		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}

func (r *SQLBucketRepository) FindByPrimaryCell(ctx context.Context, cell spatial.Cell) (*Bucket, error) {
	b, err := scanBucket(r.db.QueryRowContext(ctx, bucketSelect+` WHERE primary_cell = ?`, int64(cell)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBucketNotFound
	}

	return b, err
}

func (r *SQLBucketRepository) FindByPrimaryCells(ctx context.Context, cells []spatial.Cell) ([]*Bucket, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	args := make([]any, len(cells))
	for i, c := range cells {
		args[i] = int64(c)
	}

	return r.list(ctx, bucketSelect+` WHERE primary_cell IN (`+placeholders(len(cells))+`) ORDER BY primary_cell`, args)
}

func (r *SQLBucketRepository) InsertIfAbsent(ctx context.Context, b *Bucket) (*Bucket, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}

	inserted, err := r.insert(ctx, tx, b)
	if err != nil {
		_ = tx.Rollback()

		if isConstraintViolation(err) {
			return r.existing(ctx, b.PrimaryCell)
		}

		return nil, false, err
	}

	if !inserted {
		_ = tx.Rollback()

		return r.existing(ctx, b.PrimaryCell)
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return r.existing(ctx, b.PrimaryCell)
		}

		return nil, false, err
	}

	return b, true, nil
}

// insert writes b and its trigrams within tx. It reports false when the
// primary cell is already taken.
func (r *SQLBucketRepository) insert(ctx context.Context, tx *sql.Tx, b *Bucket) (bool, error) {
	boundary := ""
	if len(b.Boundary) > 0 {
		boundary = wkt.MarshalString(b.Boundary)
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	var id int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO buckets (
			primary_cell, parent_cell, resolution,
			canonical_name, normalized_name, center, boundary,
			member_count, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ST_Point(?, ?), ?, ?, ?, ?)
		ON CONFLICT (primary_cell) DO NOTHING
		RETURNING id
	`,
		int64(b.PrimaryCell),
		int64(b.ParentCell),
		b.Resolution,
		b.CanonicalName,
		b.NormalizedName,
		b.Center.Lng,
		b.Center.Lat,
		boundary,
		b.MemberCount,
		b.CreatedAt,
		b.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	b.ID = BucketID(id)

	grams := Trigrams(b.NormalizedName)
	if len(grams) == 0 {
		return true, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bucket_trigrams (bucket_id, trigram) VALUES (?, ?)`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	for _, g := range grams {
		if _, err := stmt.ExecContext(ctx, id, g); err != nil {
			return false, fmt.Errorf("indexing trigram %q: %w", g, err)
		}
	}

	return true, nil
}

func (r *SQLBucketRepository) existing(ctx context.Context, cell spatial.Cell) (*Bucket, bool, error) {
	b, err := r.FindByPrimaryCell(ctx, cell)
	if err != nil {
		return nil, false, fmt.Errorf("reading bucket after conflict on %s: %w", cell, err)
	}

	return b, false, nil
}

func (r *SQLBucketRepository) IncrementMemberCount(ctx context.Context, id BucketID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE buckets
		SET member_count = member_count + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), int64(id))
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("incrementing bucket %d: %w", id, ErrBucketNotFound)
	}

	return nil
}

func (r *SQLBucketRepository) SearchCandidates(ctx context.Context, normalizedQuery string) ([]*Bucket, error) {
	if normalizedQuery == "" {
		return nil, nil
	}

	grams := Trigrams(normalizedQuery)

	args := make([]any, 0, len(grams)+1)
	for _, g := range grams {
		args = append(args, g)
	}

	args = append(args, escapeLike(normalizedQuery)+"%")

	query := bucketSelect + `
		WHERE id IN (
			SELECT bucket_id FROM bucket_trigrams WHERE trigram IN (` + placeholders(len(grams)) + `)
		)
		OR normalized_name LIKE ? ESCAPE '\'
		ORDER BY id
	`

	return r.list(ctx, query, args)
}

func (r *SQLBucketRepository) ListBuckets(ctx context.Context, limit, offset int) ([]*Bucket, error) {
	query := bucketSelect + ` ORDER BY id`

	var args []any

	if limit > 0 {
		query += " LIMIT ? OFFSET ?"

		args = append(args, limit, offset)
	}

	return r.list(ctx, query, args)
}

func (r *SQLBucketRepository) Stats(ctx context.Context, top int) (*Stats, error) {
	stats := &Stats{}

	var minLat, maxLat, minLng, maxLng sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE member_count = 0),
			COALESCE(SUM(member_count), 0)::BIGINT,
			COUNT(DISTINCT normalized_name),
			MIN(center.y), MAX(center.y), MIN(center.x), MAX(center.x)
		FROM buckets
	`).Scan(
		&stats.TotalBuckets,
		&stats.EmptyBuckets,
		&stats.TotalMembers,
		&stats.UniqueNames,
		&minLat, &maxLat, &minLng, &maxLng,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating buckets: %w", err)
	}

	if minLat.Valid && maxLat.Valid && minLng.Valid && maxLng.Valid {
		stats.Bounds = &orb.Bound{
			Min: orb.Point{minLng.Float64, minLat.Float64},
			Max: orb.Point{maxLng.Float64, maxLat.Float64},
		}
	}

	stats.setCoverage()

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			resolution,
			COUNT(*),
			MIN(member_count),
			MAX(member_count),
			SUM(member_count)::BIGINT,
			AVG(member_count)
		FROM buckets
		GROUP BY resolution
		ORDER BY resolution
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregating resolutions: %w", err)
	}
	defer rows.Close()

	stats.Resolutions = []ResolutionStats{}

	for rows.Next() {
		var rs ResolutionStats
		if err := rows.Scan(
			&rs.Resolution, &rs.Buckets, &rs.MinMembers, &rs.MaxMembers, &rs.TotalMembers, &rs.AvgMembers,
		); err != nil {
			return nil, fmt.Errorf("scanning resolution stats: %w", err)
		}

		stats.Resolutions = append(stats.Resolutions, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resolution stats: %w", err)
	}

	rows.Close()

	if top > 0 {
		stats.TopBuckets, err = r.list(ctx, bucketSelect+`
			WHERE member_count > 0
			ORDER BY member_count DESC, id
			LIMIT ?
		`, []any{top})
		if err != nil {
			return nil, fmt.Errorf("listing top buckets: %w", err)
		}
	}

	return stats, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isConstraintViolation(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate key")
}
