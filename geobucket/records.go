// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geobucket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jcodagnone/geobuckets/spatial"
)

// RecordRepository stores the location records assigned to buckets.
type RecordRepository interface {
	Save(ctx context.Context, r *LocationRecord) error
	Get(ctx context.Context, id uuid.UUID) (*LocationRecord, error)
	// FindByTitle returns the most recent record with the given title or
	// ErrRecordNotFound.
	FindByTitle(ctx context.Context, title string) (*LocationRecord, error)
	// List returns records newest first. An empty buckets slice means no
	// bucket filter; a nil one too.
	List(ctx context.Context, buckets []BucketID, limit, offset int) ([]*LocationRecord, int64, error)
}

// SQLRecordRepository is a RecordRepository backed by DuckDB.
type SQLRecordRepository struct {
	db *sql.DB
}

var _ RecordRepository = (*SQLRecordRepository)(nil)

// NewSQLRecordRepository creates a record repository on db.
func NewSQLRecordRepository(db *sql.DB) *SQLRecordRepository {
	return &SQLRecordRepository{db: db}
}

// CreateSchema creates the records table.
func (r *SQLRecordRepository) CreateSchema() error {
	_, err := r.db.Exec(`INSTALL spatial; LOAD spatial;`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS location_records (
			id VARCHAR PRIMARY KEY,
			title VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			normalized_name VARCHAR NOT NULL,
			point POINT_2D NOT NULL,
			precise_cell BIGINT NOT NULL,
			primary_cell BIGINT NOT NULL,
			parent_cell BIGINT NOT NULL,
			bucket_id BIGINT NOT NULL,
			attributes VARCHAR,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS location_records_bucket_idx ON location_records (bucket_id);
		CREATE INDEX IF NOT EXISTS location_records_title_idx ON location_records (title);
	`)

	return err
}

func (r *SQLRecordRepository) Save(ctx context.Context, rec *LocationRecord) error {
	var attrs *string

	if len(rec.Attributes) > 0 {
		b, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes: %w", err)
		}

		s := string(b)
		attrs = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO location_records (
			id, title, name, normalized_name, point,
			precise_cell, primary_cell, parent_cell, bucket_id,
			attributes, created_at
		)
		VALUES (?, ?, ?, ?, ST_Point(?, ?), ?, ?, ?, ?, ?, ?)
	`,
		rec.ID.String(),
		rec.Title,
		rec.Name,
		rec.NormalizedName,
		rec.Point.Lng,
		rec.Point.Lat,
		int64(rec.Cells.Precise),
		int64(rec.Cells.Primary),
		int64(rec.Cells.Parent),
		int64(rec.BucketID),
		attrs,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.ID, err)
	}

	return nil
}

var recordSelect = `
	SELECT id, title, name, normalized_name, point,
	       precise_cell, primary_cell, parent_cell, bucket_id,
	       attributes, created_at
	FROM location_records
`

func scanRecord(row rowScanner) (*LocationRecord, error) {
	rec := &LocationRecord{}

	var (
		id                       string
		precise, primary, parent int64
		bucketID                 int64
		attrs                    sql.NullString
	)

	err := row.Scan(
		&id, &rec.Title, &rec.Name, &rec.NormalizedName, &rec.Point,
		&precise, &primary, &parent, &bucketID,
		&attrs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing record id %q: %w", id, err)
	}

	rec.Cells = spatial.CellSet{
		Precise: spatial.Cell(precise),
		Primary: spatial.Cell(primary),
		Parent:  spatial.Cell(parent),
	}
	rec.BucketID = BucketID(bucketID)

	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes of %s: %w", rec.ID, err)
		}
	}

	return rec, nil
}

func (r *SQLRecordRepository) Get(ctx context.Context, id uuid.UUID) (*LocationRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, recordSelect+` WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}

	return rec, err
}

func (r *SQLRecordRepository) FindByTitle(ctx context.Context, title string) (*LocationRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		recordSelect+` WHERE title = ? ORDER BY created_at DESC, id DESC LIMIT 1`, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}

	return rec, err
}

func (r *SQLRecordRepository) List(ctx context.Context, buckets []BucketID, limit, offset int) ([]*LocationRecord, int64, error) {
	where := ""

	var args []any

	if len(buckets) > 0 {
		where = ` WHERE bucket_id IN (` + placeholders(len(buckets)) + `)`

		for _, id := range buckets {
			args = append(args, int64(id))
		}
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM location_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting records: %w", err)
	}

	query := recordSelect + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`

		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []*LocationRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}

		records = append(records, rec)
	}

	return records, total, rows.Err()
}
