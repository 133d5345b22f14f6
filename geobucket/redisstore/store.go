// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package redisstore implements the bucket repository on Redis.
//
// Buckets are hashes keyed by id. A string key per primary cell points at
// the owning bucket and is written by a Lua script together with the bucket
// itself, which makes insert-if-absent atomic on a single Redis node. Names
// are indexed twice: one set of bucket ids per trigram, and a sorted set of
// "name\x00id" members for prefix scans with ZRANGEBYLEX.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/jcodagnone/geobuckets/spatial"
	"github.com/paulmach/orb/encoding/wkt"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "gb:"

	keySeq     = "seq"
	keyIndex   = "buckets"
	keyNames   = "names"
	prefixCell = "cell:"
	prefixTri  = "tri:"
	prefixHash = "bucket:"

	// lexicographicMaxChar is the upper bound for ZRANGEBYLEX prefix scans.
	lexicographicMaxChar = "\xff"
	nameSeparator        = "\x00"
)

// insertScript creates a bucket unless its cell key already exists.
//
// KEYS: cell key, sequence, id index, name index.
// ARGV: key prefix, trigram count, trigrams..., normalized name, hash field/value pairs...
var insertScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return {0, existing}
end
local id = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], id)
local prefix = ARGV[1]
local ntri = tonumber(ARGV[2])
for i = 3, 2 + ntri do
	redis.call('SADD', prefix .. 'tri:' .. ARGV[i], id)
end
local name = ARGV[3 + ntri]
local fields = {}
for i = 4 + ntri, #ARGV do
	fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', prefix .. 'bucket:' .. id, 'id', id, unpack(fields))
redis.call('ZADD', KEYS[3], id, id)
redis.call('ZADD', KEYS[4], 0, name .. '\0' .. id)
return {1, tostring(id)}
`)

// incrementScript bumps the member count of an existing bucket.
//
// KEYS: bucket hash. ARGV: updated_at.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'member_count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return 1
`)

// Config holds Redis connection parameters.
type Config struct {
	// Addr is the Redis server address in the format "host:port".
	Addr string

	// Password is the Redis password (empty string for no password).
	Password string

	// DB is the Redis database number.
	DB int

	// Prefix namespaces the keys, DefaultPrefix when empty.
	Prefix string
}

// Repository is a geobucket.BucketRepository on Redis. It is safe for
// concurrent use.
type Repository struct {
	client *redis.Client
	prefix string
}

var (
	_ geobucket.BucketRepository = (*Repository)(nil)
	_ geobucket.BucketLister     = (*Repository)(nil)
	_ geobucket.StatsReader      = (*Repository)(nil)
)

// New connects to Redis and verifies connectivity with a PING command.
func New(ctx context.Context, config Config) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password, // pragma: allowlist secret
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis at %s: %w", config.Addr, err)
	}

	return NewWithClient(client, config.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Repository{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) cellKey(c spatial.Cell) string {
	return r.prefix + prefixCell + c.String()
}

func (r *Repository) hashKey(id geobucket.BucketID) string {
	return r.prefix + prefixHash + strconv.FormatInt(int64(id), 10)
}

func (r *Repository) FindByPrimaryCell(ctx context.Context, cell spatial.Cell) (*geobucket.Bucket, error) {
	v, err := r.client.Get(ctx, r.cellKey(cell)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, geobucket.ErrBucketNotFound
	}

	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cell key %s: %w", cell, err)
	}

	buckets, err := r.load(ctx, []geobucket.BucketID{geobucket.BucketID(id)})
	if err != nil {
		return nil, err
	}

	if len(buckets) == 0 {
		return nil, geobucket.ErrBucketNotFound
	}

	return buckets[0], nil
}

func (r *Repository) FindByPrimaryCells(ctx context.Context, cells []spatial.Cell) ([]*geobucket.Bucket, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = r.cellKey(c)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var ids []geobucket.BucketID

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt cell key value %q: %w", s, err)
		}

		ids = append(ids, geobucket.BucketID(id))
	}

	return r.load(ctx, ids)
}

func (r *Repository) InsertIfAbsent(ctx context.Context, b *geobucket.Bucket) (*geobucket.Bucket, bool, error) {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}

	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	grams := geobucket.Trigrams(b.NormalizedName)

	args := make([]any, 0, 3+len(grams)+22)
	args = append(args, r.prefix, len(grams))

	for _, g := range grams {
		args = append(args, g)
	}

	args = append(args, b.NormalizedName)
	args = append(args, encode(b)...)

	keys := []string{
		r.cellKey(b.PrimaryCell),
		r.prefix + keySeq,
		r.prefix + keyIndex,
		r.prefix + keyNames,
	}

	reply, err := insertScript.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("inserting bucket for %s: %w", b.PrimaryCell, err)
	}

	if len(reply) != 2 {
		return nil, false, fmt.Errorf("unexpected insert reply %v", reply)
	}

	inserted, _ := reply[0].(int64)
	idStr, _ := reply[1].(string)

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("unexpected bucket id %q: %w", idStr, err)
	}

	if inserted == 1 {
		stored := b.Clone()
		stored.ID = geobucket.BucketID(id)

		return stored, true, nil
	}

	existing, err := r.load(ctx, []geobucket.BucketID{geobucket.BucketID(id)})
	if err != nil {
		return nil, false, err
	}

	if len(existing) == 0 {
		return nil, false, fmt.Errorf("cell %s points at missing bucket %d", b.PrimaryCell, id)
	}

	return existing[0], false, nil
}

func (r *Repository) IncrementMemberCount(ctx context.Context, id geobucket.BucketID) error {
	n, err := incrementScript.Run(ctx, r.client, []string{r.hashKey(id)}, formatTime(time.Now().UTC())).Int()
	if err != nil {
		return fmt.Errorf("incrementing bucket %d: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("incrementing bucket %d: %w", id, geobucket.ErrBucketNotFound)
	}

	return nil
}

func (r *Repository) SearchCandidates(ctx context.Context, normalizedQuery string) ([]*geobucket.Bucket, error) {
	if normalizedQuery == "" {
		return nil, nil
	}

	grams := geobucket.Trigrams(normalizedQuery)

	keys := make([]string, len(grams))
	for i, g := range grams {
		keys[i] = r.prefix + prefixTri + g
	}

	pipe := r.client.Pipeline()
	union := pipe.SUnion(ctx, keys...)
	prefixed := pipe.ZRangeByLex(ctx, r.prefix+keyNames, &redis.ZRangeBy{
		Min: "[" + normalizedQuery,
		Max: "[" + normalizedQuery + lexicographicMaxChar,
	})

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	seen := make(map[geobucket.BucketID]struct{})

	var ids []geobucket.BucketID

	add := func(s string) error {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt index entry %q: %w", s, err)
		}

		if _, ok := seen[geobucket.BucketID(id)]; !ok {
			seen[geobucket.BucketID(id)] = struct{}{}
			ids = append(ids, geobucket.BucketID(id))
		}

		return nil
	}

	for _, s := range union.Val() {
		if err := add(s); err != nil {
			return nil, err
		}
	}

	for _, member := range prefixed.Val() {
		i := strings.LastIndex(member, nameSeparator)
		if i < 0 {
			continue
		}

		if err := add(member[i+1:]); err != nil {
			return nil, err
		}
	}

	return r.load(ctx, ids)
}

func (r *Repository) ListBuckets(ctx context.Context, limit, offset int) ([]*geobucket.Bucket, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	members, err := r.client.ZRange(ctx, r.prefix+keyIndex, int64(offset), stop).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]geobucket.BucketID, 0, len(members))

	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt bucket index entry %q: %w", m, err)
		}

		ids = append(ids, geobucket.BucketID(id))
	}

	return r.load(ctx, ids)
}

// Stats loads every bucket and aggregates client side.
func (r *Repository) Stats(ctx context.Context, top int) (*geobucket.Stats, error) {
	all, err := r.ListBuckets(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	return geobucket.ComputeStats(all, top), nil
}

// load fetches the hashes of ids in one round trip, in the order given.
// Missing hashes are skipped.
func (r *Repository) load(ctx context.Context, ids []geobucket.BucketID) ([]*geobucket.Bucket, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()

	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.hashKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	buckets := make([]*geobucket.Bucket, 0, len(ids))

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		b, err := decode(fields)
		if err != nil {
			return nil, fmt.Errorf("decoding bucket %d: %w", ids[i], err)
		}

		buckets = append(buckets, b)
	}

	return buckets, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// encode flattens b into hash field/value pairs, without the id.
func encode(b *geobucket.Bucket) []any {
	boundary := ""
	if len(b.Boundary) > 0 {
		boundary = wkt.MarshalString(b.Boundary)
	}

	return []any{
		"primary_cell", int64(b.PrimaryCell),
		"parent_cell", int64(b.ParentCell),
		"resolution", b.Resolution,
		"canonical_name", b.CanonicalName,
		"normalized_name", b.NormalizedName,
		"center_lat", strconv.FormatFloat(b.Center.Lat, 'g', -1, 64),
		"center_lng", strconv.FormatFloat(b.Center.Lng, 'g', -1, 64),
		"boundary", boundary,
		"member_count", b.MemberCount,
		"created_at", formatTime(b.CreatedAt),
		"updated_at", formatTime(b.UpdatedAt),
	}
}

func decode(fields map[string]string) (*geobucket.Bucket, error) {
	b := &geobucket.Bucket{
		CanonicalName:  fields["canonical_name"],
		NormalizedName: fields["normalized_name"],
	}

	ints := []struct {
		field string
		dst   *int64
	}{
		{"id", (*int64)(&b.ID)},
		{"primary_cell", (*int64)(&b.PrimaryCell)},
		{"parent_cell", (*int64)(&b.ParentCell)},
		{"member_count", &b.MemberCount},
	}

	for _, f := range ints {
		v, err := strconv.ParseInt(fields[f.field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.field, err)
		}

		*f.dst = v
	}

	res, err := strconv.Atoi(fields["resolution"])
	if err != nil {
		return nil, fmt.Errorf("field resolution: %w", err)
	}

	b.Resolution = res

	if b.Center.Lat, err = strconv.ParseFloat(fields["center_lat"], 64); err != nil {
		return nil, fmt.Errorf("field center_lat: %w", err)
	}

	if b.Center.Lng, err = strconv.ParseFloat(fields["center_lng"], 64); err != nil {
		return nil, fmt.Errorf("field center_lng: %w", err)
	}

	if s := fields["boundary"]; s != "" {
		if b.Boundary, err = wkt.UnmarshalPolygon(s); err != nil {
			return nil, fmt.Errorf("field boundary: %w", err)
		}
	}

	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("field created_at: %w", err)
	}

	if b.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("field updated_at: %w", err)
	}

	return b, nil
}
