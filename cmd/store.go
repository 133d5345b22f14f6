// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/jcodagnone/geobuckets/geobucket/redisstore"
	"github.com/spf13/cobra"
)

const (
	storeDuckDB = "duckdb"
	storeRedis  = "redis"
	storeMemory = "memory"

	dbFile = "geobuckets.duckdb"
)

type storeOptions struct {
	DbPath        string
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

var storeOpts = &storeOptions{}

// applyEnv fills every flag the user did not set from the environment.
func (o *storeOptions) applyEnv(cmd *cobra.Command) error {
	flags := cmd.Flags()

	fromEnv := func(flag, env string, dst *string) {
		if flags.Changed(flag) {
			return
		}

		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	fromEnv("db", "GEOBUCKETS_DB_PATH", &o.DbPath)
	fromEnv("store", "GEOBUCKETS_STORE", &o.Store)
	fromEnv("redis-addr", "GEOBUCKETS_REDIS_ADDR", &o.RedisAddr)

	if v := os.Getenv("GEOBUCKETS_REDIS_PASSWORD"); v != "" {
		o.RedisPassword = v
	}

	if v := os.Getenv("GEOBUCKETS_REDIS_DB"); v != "" && !flags.Changed("redis-db") {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GEOBUCKETS_REDIS_DB: %w", err)
		}

		o.RedisDB = n
	}

	switch o.Store {
	case storeDuckDB, storeRedis, storeMemory:
		return nil
	default:
		return fmt.Errorf("unknown store %q, want %s, %s or %s", o.Store, storeDuckDB, storeRedis, storeMemory)
	}
}

// stores bundles the repositories selected by the options.
type stores struct {
	buckets geobucket.BucketRepository
	records geobucket.RecordRepository
	closers []func() error
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}

// openStores opens the bucket and record repositories. Records always live
// in DuckDB unless the memory store is selected.
func openStores(ctx context.Context, o *storeOptions) (*stores, error) {
	s := &stores{}

	if o.Store == storeMemory {
		s.buckets = geobucket.NewMemoryRepository()
		s.records = geobucket.NewMemoryRecordRepository()

		return s, nil
	}

	db, err := openDuckDB(o.DbPath)
	if err != nil {
		return nil, err
	}

	s.closers = append(s.closers, db.Close)

	records := geobucket.NewSQLRecordRepository(db)
	if err := records.CreateSchema(); err != nil {
		_ = s.Close()

		return nil, fmt.Errorf("creating record schema: %w", err)
	}

	s.records = records

	switch o.Store {
	case storeRedis:
		repo, err := redisstore.New(ctx, redisstore.Config{
			Addr:     o.RedisAddr,
			Password: o.RedisPassword,
			DB:       o.RedisDB,
		})
		if err != nil {
			_ = s.Close()

			return nil, err
		}

		s.closers = append(s.closers, repo.Close)
		s.buckets = repo
	default:
		repo := geobucket.NewSQLBucketRepository(db)
		if err := repo.CreateSchema(); err != nil {
			_ = s.Close()

			return nil, fmt.Errorf("creating bucket schema: %w", err)
		}

		s.buckets = repo
	}

	log.Printf("Using %s bucket store", o.Store)

	return s, nil
}

func openDuckDB(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("duckdb", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&storeOpts.DbPath,
		"db",
		"data",
		"Directory holding the DuckDB database (env GEOBUCKETS_DB_PATH)",
	)
	rootCmd.PersistentFlags().StringVar(
		&storeOpts.Store,
		"store",
		storeDuckDB,
		"Bucket store: duckdb, redis or memory (env GEOBUCKETS_STORE)",
	)
	rootCmd.PersistentFlags().StringVar(
		&storeOpts.RedisAddr,
		"redis-addr",
		"localhost:6379",
		"Redis address when --store=redis (env GEOBUCKETS_REDIS_ADDR)",
	)
	rootCmd.PersistentFlags().IntVar(
		&storeOpts.RedisDB,
		"redis-db",
		0,
		"Redis database number (env GEOBUCKETS_REDIS_DB)",
	)
}
