// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app wires the geobucket services on top of the configured stores.
type app struct {
	*stores

	registry *prometheus.Registry
	resolver *geobucket.Resolver
	matcher  *geobucket.SearchMatcher
	ingestor *geobucket.Ingestor
}

func newApp(ctx context.Context, searchLimit int) (*app, error) {
	s, err := openStores(ctx, storeOpts)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := geobucket.NewMetrics(registry)
	resolver := geobucket.NewResolver(s.buckets, geobucket.WithResolverMetrics(metrics))
	matcher := geobucket.NewSearchMatcher(s.buckets,
		geobucket.WithSearchLimit(searchLimit),
		geobucket.WithSearchMetrics(metrics),
	)

	return &app{
		stores:   s,
		registry: registry,
		resolver: resolver,
		matcher:  matcher,
		ingestor: geobucket.NewIngestor(resolver, matcher, s.records),
	}, nil
}
