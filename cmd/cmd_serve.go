// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveSeed   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("listen") {
			if v := os.Getenv("GEOBUCKETS_LISTEN"); v != "" {
				serveListen = v
			}
		}

		a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
		if err != nil {
			return err
		}
		defer a.Close()

		if serveSeed != "" {
			seeded, count, err := geobucket.SeedIfEmpty(cmd.Context(), a.ingestor, a.records, serveSeed)
			if err != nil {
				return fmt.Errorf("seeding: %w", err)
			}

			if seeded {
				log.Printf("Seeded %d records from %s", count, serveSeed)
			}
		}

		server := geobucket.NewServer(a.buckets, a.resolver, a.matcher, a.ingestor, a.registry)

		return server.Run(serveListen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "localhost:8080", "Address to listen on (env GEOBUCKETS_LISTEN)")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "Seed file to load when the store has no records")
}
