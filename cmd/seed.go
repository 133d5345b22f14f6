// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"

	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/spf13/cobra"
)

const defaultSeedFile = "cmd/testdata/seed.json"

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file.json]",
		Short: "Seeds an empty store with data from cmd/testdata/seed.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultSeedFile
			if len(args) == 1 {
				path = args[0]
			}

			a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
			if err != nil {
				return err
			}
			defer a.Close()

			seeded, count, err := geobucket.SeedIfEmpty(cmd.Context(), a.ingestor, a.records, path)
			if err != nil {
				return fmt.Errorf("seeding from %s: %w", path, err)
			}

			if !seeded {
				log.Printf("Store already holds records, nothing seeded")

				return nil
			}

			fmt.Printf("Store seeded successfully with %d records.\n", count)

			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.json>",
		Short: "Writes every record and bucket to a seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := geobucket.ExportToJSON(cmd.Context(), a.buckets, a.records, args[0]); err != nil {
				return fmt.Errorf("exporting to %s: %w", args[0], err)
			}

			log.Printf("Exported to %s", args[0])

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newExportCmd())
}
