// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type importOptions struct {
	MaxProcs int
	IfAbsent bool
}

var importOpts = &importOptions{}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Ingests the records of a seed file",
	Long: `
Ingests every record of a seed file, resolving each one to its bucket.
Records are ingested concurrently; with --if-absent a record whose title
already exists is skipped, and only the first record of each title in the
file is ingested.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := geobucket.ReadSeed(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
		if err != nil {
			return err
		}
		defer a.Close()

		records := seed.Records

		var duplicates int
		if importOpts.IfAbsent {
			records, duplicates = geobucket.UniqueTitles(records)
		}

		maxProcs := importOpts.MaxProcs
		if maxProcs <= 0 {
			maxProcs = runtime.NumCPU()
		}

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(records),
				progressbar.OptionSetDescription("Importing "+args[0]),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		var created, skipped, failed atomic.Int64

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(maxProcs)

		for _, rec := range records {
			g.Go(func() error {
				isNew := true

				var err error
				if importOpts.IfAbsent {
					_, isNew, err = a.ingestor.IngestIfAbsent(ctx, rec)
				} else {
					_, _, err = a.ingestor.Ingest(ctx, rec)
				}

				switch {
				case geobucket.IsRepositoryError(err):
					// The store is unusable; stop the remaining workers.
					return fmt.Errorf("importing %q: %w", rec.Title, err)
				case err != nil:
					failed.Add(1)
					log.Printf("Skipping %q - %v", rec.Title, err)
				case isNew:
					created.Add(1)
				default:
					skipped.Add(1)
				}

				if bar != nil {
					_ = bar.Add(1)
				}

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		log.Printf(
			"Import complete - %d records, %d ingested, %d already present, %d failed.",
			len(seed.Records),
			created.Load(),
			skipped.Load()+int64(duplicates),
			failed.Load(),
		)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVar(&importOpts.MaxProcs, "max-procs", 0, "Concurrent ingestions, 0 for one per CPU")
	importCmd.Flags().BoolVar(&importOpts.IfAbsent, "if-absent", false, "Skip records whose title is already stored")
}
