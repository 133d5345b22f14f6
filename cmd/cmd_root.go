// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "geobuckets",
	Short: "groups point-of-interest records into canonical neighborhood buckets",
	Long: `
geobuckets assigns every location record to a bucket owning a hexagonal cell
of ~0.7 km², merging records of adjacent cells whose place names are nearly
identical, and answers fuzzy searches over bucket names.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// A missing .env file is fine.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("Ignoring .env: %v", err)
		}

		return storeOpts.applyEnv(cmd)
	},
}

var Version = "dev"

func Execute(version string) {
	Version = version
	rootCmd.Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
