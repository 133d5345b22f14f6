// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jcodagnone/geobuckets/geobucket"
	"github.com/jcodagnone/geobuckets/geobucket/utils"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <lat> <lng> <name>",
	Short: "Assigns a location to its bucket, creating it if needed",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q: %w", args[0], err)
		}

		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q: %w", args[1], err)
		}

		a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.resolver.ResolveDetailed(cmd.Context(), lat, lng, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}

		fmt.Printf("bucket:     %d\n", res.Bucket.ID)
		fmt.Printf("outcome:    %s\n", res.Outcome)
		fmt.Printf("name:       %s\n", res.Bucket.CanonicalName)
		fmt.Printf("members:    %s\n", utils.FormatInt(res.Bucket.MemberCount))
		fmt.Printf("cells:      %s / %s / %s\n", res.Cells.Precise, res.Cells.Primary, res.Cells.Parent)

		if res.Outcome == geobucket.OutcomeNeighbor {
			fmt.Printf("similarity: %s\n", utils.FormatScore(res.Score))
		}

		return nil
	},
}

var (
	searchThreshold float64
	searchLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Lists the buckets whose name resembles the query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), searchLimit)
		if err != nil {
			return err
		}
		defer a.Close()

		matches, err := a.matcher.Search(cmd.Context(), strings.Join(args, " "), searchThreshold)
		if err != nil {
			return err
		}

		a1, b, c, d := strings.Repeat("─", 8), strings.Repeat("─", 6), strings.Repeat("─", 10), strings.Repeat("─", 40)
		fmt.Printf("╭─%8s─┬─%6s─┬─%10s─┬─%-40s╮\n", a1, b, c, d)
		fmt.Printf("│ %8s │ %6s │ %10s │ %-40s│\n", "Bucket", "Score", "Members", "Name")
		fmt.Printf("├─%8s─┼─%6s─┼─%10s─┼─%-40s┤\n", a1, b, c, d)

		for m := range matches.Results() {
			fmt.Printf("│ %8d │ %6s │ %10s │ %-40s│\n",
				m.Bucket.ID, utils.FormatScore(m.Score), utils.FormatInt(m.Bucket.MemberCount), m.Bucket.CanonicalName)
		}

		fmt.Printf("╰─%8s─┴─%6s─┴─%10s─┴─%-40s╯\n", a1, b, c, d)

		return nil
	},
}

var statsTop int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarizes the bucket store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), geobucket.DefaultSearchLimit)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := geobucket.ReadStats(cmd.Context(), a.buckets, statsTop)
		if err != nil {
			return err
		}

		fmt.Printf("buckets:         %s\n", utils.FormatInt(stats.TotalBuckets))
		fmt.Printf("empty buckets:   %s\n", utils.FormatInt(stats.EmptyBuckets))
		fmt.Printf("members:         %s\n", utils.FormatInt(stats.TotalMembers))
		fmt.Printf("unique names:    %s\n", utils.FormatInt(stats.UniqueNames))
		fmt.Printf("average members: %.2f\n", stats.AverageMembers())

		if stats.Bounds != nil {
			fmt.Printf("bounds:          (%.5f, %.5f) - (%.5f, %.5f)\n",
				stats.Bounds.Min.Lat(), stats.Bounds.Min.Lon(), stats.Bounds.Max.Lat(), stats.Bounds.Max.Lon())
			fmt.Printf("area:            %.2f km²\n", stats.AreaKm2)
			fmt.Printf("density:         %.2f members/km²\n", stats.Density)
		}

		for _, rs := range stats.Resolutions {
			fmt.Printf("res %2d:          %s buckets, members min %s / avg %.2f / max %s / total %s\n",
				rs.Resolution, utils.FormatInt(rs.Buckets), utils.FormatInt(rs.MinMembers), rs.AvgMembers,
				utils.FormatInt(rs.MaxMembers), utils.FormatInt(rs.TotalMembers))
		}

		for i, b := range stats.TopBuckets {
			fmt.Printf("%3d. %-40s %10s  %s\n", i+1, b.CanonicalName, utils.FormatInt(b.MemberCount), b.Center)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)

	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", geobucket.DefaultSearchThreshold, "Minimum similarity, exclusive")
	searchCmd.Flags().IntVar(&searchLimit, "limit", geobucket.DefaultSearchLimit, "Maximum number of buckets, 0 for all")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "Number of largest buckets to list")
}
