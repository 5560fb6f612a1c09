package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abramin/namelens/internal/mapping"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <version>",
	Short: "Download (if needed) and build the mappings database for a version",
	Long: `Resolve a version to its mapping archive and owner table, downloading
them from the configured mirror when they are not on disk, then build the
database once to verify it parses.

"latest" resolves to the newest known version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		version, err := app.Cache.Resolve(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Fetching %s\n", version)
		src, err := app.Fetcher.Fetch(ctx, version)
		if err != nil {
			return err
		}

		start := time.Now()
		ds, err := app.Cache.GetOrBuild(ctx, version)
		if err != nil {
			return err
		}
		stats := ds.Stats()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Build complete!\n")
		fmt.Fprintf(out, "  Archive:  %s (%s)\n", src.Mappings, fileSize(src.Mappings))
		fmt.Fprintf(out, "  Owners:   %s (%s entries)\n", src.Owners, humanize.Comma(int64(stats.Owners)))
		for _, t := range mapping.Types() {
			if t.Info().Entry == "" {
				continue
			}
			fmt.Fprintf(out, "  %-9s %s\n", t.String()+"s:", humanize.Comma(int64(stats.Records[t])))
		}
		fmt.Fprintf(out, "  Build ID: %s\n", stats.BuildID)
		fmt.Fprintf(out, "  Duration: %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
