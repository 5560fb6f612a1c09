package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abramin/namelens/internal/store"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the versions mappings are available for",
	Long: `List every version available locally or on the configured mirror,
oldest first, with the outcome of its most recent build.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		versions, err := app.Service.Versions(ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No versions found in %s\n", cfg.DataDir)
			return nil
		}

		builds, err := app.Store.ListBuilds(ctx, "", 0)
		if err != nil {
			return err
		}
		last := make(map[string]store.Build, len(builds))
		for _, b := range builds {
			if _, seen := last[b.Version]; !seen {
				last[b.Version] = b
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tLAST BUILD\tRECORDS\tOUTCOME")
		for i, v := range versions {
			label := v
			if i == len(versions)-1 {
				label += " (latest)"
			}
			b, ok := last[v]
			if !ok {
				fmt.Fprintf(w, "%s\t-\t-\t-\n", label)
				continue
			}
			total := 0
			for _, n := range b.Records {
				total += n
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, humanize.Time(b.FinishedAt), humanize.Comma(int64(total)), b.Outcome)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
