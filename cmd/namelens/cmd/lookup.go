package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abramin/namelens/internal/logging"
	"github.com/abramin/namelens/internal/mapping"
	"github.com/abramin/namelens/internal/query"
)

var lookupGuild string

var lookupCmd = &cobra.Command{
	Use:   "lookup <type> <name> [version]",
	Short: "Look up mappings for a class, method, field or param",
	Long: `Look up the mappings whose intermediate name contains <name>, or whose
readable name equals it.

<type> is one of class, method, field or param (or their first letter).
<name> may carry an owner hint: "BlockPos.getX" keeps only methods declared
in a class whose name ends with "BlockPos".

Without [version] the guild default is used when --guild is given, and
the latest version otherwise.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := mapping.ParseType(args[0])
		if err != nil {
			return err
		}
		req := query.Request{Type: t, Name: args[1], Guild: lookupGuild}
		if len(args) > 2 {
			req.Version = args[2]
		}

		ctx := logging.With(cmd.Context(), "type", t.String(), "name", req.Name)
		res, err := app.Service.Lookup(ctx, req)
		if err != nil {
			return err
		}
		if res.Pending {
			fmt.Fprintln(cmd.ErrOrStderr(), query.BuildingNotice)
			if err := res.Wait(ctx); err != nil {
				return err
			}
		}
		logging.Ctx(ctx).DebugContext(ctx, "lookup finished", "version", res.Version, "records", len(res.Records))

		fmt.Fprint(cmd.OutOrStdout(), query.FormatRecords(res.Dataset, res.Records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVarP(&lookupGuild, "guild", "g", "", "guild whose default version applies")
}
