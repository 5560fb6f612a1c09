package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var defaultGuild string

var defaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Show or change a guild's default lookup version",
}

var defaultGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the default version of a guild",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version, set, err := app.Service.Default(cmd.Context(), defaultGuild)
		if err != nil {
			return err
		}
		if !set {
			fmt.Fprintf(cmd.OutOrStdout(), "Guild %s uses the latest version\n", defaultGuild)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default version for guild %s is %s\n", defaultGuild, version)
		return nil
	},
}

var defaultSetCmd = &cobra.Command{
	Use:   "set <version>",
	Short: `Set the default version of a guild ("latest" unsets it)`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Service.SetDefault(cmd.Context(), defaultGuild, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set default version for guild %s to %s\n", defaultGuild, args[0])
		return nil
	},
}

var defaultUnsetCmd = &cobra.Command{
	Use:   "unset",
	Short: "Remove the default version of a guild",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := app.Service.ClearDefault(cmd.Context(), defaultGuild)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "Guild %s had no default version\n", defaultGuild)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Guild %s now uses the latest version\n", defaultGuild)
		return nil
	},
}

var defaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every guild with a default version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.Service.ListDefaults(cmd.Context())
		if err != nil {
			return err
		}
		if len(defaults) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No guild defaults set, every guild uses the latest version")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GUILD\tVERSION\tUPDATED")
		for _, d := range defaults {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Guild, d.Version, humanize.Time(d.UpdatedAt))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(defaultCmd)
	defaultCmd.AddCommand(defaultGetCmd, defaultSetCmd, defaultUnsetCmd, defaultListCmd)
	for _, c := range []*cobra.Command{defaultGetCmd, defaultSetCmd, defaultUnsetCmd} {
		c.Flags().StringVarP(&defaultGuild, "guild", "g", "", "guild id")
		_ = c.MarkFlagRequired("guild")
	}
}
