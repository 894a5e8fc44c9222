package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// rootEnv holds the flags shared by every subcommand.
type rootEnv struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	env := &rootEnv{}

	cmd := &cobra.Command{
		Use:   "msam",
		Short: "Media services alarm subscriptions and resource discovery.",
		Long: `msam keeps a cache of discovered media resources fresh and applies
CloudWatch alarm state changes to the resources subscribed to each alarm.

Configuration is read from the file given by --config or MSAM_CONFIG, and
MSAM_* environment variables override it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&env.configPath, "config", "", "Path to the YAML configuration file")

	cmd.AddCommand(
		getRunCmd(env),
		getInitCmd(env),
		getSweepCmd(env),
		getPropagateCmd(env),
		getResyncCmd(env),
		getAlarmsCmd(env),
		getCacheCmd(env),
	)

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
