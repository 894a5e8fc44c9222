package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func getInitCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or validate the backend schema and exit.",
		Long: `Connects to the configured backend and prepares it. Postgres tables and
indexes are created if missing; DynamoDB tables are validated against the
expected key schema, indexes and TTL setting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer a.shutdown(context.WithoutCancel(cmd.Context()))

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s backend is ready\n", a.cfg.Backend)

			return err
		},
	}
}
