package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func getSweepCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries from the resource cache once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer a.shutdown(context.WithoutCancel(cmd.Context()))

			removed, err := a.store.SweepExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sweep expired resources: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired resources\n", removed)

			return err
		},
	}
}
