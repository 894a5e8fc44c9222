package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type cacheEnv struct {
	root    *rootEnv
	service string
	region  string
}

func getCacheCmd(root *rootEnv) *cobra.Command {
	env := &cacheEnv{root: root}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read the discovered resource cache.",
	}

	get := &cobra.Command{
		Use:   "get ARN...",
		Short: "Print the cached resources with the given ARNs.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  env.runGet,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the cached resources of a service, optionally in one region.",
		Args:  cobra.NoArgs,
		RunE:  env.runList,
	}
	list.Flags().StringVar(&env.service, "service", "", "Service name, such as medialive-channel")
	list.Flags().StringVar(&env.region, "region", "", "Limit to one region")
	must(list.MarkFlagRequired("service"))

	regions := &cobra.Command{
		Use:   "regions",
		Short: "Print the regions discovery runs in.",
		Args:  cobra.NoArgs,
		RunE:  env.runRegions,
	}

	cmd.AddCommand(get, list, regions)

	return cmd
}

func (e *cacheEnv) runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, e.root.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.WithoutCancel(ctx))

	q, err := a.query()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		r, ok, err := q.CachedByArn(ctx, args[0])
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%s is not cached", args[0])
		}

		return printJSON(cmd.OutOrStdout(), r)
	}

	resources, err := q.CachedByArns(ctx, args...)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), resources)
}

func (e *cacheEnv) runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if e.service == "" {
		return errors.New("--service cannot be empty")
	}

	a, err := newApp(ctx, e.root.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.WithoutCancel(ctx))

	q, err := a.query()
	if err != nil {
		return err
	}

	if e.region == "" {
		resources, err := q.CachedByService(ctx, e.service)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), resources)
	}

	resources, err := q.CachedByServiceRegion(ctx, e.service, e.region)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), resources)
}

func (e *cacheEnv) runRegions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, e.root.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.WithoutCancel(ctx))

	q, err := a.query()
	if err != nil {
		return err
	}

	regions, err := q.Regions(ctx)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), regions)
}
