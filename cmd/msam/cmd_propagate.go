package main

import (
	"context"
	"fmt"

	"github.com/msam-go/msam/alarms"
	"github.com/msam-go/msam/cloudwatch"
	"github.com/spf13/cobra"
)

type propagateEnv struct {
	root      *rootEnv
	region    string
	alarmName string
	all       bool
}

func getPropagateCmd(root *rootEnv) *cobra.Command {
	env := &propagateEnv{root: root}

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Read an alarm's state from CloudWatch and apply it to its subscribers.",
		Long: `Reads the current state of one alarm, or with --all of every subscribed
alarm, from CloudWatch and writes it to the subscription rows.`,
		Args: cobra.NoArgs,
		RunE: env.runPropagateCmd,
	}

	cmd.Flags().StringVar(&env.region, "region", "", "Region of the alarm")
	cmd.Flags().StringVar(&env.alarmName, "alarm", "", "Name of the alarm")
	cmd.Flags().BoolVar(&env.all, "all", false, "Propagate every subscribed alarm")
	cmd.MarkFlagsRequiredTogether("region", "alarm")
	cmd.MarkFlagsMutuallyExclusive("all", "alarm")
	cmd.MarkFlagsOneRequired("all", "alarm")

	return cmd
}

func (e *propagateEnv) runPropagateCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, e.root.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.WithoutCancel(ctx))

	provider := cloudwatch.New(&a.awsCfg)

	propagator, err := alarms.New(a.store, provider, a.logger, alarms.WithConcurrency(a.cfg.Alarms.Concurrency))
	if err != nil {
		return err
	}

	if e.all {
		n, err := propagator.Refresh(ctx)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "propagated %d alarms\n", n)

		return err
	}

	status, err := provider.AlarmState(ctx, e.region, e.alarmName)
	if err != nil {
		return err
	}

	result, err := propagator.OnAlarmStateChanged(ctx, e.region, e.alarmName, status.State, status.StateUpdatedAt)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), propagationSummary(result))
}

type summary struct {
	AlarmKey    string            `json:"alarm_key"`
	Subscribers int               `json:"subscribers"`
	Updated     []string          `json:"updated"`
	Skipped     []string          `json:"skipped"`
	Failed      map[string]string `json:"failed,omitempty"`
}

func propagationSummary(r *alarms.Result) summary {
	s := summary{
		AlarmKey:    r.AlarmKey.String(),
		Subscribers: r.Subscribers,
		Updated:     r.Updated,
		Skipped:     r.Skipped,
	}

	if len(r.Failed) > 0 {
		s.Failed = make(map[string]string, len(r.Failed))

		for id, err := range r.Failed {
			s.Failed[id] = err.Error()
		}
	}

	return s
}
