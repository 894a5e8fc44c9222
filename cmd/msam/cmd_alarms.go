package main

import (
	"context"
	"fmt"

	"github.com/msam-go/msam/alarms"
	"github.com/msam-go/msam/types"
	"github.com/spf13/cobra"
)

type alarmsEnv struct {
	root       *rootEnv
	region     string
	alarmName  string
	subscriber string
	state      string
	arns       []string
}

func getAlarmsCmd(root *rootEnv) *cobra.Command {
	env := &alarmsEnv{root: root}

	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "Inspect and manage alarm subscriptions.",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscribed alarms, or the subscriptions of a resource or in a state.",
		Args:  cobra.NoArgs,
		RunE:  env.runList,
	}
	list.Flags().StringVar(&env.subscriber, "subscriber", "", "List the subscriptions of this resource ARN")
	list.Flags().StringVar(&env.state, "state", "", "List the subscriptions whose alarm is in this state (OK, ALARM, INSUFFICIENT_DATA)")
	list.MarkFlagsMutuallyExclusive("subscriber", "state")

	subscribers := &cobra.Command{
		Use:   "subscribers",
		Short: "List the resources subscribed to an alarm.",
		Args:  cobra.NoArgs,
		RunE:  env.runSubscribers,
	}
	env.alarmFlags(subscribers)

	subscribe := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe resources to an alarm.",
		Args:  cobra.NoArgs,
		RunE:  env.runSubscribe,
	}
	env.alarmFlags(subscribe)
	subscribe.Flags().StringSliceVar(&env.arns, "arn", nil, "Resource ARN to subscribe; repeat or separate with commas")
	must(subscribe.MarkFlagRequired("arn"))

	unsubscribe := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Remove resources from an alarm.",
		Args:  cobra.NoArgs,
		RunE:  env.runUnsubscribe,
	}
	env.alarmFlags(unsubscribe)
	unsubscribe.Flags().StringSliceVar(&env.arns, "arn", nil, "Resource ARN to unsubscribe; repeat or separate with commas")
	must(unsubscribe.MarkFlagRequired("arn"))

	all := &cobra.Command{
		Use:   "all",
		Short: "List every alarm in a region with its current state.",
		Args:  cobra.NoArgs,
		RunE:  env.runAll,
	}
	all.Flags().StringVar(&env.region, "region", "", "Region to list alarms in")
	must(all.MarkFlagRequired("region"))

	cmd.AddCommand(list, subscribers, subscribe, unsubscribe, all)

	return cmd
}

func (e *alarmsEnv) alarmFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&e.region, "region", "", "Region of the alarm")
	cmd.Flags().StringVar(&e.alarmName, "alarm", "", "Name of the alarm")
	must(cmd.MarkFlagRequired("region"))
	must(cmd.MarkFlagRequired("alarm"))
}

func (e *alarmsEnv) runList(cmd *cobra.Command, _ []string) error {
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

	switch {
	case e.subscriber != "":
		subs, err := q.AlarmsForSubscriber(ctx, e.subscriber)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), subs)
	case e.state != "":
		state, err := types.ParseAlarmState(e.state)
		if err != nil {
			return err
		}

		subs, err := q.SubscribedWithState(ctx, state)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), subs)
	default:
		keys, err := q.AllSubscribedAlarms(ctx)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), keys)
	}
}

func (e *alarmsEnv) runSubscribers(cmd *cobra.Command, _ []string) error {
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

	subscribers, err := q.SubscribersToAlarm(ctx, e.region, e.alarmName)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), subscribers)
}

func (e *alarmsEnv) runAll(cmd *cobra.Command, _ []string) error {
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

	statuses, err := q.AlarmsInRegion(ctx, e.region)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), statuses)
}

func (e *alarmsEnv) runSubscribe(cmd *cobra.Command, _ []string) error {
	return e.manage(cmd, "subscribed", (*alarms.Manager).Subscribe)
}

func (e *alarmsEnv) runUnsubscribe(cmd *cobra.Command, _ []string) error {
	return e.manage(cmd, "unsubscribed", (*alarms.Manager).Unsubscribe)
}

type manageFunc func(m *alarms.Manager, ctx context.Context, region, alarmName string, subscriberIDs ...string) error

func (e *alarmsEnv) manage(cmd *cobra.Command, verb string, fn manageFunc) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, e.root.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.WithoutCancel(ctx))

	if err := fn(alarms.NewManager(a.store, a.logger), ctx, e.region, e.alarmName, e.arns...); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d resources\n", verb, len(e.arns))

	return err
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
