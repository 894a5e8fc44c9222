package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msam-go/msam/sqs"
	"github.com/msam-go/msam/types"
	"github.com/spf13/cobra"
)

func getResyncCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Queue a state change event for every subscribed alarm.",
		Long: `Publishes one alarm state change event per subscribed alarm to the
configured SQS queue. A running consumer then re-reads each alarm's state and
propagates it, exactly as for events delivered by EventBridge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.shutdown(context.WithoutCancel(ctx))

			n, err := a.resync(ctx)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %d alarm events\n", n)

			return err
		},
	}
}

func (a *app) resync(ctx context.Context) (int, error) {
	if a.cfg.SQS.Queue == "" {
		return 0, errors.New("no SQS queue configured")
	}

	queue, err := sqs.New(&a.awsCfg, a.cfg.SQS.Queue, a.logger, a.sqsOpts...).Init(ctx)
	if err != nil {
		return 0, err
	}

	keys, err := a.store.ListAlarms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscribed alarms: %w", err)
	}

	now := time.Now().UTC()
	queued := 0

	for _, key := range keys {
		event, err := resyncEvent(key, now)
		if err != nil {
			a.logger.WithField("alarm_key", key.String()).Warnf("Skipping alarm: %v", err)
			continue
		}

		if err := queue.Publish(ctx, event); err != nil {
			return queued, err
		}

		queued++
	}

	return queued, nil
}

func resyncEvent(key types.AlarmKey, now time.Time) (*types.AlarmEvent, error) {
	region, alarmName, err := key.Split()
	if err != nil {
		return nil, err
	}

	return &types.AlarmEvent{
		ID:         "resync-" + key.String() + "-" + now.Format(time.RFC3339),
		DetailType: "CloudWatch Alarm State Change",
		Source:     "msam.resync",
		Time:       now,
		Region:     region,
		Detail:     types.AlarmEventDetail{AlarmName: alarmName},
	}, nil
}
