package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/msam-go/msam/alarms"
	"github.com/msam-go/msam/cloudwatch"
	"github.com/msam-go/msam/metrics"
	"github.com/msam-go/msam/sqs"
	"github.com/msam-go/msam/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func getRunCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run discovery, alarm event intake and the metrics endpoint until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer a.shutdown(context.WithoutCancel(cmd.Context()))

			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	m := metrics.New()

	scheduler, err := a.newScheduler(m)
	if err != nil {
		return fmt.Errorf("failed to create discovery scheduler: %w", err)
	}

	propagator, err := alarms.New(a.store, cloudwatch.New(&a.awsCfg), a.logger,
		alarms.WithConcurrency(a.cfg.Alarms.Concurrency),
		alarms.WithRecorder(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create propagator: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(scheduler.Start(ctx))
	})

	if a.cfg.SQS.Queue != "" {
		if err := a.consume(ctx, g, propagator, m); err != nil {
			cancel()
			_ = g.Wait()

			return err
		}
	} else {
		a.logger.Warn("No SQS queue configured, alarm events will not be received")
	}

	if a.cfg.Metrics.Listen != "" {
		a.serveMetrics(ctx, g, m)
	}

	a.logger.Info("msam running")

	err = g.Wait()

	a.logger.Info("msam stopped")

	return err
}

func (a *app) consume(ctx context.Context, g *errgroup.Group, propagator *alarms.Propagator, m *metrics.Metrics) error {
	sqsCfg := a.cfg.SQS

	opts := append([]sqs.Option{
		sqs.WithSqsVisibilityTimeout(sqsCfg.VisibilityTimeoutSeconds),
		sqs.WithMaxOutstandingMessages(sqsCfg.MaxOutstandingMessages),
		sqs.WithMaxMessageExtension(sqsCfg.MaxMessageExtension),
	}, a.sqsOpts...)

	client, err := sqs.New(&a.awsCfg, sqsCfg.Queue, a.logger, opts...).Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize SQS consumer: %w", err)
	}

	if err := m.WatchQueue(client.Name(), client.InFlight); err != nil {
		return fmt.Errorf("failed to register queue metrics: %w", err)
	}

	items := make(chan *types.QueueItem, sqsCfg.MaxOutstandingMessages)

	g.Go(func() error {
		return ignoreCanceled(client.Receive(ctx, items))
	})

	g.Go(func() error {
		propagator.Consume(ctx, items, int64(sqsCfg.MaxOutstandingMessages))
		return nil
	})

	return nil
}

func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.WithField("addr", srv.Addr).Info("Serving metrics")

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})
}
