package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/msam-go/msam/alarms"
	"github.com/msam-go/msam/config"
	"github.com/msam-go/msam/discovery"
	"github.com/msam-go/msam/internal/memstore"
	"github.com/msam-go/msam/logging"
	"github.com/msam-go/msam/sqs"
	"github.com/msam-go/msam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue stands in for the SQS API. A nil queueURL fails the URL lookup.
type fakeQueue struct {
	queueURL *string
	sent     chan string
}

func (q *fakeQueue) GetQueueUrl(context.Context, *awssqs.GetQueueUrlInput, ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	if q.queueURL == nil {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}

	return &awssqs.GetQueueUrlOutput{QueueUrl: q.queueURL}, nil
}

func (q *fakeQueue) SendMessage(_ context.Context, params *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	q.sent <- aws.ToString(params.MessageBody)
	return &awssqs.SendMessageOutput{}, nil
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, _ *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) DeleteMessage(context.Context, *awssqs.DeleteMessageInput, ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	return &awssqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) ChangeMessageVisibility(context.Context, *awssqs.ChangeMessageVisibilityInput, ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error) {
	return &awssqs.ChangeMessageVisibilityOutput{}, nil
}

// sweepStore reports the context of the first sweep.
type sweepStore struct {
	*memstore.Store
	swept chan context.Context
}

func (s sweepStore) SweepExpired(ctx context.Context) (int, error) {
	select {
	case s.swept <- ctx:
	default:
	}

	return 0, nil
}

func testApp(store backend, queue *fakeQueue) *app {
	cfg := config.Default()
	cfg.SQS.Queue = "msam-alarm-events"
	cfg.Metrics.Listen = ""

	return &app{
		cfg:     cfg,
		logger:  logging.Nop(),
		store:   store,
		regions: discovery.StaticRegions{},
		sqsOpts: []sqs.Option{sqs.WithSQSClient(queue)},
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"run", "init", "sweep", "propagate", "resync", "alarms", "cache"} {
		assert.Contains(t, names, want)
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestFlagValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "propagate needs a target",
			args:    []string{"propagate"},
			wantErr: "at least one of the flags in the group [all alarm] is required",
		},
		{
			name:    "propagate all excludes alarm",
			args:    []string{"propagate", "--all", "--alarm", "HighLatency", "--region", "us-east-1"},
			wantErr: "none of the others can be",
		},
		{
			name:    "propagate alarm needs region",
			args:    []string{"propagate", "--alarm", "HighLatency"},
			wantErr: "if any flags in the group [region alarm] are set they must all be set",
		},
		{
			name:    "subscribe needs arn",
			args:    []string{"alarms", "subscribe", "--region", "us-east-1", "--alarm", "HighLatency"},
			wantErr: `required flag(s) "arn" not set`,
		},
		{
			name:    "alarms all needs region",
			args:    []string{"alarms", "all"},
			wantErr: `required flag(s) "region" not set`,
		},
		{
			name:    "cache get needs an ARN",
			args:    []string{"cache", "get"},
			wantErr: "requires at least 1 arg(s)",
		},
		{
			name:    "run takes no arguments",
			args:    []string{"run", "extra"},
			wantErr: `unknown command "extra"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiscoveryJobs(t *testing.T) {
	t.Parallel()

	store := memstore.New(time.Hour, nil)
	none := discovery.EnumeratorFunc(func(context.Context, string) ([]*types.CachedResource, error) {
		return nil, nil
	})

	jobs := discoveryJobs(config.Default().Discovery, store, enumerators{
		resources:        none,
		connections:      none,
		tags:             none,
		managedInstances: none,
	})

	scheduler, err := discovery.New(store, discovery.StaticRegions{"us-east-1"}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, scheduler.Register(jobs...))

	assert.Equal(t, []string{
		discovery.JobResources,
		discovery.JobConnections,
		discovery.JobTags,
		discovery.JobManagedInstances,
		discovery.JobSweep,
	}, scheduler.Jobs())

	intervals := map[string]time.Duration{}
	for _, j := range jobs {
		intervals[j.Name] = j.Interval
	}

	assert.Equal(t, time.Minute, intervals[discovery.JobManagedInstances])
	assert.Equal(t, time.Hour, intervals[discovery.JobSweep])
}

func TestResyncEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	event, err := resyncEvent("eu-west-1:Input:Loss", now)
	require.NoError(t, err)

	body, err := json.Marshal(event)
	require.NoError(t, err)

	parsed, err := alarms.ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", parsed.Region)
	assert.Equal(t, "Input:Loss", parsed.Detail.AlarmName)
	assert.True(t, parsed.Time.Equal(now))

	_, err = resyncEvent("no-separator", now)
	assert.Error(t, err)
}

func TestPropagationSummary(t *testing.T) {
	t.Parallel()

	s := propagationSummary(&alarms.Result{
		AlarmKey:    "us-east-1:HighLatency",
		Subscribers: 3,
		Updated:     []string{"arn:a"},
		Skipped:     []string{"arn:b"},
		Failed:      map[string]error{"arn:c": errors.New("throttled")},
	})

	var out bytes.Buffer
	require.NoError(t, printJSON(&out, s))

	assert.JSONEq(t, `{
		"alarm_key": "us-east-1:HighLatency",
		"subscribers": 3,
		"updated": ["arn:a"],
		"skipped": ["arn:b"],
		"failed": {"arn:c": "throttled"}
	}`, out.String())
}

func TestIgnoreCanceled(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))

	err := errors.New("listen tcp: address in use")
	assert.Same(t, err, ignoreCanceled(err))
}

func TestRun_ConsumerFailureStopsScheduler(t *testing.T) {
	t.Parallel()

	store := sweepStore{Store: memstore.New(time.Hour, nil), swept: make(chan context.Context, 1)}
	a := testApp(store, &fakeQueue{})

	err := a.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize SQS consumer")

	select {
	case ctx := <-store.swept:
		assert.Error(t, ctx.Err(), "scheduler must be stopped when run returns")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never ran the sweep job")
	}
}

func TestResync(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := memstore.New(time.Hour, nil)

	require.NoError(t, store.Subscribe(ctx, "us-east-1:HighLatency", "arn:a"))
	require.NoError(t, store.Subscribe(ctx, "eu-west-1:InputLoss", "arn:b"))

	queue := &fakeQueue{
		queueURL: aws.String("http://localhost:4566/000000000000/msam-alarm-events"),
		sent:     make(chan string, 2),
	}

	n, err := testApp(store, queue).resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var names []string

	for range 2 {
		event, err := alarms.ParseEvent([]byte(<-queue.sent))
		require.NoError(t, err)
		names = append(names, event.Region+":"+event.Detail.AlarmName)
	}

	assert.ElementsMatch(t, []string{"us-east-1:HighLatency", "eu-west-1:InputLoss"}, names)
}
