package sqs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/msam-go/msam/types"
)

// Client consumes alarm events from an SQS queue. Standard and FIFO queues are
// both supported; a queue is treated as FIFO when its name ends with ".fifo".
// While an event is in flight its visibility timeout is extended in the
// background, and it is handed to the caller as a [types.QueueItem].
//
// Create a Client with [New], then call [Client.Init] once before any other
// method. Init is not thread-safe; all other methods are safe for concurrent
// use after Init returns.
type Client struct {
	client      sqsClient
	queueName   string
	queueURL    string
	fifo        bool
	awsCfg      *aws.Config
	opts        *Options
	extender    *messageExtender
	extenderCh  chan *extendableMessage
	logger      types.Logger
	initialized bool
}

// New creates a Client for the named queue. It does not contact AWS.
func New(awsCfg *aws.Config, queueName string, logger types.Logger, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		awsCfg:     awsCfg,
		queueName:  queueName,
		fifo:       strings.HasSuffix(queueName, ".fifo"),
		opts:       options,
		extenderCh: make(chan *extendableMessage, 1000),
		logger:     logger.WithField("component", "sqs").WithField("queue_name", queueName),
	}
}

// Init validates the options, resolves the queue URL and starts the
// visibility extender, which runs until ctx is cancelled. It returns the
// receiver so it can be chained with [New]:
//
//	client, err := sqs.New(&awsCfg, "msam-alarm-events", logger).Init(ctx)
//
// Calling Init on an initialized Client is a no-op.
func (c *Client) Init(ctx context.Context) (*Client, error) {
	if c.initialized {
		return c, nil
	}

	if c.queueName == "" {
		return nil, errors.New("SQS queue name cannot be empty")
	}

	if err := c.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid SQS options: %w", err)
	}

	if c.opts.sqsClient != nil {
		c.client = c.opts.sqsClient
	} else {
		c.client = sqs.NewFromConfig(*c.awsCfg, func(o *sqs.Options) {
			o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, c.opts.apiMaxRetryBackoffDelay)
			o.Retryer = retry.AddWithMaxAttempts(o.Retryer, c.opts.apiMaxRetryAttempts)
		})
	}

	resp, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(c.queueName)})
	if err != nil {
		return nil, fmt.Errorf("failed to get SQS queue URL for %s: %w", c.queueName, err)
	}

	c.queueURL = aws.ToString(resp.QueueUrl)
	c.extender = newMessageExtender(c.opts, c.logger)

	go c.extender.run(ctx, c.extenderCh)

	c.initialized = true

	return c, nil
}

// Name returns the queue name passed to [New].
func (c *Client) Name() string {
	return c.queueName
}

// IsFIFO reports whether the queue is a FIFO queue.
func (c *Client) IsFIFO() bool {
	return c.fifo
}

// InFlight returns the number and total byte size of received messages that
// are neither acked nor nacked yet.
func (c *Client) InFlight() (count, bytes int64) {
	if c.extender == nil {
		return 0, 0
	}

	return c.extender.InFlight()
}

// Send publishes body to the queue. On a FIFO queue groupID and dedupID are
// required; on a standard queue they are ignored.
func (c *Client) Send(ctx context.Context, groupID, dedupID, body string) error {
	if !c.initialized {
		return errors.New("SQS client not initialized")
	}

	if body == "" {
		return errors.New("body cannot be empty")
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &c.queueURL,
		MessageBody: &body,
	}

	if c.fifo {
		if groupID == "" {
			return errors.New("groupID cannot be empty")
		}

		if dedupID == "" {
			return errors.New("dedupID cannot be empty")
		}

		input.MessageGroupId = &groupID
		input.MessageDeduplicationId = &dedupID
	}

	if _, err := c.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send SQS message to %s: %w", c.queueName, err)
	}

	return nil
}

// Receive reads the queue until ctx is cancelled and sends every message to
// sinkCh. It closes sinkCh before returning ctx.Err().
//
// Ack on a delivered item deletes the message. Nack stops extending it, so
// SQS redelivers it once the visibility timeout expires. Reading pauses while
// the in-flight limits set by [WithMaxOutstandingMessages] and
// [WithMaxOutstandingBytes] are reached. Receive errors are logged and retried
// after the backoff set by [WithReceiveErrorBackoff].
func (c *Client) Receive(ctx context.Context, sinkCh chan<- *types.QueueItem) error {
	defer close(sinkCh)

	if !c.initialized {
		return errors.New("SQS client not initialized")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.read(ctx, sinkCh)
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Errorf("Failed to read SQS queue: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.errorBackoff):
		}
	}
}

func (c *Client) read(ctx context.Context, sinkCh chan<- *types.QueueItem) error {
	for !c.extender.AllowMoreMessages() {
		c.logger.Debug("In-flight limit reached, waiting before the next read")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &c.queueURL,
		MaxNumberOfMessages:         c.opts.receiveMaxNumberOfMessages,
		VisibilityTimeout:           c.opts.visibilityTimeoutSeconds,
		WaitTimeSeconds:             c.opts.receiveWaitTimeSeconds,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameMessageGroupId},
	})
	if err != nil {
		return fmt.Errorf("failed to receive SQS messages: %w", err)
	}

	now := c.opts.clock()

	for _, m := range output.Messages {
		item, err := c.track(ctx, m, now)
		if err != nil {
			return err
		}

		if err := trySend(ctx, item, sinkCh); err != nil {
			return err
		}

		c.logger.WithField("message_id", item.MessageID).Debug("Alarm event received")
	}

	return nil
}

// track registers m with the extender and returns the item handed to the
// caller.
func (c *Client) track(ctx context.Context, m sqstypes.Message, now time.Time) (*types.QueueItem, error) {
	msgID := aws.ToString(m.MessageId)
	receiptHandle := aws.ToString(m.ReceiptHandle)
	body := aws.ToString(m.Body)
	groupID := m.Attributes[string(sqstypes.MessageSystemAttributeNameMessageGroupId)]

	msg := newExtendableMessage(msgID, groupID, c.opts.visibilityTimeout(), len(body), c.opts.clock)

	msg.bind(
		func() { c.deleteMessage(msgID, receiptHandle) }, //nolint:contextcheck // delete must outlive the receive context
		func(ctx context.Context) error { return c.changeMessageVisibility(ctx, msgID, receiptHandle) },
	)

	if err := trySend(ctx, msg, c.extenderCh); err != nil {
		return nil, err
	}

	return &types.QueueItem{
		MessageID:        msgID,
		GroupID:          groupID,
		ReceiveTimestamp: now,
		Body:             body,
		Ack:              msg.Ack,
		Nack:             msg.Nack,
	}, nil
}

// deleteMessage uses its own short timeout since acks often happen after the
// receive context is gone.
func (c *Client) deleteMessage(messageID, receiptHandle string) {
	logger := c.logger.WithField("message_id", messageID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: &receiptHandle,
	}); err != nil {
		logger.Errorf("Failed to delete SQS message: %v", err)
		return
	}

	logger.Debug("SQS message deleted")
}

func (c *Client) changeMessageVisibility(ctx context.Context, messageID, receiptHandle string) error {
	if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.queueURL,
		ReceiptHandle:     &receiptHandle,
		VisibilityTimeout: c.opts.visibilityTimeoutSeconds,
	}); err != nil {
		return fmt.Errorf("failed to extend visibility of SQS message %s: %w", messageID, err)
	}

	c.logger.WithField("message_id", messageID).Debug("SQS message visibility extended")

	return nil
}

func trySend[T any](ctx context.Context, msg T, sinkCh chan<- T) error {
	select {
	case sinkCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
