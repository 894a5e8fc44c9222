package sqs

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the resolved configuration for a [Client]. Defaults are set by
// [New]; use the With* functions to override them.
type Options struct {
	visibilityTimeoutSeconds   int32
	receiveMaxNumberOfMessages int32
	receiveWaitTimeSeconds     int32
	apiMaxRetryAttempts        int
	apiMaxRetryBackoffDelay    time.Duration
	maxMessageExtension        time.Duration
	maxOutstandingMessages     int
	maxOutstandingBytes        int
	errorBackoff               time.Duration
	clock                      func() time.Time
	sqsClient                  sqsClient
}

func newOptions() *Options {
	return &Options{
		visibilityTimeoutSeconds:   30,
		receiveMaxNumberOfMessages: 10,
		receiveWaitTimeSeconds:     20,
		apiMaxRetryAttempts:        5,
		apiMaxRetryBackoffDelay:    10 * time.Second,
		maxMessageExtension:        10 * time.Minute,
		maxOutstandingMessages:     100,
		maxOutstandingBytes:        1e6,
		errorBackoff:               5 * time.Second,
		clock:                      time.Now,
	}
}

func (o *Options) visibilityTimeout() time.Duration {
	return time.Duration(o.visibilityTimeoutSeconds) * time.Second
}

func (o *Options) validate() error {
	if o.visibilityTimeoutSeconds < 10 || o.visibilityTimeoutSeconds > 3600 {
		return errors.New("SQS message visibility timeout must be between 10 seconds and 1 hour")
	}

	if o.receiveMaxNumberOfMessages < 1 || o.receiveMaxNumberOfMessages > 10 {
		return errors.New("max number of messages per SQS receive must be between 1 and 10")
	}

	if o.receiveWaitTimeSeconds < 0 || o.receiveWaitTimeSeconds > 20 {
		return errors.New("SQS receive wait time must be between 0 and 20 seconds")
	}

	if o.apiMaxRetryAttempts < 0 || o.apiMaxRetryAttempts > 10 {
		return errors.New("max SQS API retry attempts must be between 0 and 10")
	}

	if o.apiMaxRetryBackoffDelay < time.Second || o.apiMaxRetryBackoffDelay > 30*time.Second {
		return errors.New("max SQS API retry backoff delay must be between 1 and 30 seconds")
	}

	if o.maxMessageExtension < time.Minute || o.maxMessageExtension > time.Hour {
		return errors.New("max message extension must be between 1 minute and 1 hour")
	}

	if o.maxOutstandingMessages < 1 {
		return errors.New("max outstanding messages must be greater than or equal to 1")
	}

	if o.maxOutstandingBytes < 1e4 {
		return errors.New("max outstanding bytes must be greater than or equal to 10 KB")
	}

	if o.errorBackoff <= 0 {
		return errors.New("receive error backoff must be positive")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	return nil
}

// WithSqsVisibilityTimeout sets the visibility timeout applied to each
// received alarm event. Must be between 10 and 3600 seconds. Default: 30.
func WithSqsVisibilityTimeout(seconds int32) Option {
	return func(o *Options) {
		o.visibilityTimeoutSeconds = seconds
	}
}

// WithSqsReceiveMaxNumberOfMessages sets the batch size of a single
// ReceiveMessage call. Must be between 1 and 10. Default: 10.
func WithSqsReceiveMaxNumberOfMessages(n int32) Option {
	return func(o *Options) {
		o.receiveMaxNumberOfMessages = n
	}
}

// WithSqsReceiveWaitTimeSeconds sets the long-poll wait of each
// ReceiveMessage call. Must be between 0 and 20 seconds. Default: 20.
func WithSqsReceiveWaitTimeSeconds(seconds int32) Option {
	return func(o *Options) {
		o.receiveWaitTimeSeconds = seconds
	}
}

// WithSqsAPIMaxRetryAttempts sets the SDK retry limit for SQS API calls.
// Must be between 0 and 10. Default: 5.
func WithSqsAPIMaxRetryAttempts(n int) Option {
	return func(o *Options) {
		o.apiMaxRetryAttempts = n
	}
}

// WithSqsAPIMaxRetryBackoffDelay caps the SDK backoff between retries.
// Must be between 1 and 30 seconds. Default: 10 seconds.
func WithSqsAPIMaxRetryBackoffDelay(d time.Duration) Option {
	return func(o *Options) {
		o.apiMaxRetryBackoffDelay = d
	}
}

// WithMaxMessageExtension sets how long a message may stay in flight before
// the extender gives up on it. Must be between 1 minute and 1 hour.
// Default: 10 minutes.
func WithMaxMessageExtension(d time.Duration) Option {
	return func(o *Options) {
		o.maxMessageExtension = d
	}
}

// WithMaxOutstandingMessages sets the in-flight message count at which
// [Client.Receive] pauses reading. Must be at least 1. Default: 100.
func WithMaxOutstandingMessages(n int) Option {
	return func(o *Options) {
		o.maxOutstandingMessages = n
	}
}

// WithMaxOutstandingBytes sets the in-flight byte total at which
// [Client.Receive] pauses reading. Must be at least 10 KB. Default: 1 MB.
func WithMaxOutstandingBytes(n int) Option {
	return func(o *Options) {
		o.maxOutstandingBytes = n
	}
}

// WithReceiveErrorBackoff sets the pause after a failed ReceiveMessage call.
// Default: 5 seconds.
func WithReceiveErrorBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.errorBackoff = d
	}
}

// WithClock overrides the time source used for receive timestamps and
// extension bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithSQSClient replaces the AWS SQS client. Intended for tests.
func WithSQSClient(client sqsClient) Option {
	return func(o *Options) {
		o.sqsClient = client
	}
}
