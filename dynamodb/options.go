package dynamodb

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the configuration for a [Client]. Use [Option] functions
// (such as [WithCacheTimeToLive]) to customise the defaults.
type Options struct {
	cacheTimeToLive time.Duration
	dynamoDBAPI     API
	clock           func() time.Time
}

func newOptions() *Options {
	return &Options{
		cacheTimeToLive: 2 * time.Hour,
		clock:           time.Now,
	}
}

func (o *Options) validate() error {
	if o.cacheTimeToLive < time.Second {
		return errors.New("cache time to live must be at least one second")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	return nil
}

// WithCacheTimeToLive sets the TTL applied to every cached resource on write.
// The default is 2 hours. The duration must be at least one second, since
// timestamps are stored with second precision.
func WithCacheTimeToLive(d time.Duration) Option {
	return func(o *Options) {
		o.cacheTimeToLive = d
	}
}

// WithAPI sets a custom [API] implementation. This is useful when a custom
// DynamoDB configuration is required, or for injecting mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithClock sets a custom clock function used for timestamps and expiry
// checks. Defaults to [time.Now]. This is useful for controlling time in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}
