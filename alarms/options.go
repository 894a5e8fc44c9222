package alarms

import (
	"errors"
	"time"
)

// Outcomes reported to a [Recorder].
const (
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	EventPropagated = "propagated"
	EventDropped    = "dropped"
	EventRetried    = "retried"
)

// Recorder receives propagation outcomes, typically for metrics.
type Recorder interface {
	PropagationWrite(outcome string)
	EventHandled(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) PropagationWrite(string) {}
func (nopRecorder) EventHandled(string)     {}

// Option is a functional option for configuring a [Propagator].
type Option func(*Options)

// Options holds the resolved configuration for a [Propagator].
type Options struct {
	concurrency int
	clock       func() time.Time
	recorder    Recorder
}

func newOptions() *Options {
	return &Options{
		concurrency: 10,
		clock:       time.Now,
		recorder:    nopRecorder{},
	}
}

func (o *Options) validate() error {
	if o.concurrency < 1 || o.concurrency > 100 {
		return errors.New("propagation concurrency must be between 1 and 100")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.recorder == nil {
		return errors.New("recorder cannot be nil")
	}

	return nil
}

// WithConcurrency sets the maximum number of subscriber rows written in
// parallel for one alarm. Must be between 1 and 100. Default: 10.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.concurrency = n
	}
}

// WithClock sets the clock used for the lastUpdated timestamp. Default: time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithRecorder sets the recorder that receives write and event outcomes.
func WithRecorder(r Recorder) Option {
	return func(o *Options) {
		o.recorder = r
	}
}
