package discovery

import (
	"errors"
	"time"
)

// Outcomes reported to a [Recorder].
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Recorder receives cycle results, typically for metrics. Global jobs report
// an empty region.
type Recorder interface {
	CycleCompleted(job, region, outcome string, elapsed time.Duration)
	ResourcesMerged(job, region string, n int)

	// TaskCompleted reports the count returned by a successful global task.
	TaskCompleted(job string, n int)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(string, string, string, time.Duration) {}
func (nopRecorder) ResourcesMerged(string, string, int)                  {}
func (nopRecorder) TaskCompleted(string, int)                            {}

// Option is a functional option for configuring a [Scheduler].
type Option func(*Options)

// Options holds the resolved configuration for a [Scheduler].
type Options struct {
	clock             Clock
	recorder          Recorder
	regionConcurrency int
	cycleTimeout      time.Duration
	mergeBatchSize    int
}

func newOptions() *Options {
	return &Options{
		clock:          realClock{},
		recorder:       nopRecorder{},
		mergeBatchSize: 25,
	}
}

func (o *Options) validate() error {
	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.recorder == nil {
		return errors.New("recorder cannot be nil")
	}

	if o.regionConcurrency < 0 {
		return errors.New("region concurrency cannot be negative")
	}

	if o.cycleTimeout < 0 {
		return errors.New("cycle timeout cannot be negative")
	}

	if o.mergeBatchSize < 1 {
		return errors.New("merge batch size must be at least 1")
	}

	return nil
}

// WithClock sets the clock used for tickers and cycle timestamps.
func WithClock(clock Clock) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithRecorder sets the recorder that receives cycle results.
func WithRecorder(r Recorder) Option {
	return func(o *Options) {
		o.recorder = r
	}
}

// WithRegionConcurrency bounds how many regions of one job run at the same
// time. Zero, the default, runs every region in parallel.
func WithRegionConcurrency(n int) Option {
	return func(o *Options) {
		o.regionConcurrency = n
	}
}

// WithCycleTimeout bounds a single cycle. Zero, the default, uses the job
// interval.
func WithCycleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.cycleTimeout = d
	}
}

// WithMergeBatchSize sets how many resources are written per store call
// during merging. Default: 25.
func WithMergeBatchSize(n int) Option {
	return func(o *Options) {
		o.mergeBatchSize = n
	}
}
