package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msam-go/msam/types"
	"golang.org/x/sync/errgroup"
)

// ErrJobRunning is returned by [Scheduler.RunOnce] when the previous cycle of
// the same job has not finished.
var ErrJobRunning = errors.New("job is already running")

// Scheduler runs discovery jobs on fixed intervals and merges what they find
// into the resource store.
//
// Every region of a regional job runs in its own goroutine and moves through
// Idle, Enumerating and Merging. A failure in one region is logged and ends
// that region's cycle only; the next tick is the retry. A job never overlaps
// with itself: a tick that fires while the previous cycle is still running is
// skipped.
type Scheduler struct {
	store   types.ResourceStore
	regions RegionSource
	logger  types.Logger
	opts    *Options
	locks   keyLocks

	jobs    map[string]*jobState
	order   []string
	started atomic.Bool

	phaseMu sync.Mutex
	phases  map[phaseKey]Phase
}

type jobState struct {
	job     Job
	running atomic.Bool
}

type phaseKey struct {
	job    string
	region string
}

// CycleReport describes one run of a job.
type CycleReport struct {
	Job       string
	StartedAt time.Time
	Elapsed   time.Duration

	// Regions holds the per-region results of a regional job.
	Regions map[string]*RegionReport

	// Removed is the count returned by a global task.
	Removed int

	// Err is set when the whole cycle failed: the task failed, or the region
	// list could not be read.
	Err error
}

// RegionReport is the result of one region's cycle.
type RegionReport struct {
	Region string
	Seen   []string
	Err    error
}

// Failed returns the regions whose cycle failed, sorted.
func (r *CycleReport) Failed() []string {
	failed := []string{}

	for region, rr := range r.Regions {
		if rr.Err != nil {
			failed = append(failed, region)
		}
	}

	slices.Sort(failed)

	return failed
}

// Seen returns every resource key merged during the cycle, sorted.
func (r *CycleReport) Seen() []string {
	seen := []string{}

	for _, rr := range r.Regions {
		seen = append(seen, rr.Seen...)
	}

	slices.Sort(seen)

	return slices.Compact(seen)
}

// New creates a Scheduler that writes to store and runs regional jobs in the
// regions supplied by regions.
func New(store types.ResourceStore, regions RegionSource, logger types.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("resource store cannot be nil")
	}

	if regions == nil {
		return nil, errors.New("region source cannot be nil")
	}

	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler options: %w", err)
	}

	return &Scheduler{
		store:   store,
		regions: regions,
		logger:  logger.WithField("component", "discovery"),
		opts:    options,
		jobs:    map[string]*jobState{},
		phases:  map[phaseKey]Phase{},
	}, nil
}

// Register adds jobs. It must be called before [Scheduler.Start].
func (s *Scheduler) Register(jobs ...Job) error {
	if s.started.Load() {
		return errors.New("cannot register jobs after the scheduler has started")
	}

	for _, job := range jobs {
		if err := job.validate(); err != nil {
			return err
		}

		if _, ok := s.jobs[job.Name]; ok {
			return fmt.Errorf("job %s is already registered", job.Name)
		}

		s.jobs[job.Name] = &jobState{job: job}
		s.order = append(s.order, job.Name)
	}

	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	return slices.Clone(s.order)
}

// Phase returns the current phase of job in region.
func (s *Scheduler) Phase(job, region string) Phase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()

	return s.phases[phaseKey{job, region}]
}

func (s *Scheduler) setPhase(job, region string, p Phase) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()

	if p == PhaseIdle {
		delete(s.phases, phaseKey{job, region})
		return
	}

	s.phases[phaseKey{job, region}] = p
}

// Start runs every registered job once immediately and then on its interval,
// until ctx is cancelled. It waits for running cycles before returning
// ctx.Err().
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	if len(s.jobs) == 0 {
		return errors.New("no jobs registered")
	}

	var wg sync.WaitGroup

	for _, name := range s.order {
		js := s.jobs[name]

		wg.Go(func() { s.loop(ctx, js, &wg) })
	}

	s.logger.WithField("jobs", s.order).Info("Discovery scheduler started")

	<-ctx.Done()
	wg.Wait()

	s.logger.Info("Discovery scheduler stopped")

	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, js *jobState, wg *sync.WaitGroup) {
	ticker := s.opts.clock.Ticker(js.job.Interval)
	defer ticker.Stop()

	trigger := func() {
		wg.Go(func() {
			if _, err := s.RunOnce(ctx, js.job.Name); errors.Is(err, ErrJobRunning) {
				s.logger.WithField("job", js.job.Name).Warn("Previous cycle still running, skipping tick")
				s.opts.recorder.CycleCompleted(js.job.Name, "", OutcomeSkipped, 0)
			}
		})
	}

	trigger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			trigger()
		}
	}
}

// RunOnce runs one cycle of the named job and waits for it. It returns
// [ErrJobRunning] if the job is already running. Regional failures are
// reported in the returned report, not as an error.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*CycleReport, error) {
	js, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", name)
	}

	if !js.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer js.running.Store(false)

	timeout := s.opts.cycleTimeout
	if timeout == 0 {
		timeout = js.job.Interval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := &CycleReport{
		Job:       name,
		StartedAt: s.opts.clock.Now(),
		Regions:   map[string]*RegionReport{},
	}

	logger := s.logger.WithField("job", name)

	if js.job.Task != nil {
		s.runTask(ctx, js.job, report)
	} else {
		s.runRegions(ctx, js.job, report)
	}

	report.Elapsed = s.opts.clock.Now().Sub(report.StartedAt)

	logger.
		WithField("elapsed", report.Elapsed).
		WithField("seen", len(report.Seen())).
		WithField("failed_regions", report.Failed()).
		Debug("Discovery cycle completed")

	return report, nil
}

func (s *Scheduler) runTask(ctx context.Context, job Job, report *CycleReport) {
	n, err := job.Task(ctx)

	report.Removed = n
	report.Err = err

	outcome := OutcomeSuccess

	if err != nil {
		outcome = OutcomeFailed
		s.logger.WithField("job", job.Name).Errorf("Discovery task failed: %v", err)
	} else {
		s.logger.WithField("job", job.Name).WithField("count", n).Info("Discovery task completed")
		s.opts.recorder.TaskCompleted(job.Name, n)
	}

	s.opts.recorder.CycleCompleted(job.Name, "", outcome, s.opts.clock.Now().Sub(report.StartedAt))
}

func (s *Scheduler) runRegions(ctx context.Context, job Job, report *CycleReport) {
	regions, err := s.regions.Regions(ctx)
	if err != nil {
		report.Err = types.ProviderUnavailable("Regions", err)
		s.logger.WithField("job", job.Name).Errorf("Failed to list regions, abandoning cycle: %v", err)
		s.opts.recorder.CycleCompleted(job.Name, "", OutcomeFailed, 0)

		return
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	if s.opts.regionConcurrency > 0 {
		g.SetLimit(s.opts.regionConcurrency)
	}

	for _, region := range regions {
		g.Go(func() error {
			rr := s.runRegion(ctx, job, region)

			mu.Lock()
			report.Regions[region] = rr
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()
}

// runRegion enumerates and merges one region. Failures are recorded in the
// returned report.
func (s *Scheduler) runRegion(ctx context.Context, job Job, region string) *RegionReport {
	logger := s.logger.WithField("job", job.Name).WithField("region", region)
	started := s.opts.clock.Now()
	rr := &RegionReport{Region: region, Seen: []string{}}

	defer s.setPhase(job.Name, region, PhaseIdle)

	s.setPhase(job.Name, region, PhaseEnumerating)

	resources, err := job.Enumerator.Enumerate(ctx, region)
	if err != nil {
		if types.KindOf(err) == "" {
			err = types.ProviderUnavailable("Enumerate", err)
		}

		rr.Err = err
		logger.Warnf("Enumeration failed, retrying on the next tick: %v", err)
		s.opts.recorder.CycleCompleted(job.Name, region, OutcomeFailed, s.opts.clock.Now().Sub(started))

		return rr
	}

	s.setPhase(job.Name, region, PhaseMerging)

	rr.Seen, rr.Err = s.merge(ctx, logger, job, region, resources)

	s.opts.recorder.ResourcesMerged(job.Name, region, len(rr.Seen))

	outcome := OutcomeSuccess
	if rr.Err != nil {
		outcome = OutcomeFailed
	}

	s.opts.recorder.CycleCompleted(job.Name, region, outcome, s.opts.clock.Now().Sub(started))

	logger.WithField("merged", len(rr.Seen)).Debug("Region cycle completed")

	return rr
}

// merge writes resources in batches, holding the key locks of each batch for
// the duration of the write. A failed batch does not stop the others. It
// returns the sorted keys that were written and the first error.
func (s *Scheduler) merge(ctx context.Context, logger types.Logger, job Job, region string, resources []*types.CachedResource) ([]string, error) {
	valid := make([]*types.CachedResource, 0, len(resources))

	for _, r := range resources {
		if r == nil {
			continue
		}

		if r.Region == "" {
			r.Region = region
		}

		if err := r.Validate(); err != nil {
			logger.WithField("arn", r.ARN).Warnf("Skipping invalid resource: %v", err)
			continue
		}

		valid = append(valid, r)
	}

	overlay, _ := job.Enumerator.(Overlay)

	var (
		seen     []string
		firstErr error
	)

	for batch := range slices.Chunk(valid, s.opts.mergeBatchSize) {
		written, err := s.write(ctx, overlay, batch)
		if err != nil {
			logger.Errorf("Failed to merge %d resources: %v", len(batch), err)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		seen = append(seen, written...)
	}

	slices.Sort(seen)

	return slices.Compact(seen), firstErr
}

// write stores one batch under its key locks. With an overlay, the cached
// entries are read and combined inside the same critical section.
func (s *Scheduler) write(ctx context.Context, overlay Overlay, batch []*types.CachedResource) ([]string, error) {
	keys := make([]string, len(batch))
	for i, r := range batch {
		keys[i] = r.ARN
	}

	unlock := s.locks.lock(keys)
	defer unlock()

	if overlay != nil {
		merged, err := s.applyOverlay(ctx, overlay, batch)
		if err != nil {
			return nil, err
		}

		batch = merged
	}

	if len(batch) == 0 {
		return nil, nil
	}

	if err := s.store.Put(ctx, batch...); err != nil {
		return nil, err
	}

	written := make([]string, len(batch))
	for i, r := range batch {
		written[i] = r.ARN
	}

	return written, nil
}

func (s *Scheduler) applyOverlay(ctx context.Context, overlay Overlay, partial []*types.CachedResource) ([]*types.CachedResource, error) {
	merged := make([]*types.CachedResource, 0, len(partial))

	for _, p := range partial {
		current, err := s.store.Get(ctx, p.ARN)
		if types.IsNotFound(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read cached %s: %w", p.ARN, err)
		}

		r, err := overlay.Overlay(current, p)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", p.ARN, err)
		}

		merged = append(merged, r)
	}

	return merged, nil
}
