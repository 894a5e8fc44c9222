package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/msam-go/msam/types"
)

// Names of the standard discovery jobs.
const (
	JobResources        = "resources"
	JobConnections      = "connections"
	JobTags             = "tags"
	JobManagedInstances = "managed-instances"
	JobSweep            = "sweep"
)

// Default cadences of the standard jobs.
const (
	DefaultResourcesInterval        = 5 * time.Minute
	DefaultConnectionsInterval      = 5 * time.Minute
	DefaultTagsInterval             = 5 * time.Minute
	DefaultManagedInstancesInterval = time.Minute
	DefaultSweepInterval            = time.Hour
)

// Enumerator lists the resources of one concern in one region. It reads every
// page the provider returns before returning.
type Enumerator interface {
	Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error)
}

// EnumeratorFunc adapts a function to [Enumerator].
type EnumeratorFunc func(ctx context.Context, region string) ([]*types.CachedResource, error)

func (f EnumeratorFunc) Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error) {
	return f(ctx, region)
}

// Enumerators combines several enumerators into one. Results are
// concatenated; the first failure fails the region.
func Enumerators(enumerators ...Enumerator) Enumerator {
	return EnumeratorFunc(func(ctx context.Context, region string) ([]*types.CachedResource, error) {
		var all []*types.CachedResource

		for _, e := range enumerators {
			resources, err := e.Enumerate(ctx, region)
			if err != nil {
				return nil, err
			}

			all = append(all, resources...)
		}

		return all, nil
	})
}

// Overlay is implemented by enumerators that return partial resources derived
// from cached entries. While the key lock is held, each partial resource is
// combined with the entry currently cached under its ARN, so a sighting
// written by another job in the meantime is not lost. Partial resources whose
// entry is no longer cached are dropped.
type Overlay interface {
	Overlay(current, partial *types.CachedResource) (*types.CachedResource, error)
}

// RegionSource supplies the regions a regional job runs in.
type RegionSource interface {
	Regions(ctx context.Context) ([]string, error)
}

// StaticRegions is a fixed region list.
type StaticRegions []string

func (r StaticRegions) Regions(context.Context) ([]string, error) {
	return slices.Clone(r), nil
}

// Job is one periodic concern. A regional job sets Enumerator and runs one
// enumerate-and-merge cycle per region; a global job sets Task and runs it
// once per tick.
type Job struct {
	Name       string
	Interval   time.Duration
	Enumerator Enumerator
	Task       func(ctx context.Context) (int, error)
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("job name cannot be empty")
	}

	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}

	if (j.Enumerator == nil) == (j.Task == nil) {
		return fmt.Errorf("job %s: exactly one of enumerator and task must be set", j.Name)
	}

	return nil
}

// SweepJob returns the job that physically removes expired cache entries.
func SweepJob(store types.ResourceStore, interval time.Duration) Job {
	return Job{
		Name:     JobSweep,
		Interval: interval,
		Task:     store.SweepExpired,
	}
}

// Phase is the per-region state of a regional job.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEnumerating
	PhaseMerging
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEnumerating:
		return "enumerating"
	case PhaseMerging:
		return "merging"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}
