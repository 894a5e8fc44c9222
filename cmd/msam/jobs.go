package main

import (
	"github.com/msam-go/msam/config"
	"github.com/msam-go/msam/discovery"
	"github.com/msam-go/msam/inventory"
	"github.com/msam-go/msam/types"
)

// enumerators are the regional sources of the standard discovery jobs.
type enumerators struct {
	resources        discovery.Enumerator
	connections      discovery.Enumerator
	tags             discovery.Enumerator
	managedInstances discovery.Enumerator
}

func (a *app) enumerators() enumerators {
	return enumerators{
		resources:        inventory.NewMediaLive(&a.awsCfg),
		connections:      inventory.NewConnections(a.store),
		tags:             inventory.NewTagEnricher(&a.awsCfg, a.store, taggedServices...),
		managedInstances: inventory.NewManagedNodes(&a.awsCfg, a.cfg.Discovery.AccountID),
	}
}

// taggedServices are the cached services whose tags are refreshed.
var taggedServices = []string{
	inventory.ServiceMediaLiveChannel,
	inventory.ServiceMediaLiveInput,
	inventory.ServiceManagedInstance,
}

func discoveryJobs(cfg config.DiscoveryConfig, store types.ResourceStore, e enumerators) []discovery.Job {
	return []discovery.Job{
		{Name: discovery.JobResources, Interval: cfg.ResourcesInterval, Enumerator: e.resources},
		{Name: discovery.JobConnections, Interval: cfg.ConnectionsInterval, Enumerator: e.connections},
		{Name: discovery.JobTags, Interval: cfg.TagsInterval, Enumerator: e.tags},
		{Name: discovery.JobManagedInstances, Interval: cfg.ManagedInstancesInterval, Enumerator: e.managedInstances},
		discovery.SweepJob(store, cfg.SweepInterval),
	}
}

func (a *app) newScheduler(recorder discovery.Recorder) (*discovery.Scheduler, error) {
	scheduler, err := discovery.New(a.store, a.regions, a.logger,
		discovery.WithRecorder(recorder),
		discovery.WithRegionConcurrency(a.cfg.Discovery.RegionConcurrency),
	)
	if err != nil {
		return nil, err
	}

	if err := scheduler.Register(discoveryJobs(a.cfg.Discovery, a.store, a.enumerators())...); err != nil {
		return nil, err
	}

	return scheduler, nil
}
