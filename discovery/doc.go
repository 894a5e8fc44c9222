// Package discovery drives periodic, per-region enumeration of cloud
// resources into the discovery cache.
//
// A [Scheduler] owns a set of [Job] values, each with its own interval:
//
//	s, err := discovery.New(store, regions, logger)
//	err = s.Register(
//	    discovery.Job{Name: discovery.JobResources, Interval: 5 * time.Minute, Enumerator: medialive},
//	    discovery.SweepJob(store, time.Hour),
//	)
//	go s.Start(ctx)
//
// Regional jobs fan out one goroutine per region. Within a region the cycle
// enumerates every page from the provider, then merges the results into the
// store, which stamps each entry with a fresh expiry. Regions fail
// independently and are retried on the next tick only.
package discovery
