// Package inventory enumerates the cloud resources msam tracks and turns them
// into [types.CachedResource] entries for the discovery scheduler.
//
// Every enumerator implements discovery.Enumerator and is called once per
// region per cycle:
//
//	MediaLive      channels and inputs                 (medialive-channel, medialive-input)
//	ManagedNodes   SSM managed instances               (ssm-managed-instance)
//	TagEnricher    tags of already-cached resources    (merged into "Tags")
//	Connections    input to channel attachments        (medialive-input-medialive-channel)
//
// TagEnricher also implements discovery.Overlay, so its tags are applied to the
// cache entry as it stands when the scheduler writes them.
//
// Regions implements discovery.RegionSource from EC2 DescribeRegions.
//
// AWS failures are returned as [types.KindProviderUnavailable] errors so the
// scheduler can isolate the region.
package inventory
