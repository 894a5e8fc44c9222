package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/msam-go/msam/internal/awserr"
	"github.com/msam-go/msam/internal/regional"
	"github.com/msam-go/msam/types"
)

// GetResources accepts at most 100 ARNs per call.
const tagLookupBatchSize = 100

// TaggingAPI is the subset of the Resource Groups Tagging client used by
// [TagEnricher].
type TaggingAPI interface {
	GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

var _ TaggingAPI = (*resourcegroupstaggingapi.Client)(nil)

// TagEnricher reads the cached resources of the configured services, fetches
// their tags and returns partial resources carrying only a "Tags" attribute.
// The scheduler folds them into the current cache entries through
// [TagEnricher.Overlay]. Resources the tagging API no longer knows are not
// returned, so enrichment never keeps a deleted resource alive.
type TagEnricher struct {
	store    types.ResourceStore
	clients  *regional.Clients[TaggingAPI]
	services []string
}

// NewTagEnricher creates an enricher that builds regional clients from awsCfg.
func NewTagEnricher(awsCfg *aws.Config, store types.ResourceStore, services ...string) *TagEnricher {
	return NewTagEnricherWithFactory(func(region string) TaggingAPI {
		return resourcegroupstaggingapi.NewFromConfig(*awsCfg, func(o *resourcegroupstaggingapi.Options) {
			o.Region = region
		})
	}, store, services...)
}

// NewTagEnricherWithFactory creates an enricher that obtains regional clients
// from factory.
func NewTagEnricherWithFactory(factory func(region string) TaggingAPI, store types.ResourceStore, services ...string) *TagEnricher {
	return &TagEnricher{
		store:    store,
		clients:  regional.New(factory),
		services: slices.Clone(services),
	}
}

// Enumerate returns the tags of the cached resources in region as partial
// resources.
func (t *TagEnricher) Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	cached := map[string]*types.CachedResource{}

	for _, service := range t.services {
		resources, err := t.store.ListByServiceRegion(ctx, service, region)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached %s resources in %s: %w", service, region, err)
		}

		for _, r := range resources {
			cached[r.ARN] = r
		}
	}

	arns := slices.Sorted(maps.Keys(cached))
	enriched := []*types.CachedResource{}

	for batch := range slices.Chunk(arns, tagLookupBatchSize) {
		tags, err := t.lookup(ctx, region, batch)
		if err != nil {
			return nil, err
		}

		for _, arn := range batch {
			resourceTags, ok := tags[arn]
			if !ok {
				continue
			}

			r, err := tagsOnly(cached[arn], resourceTags)
			if err != nil {
				return nil, err
			}

			enriched = append(enriched, r)
		}
	}

	return enriched, nil
}

func (t *TagEnricher) lookup(ctx context.Context, region string, arns []string) (map[string]map[string]string, error) {
	paginator := resourcegroupstaggingapi.NewGetResourcesPaginator(t.clients.Get(region), &resourcegroupstaggingapi.GetResourcesInput{
		ResourceARNList: arns,
	})

	tags := map[string]map[string]string{}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awserr.Classify("GetResources", fmt.Errorf("failed to get tags in %s: %w", region, err))
		}

		for _, mapping := range page.ResourceTagMappingList {
			resourceTags := map[string]string{}

			for _, tag := range mapping.Tags {
				resourceTags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}

			tags[aws.ToString(mapping.ResourceARN)] = resourceTags
		}
	}

	return tags, nil
}

// Overlay copies the attributes of partial over the attributes of current,
// leaving every other attribute as currently cached.
func (t *TagEnricher) Overlay(current, partial *types.CachedResource) (*types.CachedResource, error) {
	attrs, err := current.AttributeMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode attributes of %s: %w", current.ARN, err)
	}

	overlay, err := partial.AttributeMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode tags of %s: %w", partial.ARN, err)
	}

	maps.Copy(attrs, overlay)

	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes of %s: %w", current.ARN, err)
	}

	merged := *current
	merged.Attributes = data

	return &merged, nil
}

func tagsOnly(r *types.CachedResource, tags map[string]string) (*types.CachedResource, error) {
	data, err := json.Marshal(map[string]any{"Tags": tags})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags of %s: %w", r.ARN, err)
	}

	return &types.CachedResource{
		ARN:        r.ARN,
		Service:    r.Service,
		Region:     r.Region,
		Attributes: data,
	}, nil
}
