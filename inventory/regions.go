package inventory

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/msam-go/msam/types"
)

// EC2API is the subset of the EC2 client used by [Regions].
type EC2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

var _ EC2API = (*ec2.Client)(nil)

// Regions lists the regions enabled for the account. A non-empty override
// list is returned as is, without calling EC2.
type Regions struct {
	client   EC2API
	override []string
}

// NewRegions creates a region source that queries EC2 in the region of
// awsCfg.
func NewRegions(awsCfg *aws.Config, override []string) *Regions {
	return NewRegionsWithClient(ec2.NewFromConfig(*awsCfg), override)
}

// NewRegionsWithClient creates a region source on client.
func NewRegionsWithClient(client EC2API, override []string) *Regions {
	return &Regions{client: client, override: slices.Clone(override)}
}

// Regions returns the region names, sorted.
func (r *Regions) Regions(ctx context.Context) ([]string, error) {
	if len(r.override) > 0 {
		regions := slices.Clone(r.override)
		slices.Sort(regions)

		return slices.Compact(regions), nil
	}

	out, err := r.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, types.ProviderUnavailable("DescribeRegions", fmt.Errorf("failed to describe regions: %w", err))
	}

	regions := make([]string, 0, len(out.Regions))

	for _, region := range out.Regions {
		if name := aws.ToString(region.RegionName); name != "" {
			regions = append(regions, name)
		}
	}

	slices.Sort(regions)

	return regions, nil
}
