package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/msam-go/msam/internal/awserr"
	"github.com/msam-go/msam/internal/regional"
	"github.com/msam-go/msam/types"
)

// SSMAPI is the subset of the SSM client used by [ManagedNodes].
type SSMAPI interface {
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
}

var _ SSMAPI = (*ssm.Client)(nil)

// ManagedInstanceAttributes is the cached shape of an SSM managed instance.
type ManagedInstanceAttributes struct {
	InstanceID       string     `json:"InstanceId"`
	PingStatus       string     `json:"PingStatus"`
	ComputerName     string     `json:"ComputerName,omitempty"`
	IPAddress        string     `json:"IPAddress,omitempty"`
	PlatformName     string     `json:"PlatformName,omitempty"`
	PlatformType     string     `json:"PlatformType,omitempty"`
	AgentVersion     string     `json:"AgentVersion,omitempty"`
	LastPingDateTime *time.Time `json:"LastPingDateTime,omitempty"`
}

// ManagedNodes enumerates SSM managed instances, both hybrid (mi-) and EC2
// (i-) nodes. It feeds the fast managed-instance status job.
type ManagedNodes struct {
	clients   *regional.Clients[SSMAPI]
	accountID string
}

// NewManagedNodes creates an enumerator that builds regional clients from
// awsCfg. accountID is used to build instance ARNs and may be empty.
func NewManagedNodes(awsCfg *aws.Config, accountID string) *ManagedNodes {
	return NewManagedNodesWithFactory(func(region string) SSMAPI {
		return ssm.NewFromConfig(*awsCfg, func(o *ssm.Options) {
			o.Region = region
		})
	}, accountID)
}

// NewManagedNodesWithFactory creates an enumerator that obtains regional
// clients from factory.
func NewManagedNodesWithFactory(factory func(region string) SSMAPI, accountID string) *ManagedNodes {
	return &ManagedNodes{clients: regional.New(factory), accountID: accountID}
}

// Enumerate returns every managed instance registered in region.
func (m *ManagedNodes) Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	paginator := ssm.NewDescribeInstanceInformationPaginator(m.clients.Get(region), &ssm.DescribeInstanceInformationInput{})

	resources := []*types.CachedResource{}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awserr.Classify("DescribeInstanceInformation", fmt.Errorf("failed to describe managed instances in %s: %w", region, err))
		}

		for _, info := range page.InstanceInformationList {
			id := aws.ToString(info.InstanceId)
			if id == "" {
				continue
			}

			r, err := newResource(ManagedInstanceARN(region, m.accountID, id), ServiceManagedInstance, region, managedInstanceAttributes(info))
			if err != nil {
				return nil, err
			}

			resources = append(resources, r)
		}
	}

	return resources, nil
}

// ManagedInstanceARN builds the ARN of a managed instance. Hybrid nodes
// (mi-) are SSM resources; everything else is an EC2 instance.
func ManagedInstanceARN(region, accountID, instanceID string) string {
	if strings.HasPrefix(instanceID, "mi-") {
		return fmt.Sprintf("arn:aws:ssm:%s:%s:managed-instance/%s", region, accountID, instanceID)
	}

	return fmt.Sprintf("arn:aws:ec2:%s:%s:instance/%s", region, accountID, instanceID)
}

func managedInstanceAttributes(info ssmtypes.InstanceInformation) ManagedInstanceAttributes {
	return ManagedInstanceAttributes{
		InstanceID:       aws.ToString(info.InstanceId),
		PingStatus:       string(info.PingStatus),
		ComputerName:     aws.ToString(info.ComputerName),
		IPAddress:        aws.ToString(info.IPAddress),
		PlatformName:     aws.ToString(info.PlatformName),
		PlatformType:     string(info.PlatformType),
		AgentVersion:     aws.ToString(info.AgentVersion),
		LastPingDateTime: info.LastPingDateTime,
	}
}
