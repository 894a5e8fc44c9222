// Package cloudwatch reads alarm state from Amazon CloudWatch. It is the
// source of truth for the state written by the alarm propagator.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/msam-go/msam/internal/awserr"
	"github.com/msam-go/msam/internal/regional"
	"github.com/msam-go/msam/types"
)

// API is the subset of the CloudWatch client used by the provider.
type API interface {
	DescribeAlarms(ctx context.Context, params *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
}

var _ API = (*cloudwatch.Client)(nil)

var allAlarmTypes = []cwtypes.AlarmType{cwtypes.AlarmTypeMetricAlarm, cwtypes.AlarmTypeCompositeAlarm}

// Provider implements [types.StateProvider] on top of one CloudWatch client
// per region.
type Provider struct {
	clients *regional.Clients[API]
}

var _ types.StateProvider = (*Provider)(nil)

// New creates a Provider that builds regional clients from awsCfg.
func New(awsCfg *aws.Config) *Provider {
	return NewWithFactory(func(region string) API {
		return cloudwatch.NewFromConfig(*awsCfg, func(o *cloudwatch.Options) {
			o.Region = region
		})
	})
}

// NewWithFactory creates a Provider that obtains regional clients from
// factory.
func NewWithFactory(factory func(region string) API) *Provider {
	return &Provider{clients: regional.New(factory)}
}

// AlarmState returns the current state of the named metric or composite
// alarm. An unknown alarm yields a [types.KindNotFound] error; any AWS failure
// yields [types.KindProviderUnavailable].
func (p *Provider) AlarmState(ctx context.Context, region, alarmName string) (*types.AlarmStatus, error) {
	if region == "" || alarmName == "" {
		return nil, errors.New("region and alarm name are required")
	}

	out, err := p.clients.Get(region).DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{alarmName},
		AlarmTypes: allAlarmTypes,
	})
	if err != nil {
		return nil, awserr.Classify("AlarmState", fmt.Errorf("failed to describe alarm %s in %s: %w", alarmName, region, err))
	}

	if len(out.MetricAlarms) > 0 {
		return metricAlarmStatus(region, out.MetricAlarms[0]), nil
	}

	if len(out.CompositeAlarms) > 0 {
		return compositeAlarmStatus(region, out.CompositeAlarms[0]), nil
	}

	return nil, types.NotFound("AlarmState", "alarm %s not found in %s", alarmName, region)
}

// ListAlarms returns every metric and composite alarm in region, sorted by
// name. All result pages are read.
func (p *Provider) ListAlarms(ctx context.Context, region string) ([]*types.AlarmStatus, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	paginator := cloudwatch.NewDescribeAlarmsPaginator(p.clients.Get(region), &cloudwatch.DescribeAlarmsInput{
		AlarmTypes: allAlarmTypes,
	})

	alarms := []*types.AlarmStatus{}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awserr.Classify("ListAlarms", fmt.Errorf("failed to list alarms in %s: %w", region, err))
		}

		for _, a := range page.MetricAlarms {
			alarms = append(alarms, metricAlarmStatus(region, a))
		}

		for _, a := range page.CompositeAlarms {
			alarms = append(alarms, compositeAlarmStatus(region, a))
		}
	}

	slices.SortFunc(alarms, func(a, b *types.AlarmStatus) int { return strings.Compare(a.AlarmName, b.AlarmName) })

	return alarms, nil
}

func metricAlarmStatus(region string, a cwtypes.MetricAlarm) *types.AlarmStatus {
	return &types.AlarmStatus{
		Region:         region,
		AlarmName:      aws.ToString(a.AlarmName),
		Namespace:      aws.ToString(a.Namespace),
		State:          types.AlarmState(a.StateValue),
		StateUpdatedAt: aws.ToTime(a.StateUpdatedTimestamp),
	}
}

func compositeAlarmStatus(region string, a cwtypes.CompositeAlarm) *types.AlarmStatus {
	return &types.AlarmStatus{
		Region:         region,
		AlarmName:      aws.ToString(a.AlarmName),
		State:          types.AlarmState(a.StateValue),
		StateUpdatedAt: aws.ToTime(a.StateUpdatedTimestamp),
	}
}
