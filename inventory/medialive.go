package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive"
	mltypes "github.com/aws/aws-sdk-go-v2/service/medialive/types"
	"github.com/msam-go/msam/internal/awserr"
	"github.com/msam-go/msam/internal/regional"
	"github.com/msam-go/msam/types"
)

// MediaLiveAPI is the subset of the MediaLive client used by [MediaLive].
type MediaLiveAPI interface {
	ListChannels(ctx context.Context, params *medialive.ListChannelsInput, optFns ...func(*medialive.Options)) (*medialive.ListChannelsOutput, error)
	ListInputs(ctx context.Context, params *medialive.ListInputsInput, optFns ...func(*medialive.Options)) (*medialive.ListInputsOutput, error)
}

var _ MediaLiveAPI = (*medialive.Client)(nil)

// ChannelAttributes is the cached shape of a MediaLive channel.
type ChannelAttributes struct {
	ID               string            `json:"Id"`
	Name             string            `json:"Name"`
	State            string            `json:"State"`
	ChannelClass     string            `json:"ChannelClass,omitempty"`
	InputAttachments []InputAttachment `json:"InputAttachments"`
	Tags             map[string]string `json:"Tags,omitempty"`
}

// InputAttachment links a channel to one of its inputs.
type InputAttachment struct {
	InputID             string `json:"InputId"`
	InputAttachmentName string `json:"InputAttachmentName,omitempty"`
}

// InputAttributes is the cached shape of a MediaLive input.
type InputAttributes struct {
	ID               string            `json:"Id"`
	Name             string            `json:"Name"`
	State            string            `json:"State"`
	Type             string            `json:"Type"`
	AttachedChannels []string          `json:"AttachedChannels"`
	Tags             map[string]string `json:"Tags,omitempty"`
}

// MediaLive enumerates MediaLive channels and inputs.
type MediaLive struct {
	clients *regional.Clients[MediaLiveAPI]
}

// NewMediaLive creates an enumerator that builds regional clients from awsCfg.
func NewMediaLive(awsCfg *aws.Config) *MediaLive {
	return NewMediaLiveWithFactory(func(region string) MediaLiveAPI {
		return medialive.NewFromConfig(*awsCfg, func(o *medialive.Options) {
			o.Region = region
		})
	})
}

// NewMediaLiveWithFactory creates an enumerator that obtains regional clients
// from factory.
func NewMediaLiveWithFactory(factory func(region string) MediaLiveAPI) *MediaLive {
	return &MediaLive{clients: regional.New(factory)}
}

// Enumerate returns every channel and input in region.
func (m *MediaLive) Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	channels, err := m.channels(ctx, region)
	if err != nil {
		return nil, err
	}

	inputs, err := m.inputs(ctx, region)
	if err != nil {
		return nil, err
	}

	return append(channels, inputs...), nil
}

func (m *MediaLive) channels(ctx context.Context, region string) ([]*types.CachedResource, error) {
	paginator := medialive.NewListChannelsPaginator(m.clients.Get(region), &medialive.ListChannelsInput{})

	resources := []*types.CachedResource{}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awserr.Classify("ListChannels", fmt.Errorf("failed to list channels in %s: %w", region, err))
		}

		for _, ch := range page.Channels {
			r, err := newResource(aws.ToString(ch.Arn), ServiceMediaLiveChannel, region, channelAttributes(ch))
			if err != nil {
				return nil, err
			}

			resources = append(resources, r)
		}
	}

	return resources, nil
}

func (m *MediaLive) inputs(ctx context.Context, region string) ([]*types.CachedResource, error) {
	paginator := medialive.NewListInputsPaginator(m.clients.Get(region), &medialive.ListInputsInput{})

	resources := []*types.CachedResource{}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, awserr.Classify("ListInputs", fmt.Errorf("failed to list inputs in %s: %w", region, err))
		}

		for _, in := range page.Inputs {
			r, err := newResource(aws.ToString(in.Arn), ServiceMediaLiveInput, region, inputAttributes(in))
			if err != nil {
				return nil, err
			}

			resources = append(resources, r)
		}
	}

	return resources, nil
}

func channelAttributes(ch mltypes.ChannelSummary) ChannelAttributes {
	attachments := make([]InputAttachment, 0, len(ch.InputAttachments))

	for _, a := range ch.InputAttachments {
		attachments = append(attachments, InputAttachment{
			InputID:             aws.ToString(a.InputId),
			InputAttachmentName: aws.ToString(a.InputAttachmentName),
		})
	}

	return ChannelAttributes{
		ID:               aws.ToString(ch.Id),
		Name:             aws.ToString(ch.Name),
		State:            string(ch.State),
		ChannelClass:     string(ch.ChannelClass),
		InputAttachments: attachments,
		Tags:             ch.Tags,
	}
}

func inputAttributes(in mltypes.Input) InputAttributes {
	attached := in.AttachedChannels
	if attached == nil {
		attached = []string{}
	}

	return InputAttributes{
		ID:               aws.ToString(in.Id),
		Name:             aws.ToString(in.Name),
		State:            string(in.State),
		Type:             string(in.Type),
		AttachedChannels: attached,
		Tags:             in.Tags,
	}
}
