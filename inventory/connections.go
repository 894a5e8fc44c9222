package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/msam-go/msam/types"
)

// ConnectionAttributes is the cached shape of a connection between two
// resources.
type ConnectionAttributes struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Connections derives input to channel connections from the cached MediaLive
// channels and inputs of a region. It makes no AWS calls.
type Connections struct {
	store types.ResourceStore
}

func NewConnections(store types.ResourceStore) *Connections {
	return &Connections{store: store}
}

// Enumerate returns one connection per channel input attachment whose input
// is cached in region. Attachments to unknown inputs are skipped.
func (c *Connections) Enumerate(ctx context.Context, region string) ([]*types.CachedResource, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	channels, err := c.store.ListByServiceRegion(ctx, ServiceMediaLiveChannel, region)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached channels in %s: %w", region, err)
	}

	inputs, err := c.store.ListByServiceRegion(ctx, ServiceMediaLiveInput, region)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached inputs in %s: %w", region, err)
	}

	type cachedInput struct {
		arn  string
		name string
	}

	byID := map[string]cachedInput{}

	for _, in := range inputs {
		var attrs InputAttributes
		if err := json.Unmarshal(in.Attributes, &attrs); err != nil || attrs.ID == "" {
			continue
		}

		byID[attrs.ID] = cachedInput{arn: in.ARN, name: attrs.Name}
	}

	connections := []*types.CachedResource{}

	for _, ch := range channels {
		var attrs ChannelAttributes
		if err := json.Unmarshal(ch.Attributes, &attrs); err != nil {
			continue
		}

		for _, a := range attrs.InputAttachments {
			in, ok := byID[a.InputID]
			if !ok {
				continue
			}

			label := a.InputAttachmentName
			if label == "" {
				label = in.name
			}

			r, err := newResource(ConnectionARN(in.arn, ch.ARN), ServiceInputConnection, region, ConnectionAttributes{
				From:  in.arn,
				To:    ch.ARN,
				Label: label,
			})
			if err != nil {
				return nil, err
			}

			connections = append(connections, r)
		}
	}

	return connections, nil
}

// ConnectionARN is the cache key of the connection from one resource to
// another.
func ConnectionARN(from, to string) string {
	return from + ":" + to
}
