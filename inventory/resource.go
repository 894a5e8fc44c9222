package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/msam-go/msam/types"
)

// Service names stored in [types.CachedResource.Service].
const (
	ServiceMediaLiveChannel = "medialive-channel"
	ServiceMediaLiveInput   = "medialive-input"
	ServiceManagedInstance  = "ssm-managed-instance"
	ServiceInputConnection  = "medialive-input-medialive-channel"
)

func newResource(arn, service, region string, attrs any) (*types.CachedResource, error) {
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes of %s: %w", arn, err)
	}

	return &types.CachedResource{
		ARN:        arn,
		Service:    service,
		Region:     region,
		Attributes: data,
	}, nil
}
