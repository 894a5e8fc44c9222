package types

import (
	"encoding/json"
	"errors"
	"time"
)

// CachedResource is the latest known state of a discovered cloud resource.
//
// ARN is globally unique and is the store key. The entry is valid only while
// the current time is before ExpiresAt; afterwards it is logically absent even
// if still physically stored.
type CachedResource struct {
	ARN          string          `json:"arn"`
	Service      string          `json:"service"`
	Region       string          `json:"region"`
	Attributes   json.RawMessage `json:"data"`
	DiscoveredAt time.Time       `json:"updated"`
	ExpiresAt    time.Time       `json:"expires"`
}

// Expired reports whether the entry is logically absent at now.
func (r *CachedResource) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Stamp sets DiscoveredAt to now and ExpiresAt to now+ttl. It is applied on
// every sighting, whether or not the attributes changed.
func (r *CachedResource) Stamp(now time.Time, ttl time.Duration) {
	r.DiscoveredAt = now
	r.ExpiresAt = now.Add(ttl)
}

// Validate checks the fields required to store the entry.
func (r *CachedResource) Validate() error {
	if r.ARN == "" {
		return errors.New("resource ARN cannot be empty")
	}

	if r.Service == "" {
		return errors.New("resource service cannot be empty")
	}

	if r.Region == "" {
		return errors.New("resource region cannot be empty")
	}

	if len(r.Attributes) > 0 && !json.Valid(r.Attributes) {
		return errors.New("resource attributes must be valid JSON")
	}

	return nil
}

// AttributeMap decodes Attributes into a map. An empty payload yields an
// empty map.
func (r *CachedResource) AttributeMap() (map[string]any, error) {
	attrs := map[string]any{}

	if len(r.Attributes) == 0 {
		return attrs, nil
	}

	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return nil, err
	}

	return attrs, nil
}
