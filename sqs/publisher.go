package sqs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/msam-go/msam/types"
)

// Publish sends an alarm event to the queue. It is used to re-inject events
// for alarms whose state may have been missed, so they flow through the same
// consumer path as events delivered by EventBridge.
//
// On a FIFO queue the message group is the alarm key, keeping events for one
// alarm in order, and the deduplication ID is a hash of the event identity.
func (c *Client) Publish(ctx context.Context, event *types.AlarmEvent) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	key, err := types.NewAlarmKey(event.Region, event.Detail.AlarmName)
	if err != nil {
		return fmt.Errorf("invalid alarm event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm event: %w", err)
	}

	logger := c.logger.WithField("alarm_key", key.String())

	var groupID, dedupID string

	if c.IsFIFO() {
		groupID = key.String()
		dedupID = hash(key.String(), event.ID, event.Time.UTC().Format(time.RFC3339Nano))

		logger = logger.WithField("dedup_id", dedupID)
	}

	if err := c.Send(ctx, groupID, dedupID, string(body)); err != nil {
		return fmt.Errorf("failed to send alarm event for %s: %w", key, err)
	}

	logger.Debug("Alarm event published")

	return nil
}

func hash(input ...string) string {
	h := sha256.New()

	for _, s := range input {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
