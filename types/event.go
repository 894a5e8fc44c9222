package types

import (
	"context"
	"time"
)

// AlarmEvent is the alarm-state-change notification as delivered by
// EventBridge. Only the fields used to locate the alarm are decoded; the
// current state is always re-read from the provider.
type AlarmEvent struct {
	ID         string           `json:"id,omitempty"`
	DetailType string           `json:"detail-type,omitempty"`
	Source     string           `json:"source,omitempty"`
	Time       time.Time        `json:"time,omitzero"`
	Region     string           `json:"region"`
	Detail     AlarmEventDetail `json:"detail"`
}

// AlarmEventDetail is the "detail" object of an [AlarmEvent].
type AlarmEventDetail struct {
	AlarmName string `json:"alarmName"`
}

// AlarmStatus is the provider's current view of one alarm.
type AlarmStatus struct {
	Region         string
	AlarmName      string
	Namespace      string
	State          AlarmState
	StateUpdatedAt time.Time
}

// StateProvider reads the current state of an alarm from the alarm-monitoring
// provider. Implementations return a [KindNotFound] error for unknown alarms
// and a [KindProviderUnavailable] error when the region cannot be reached.
type StateProvider interface {
	AlarmState(ctx context.Context, region, alarmName string) (*AlarmStatus, error)
}

// QueueItem is one message received from a queue. Exactly one of Ack or Nack
// should be called when processing finishes: Ack removes the message, Nack
// leaves it for redelivery.
type QueueItem struct {
	MessageID        string
	GroupID          string
	ReceiveTimestamp time.Time
	Body             string
	Ack              func()
	Nack             func()
}
