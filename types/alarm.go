package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlarmState is the discrete state of a CloudWatch alarm.
type AlarmState string

const (
	AlarmStateOK               AlarmState = "OK"
	AlarmStateAlarm            AlarmState = "ALARM"
	AlarmStateInsufficientData AlarmState = "INSUFFICIENT_DATA"
)

// InitialAlarmState is written by a fresh subscription, before the first
// state change notification for the alarm has been propagated.
const InitialAlarmState = AlarmStateInsufficientData

// Valid reports whether s is one of the three alarm states.
func (s AlarmState) Valid() bool {
	switch s {
	case AlarmStateOK, AlarmStateAlarm, AlarmStateInsufficientData:
		return true
	default:
		return false
	}
}

// ParseAlarmState converts a provider state string, case-insensitively.
func ParseAlarmState(s string) (AlarmState, error) {
	state := AlarmState(strings.ToUpper(strings.TrimSpace(s)))
	if !state.Valid() {
		return "", fmt.Errorf("invalid alarm state %q", s)
	}

	return state, nil
}

// AlarmKey identifies one alarm instance across the fleet: "<region>:<alarm name>".
type AlarmKey string

// NewAlarmKey builds the key for the named alarm in region.
func NewAlarmKey(region, alarmName string) (AlarmKey, error) {
	if region == "" {
		return "", errors.New("region cannot be empty")
	}

	if strings.Contains(region, ":") {
		return "", fmt.Errorf("region %q cannot contain ':'", region)
	}

	if alarmName == "" {
		return "", errors.New("alarm name cannot be empty")
	}

	return AlarmKey(region + ":" + alarmName), nil
}

// Split returns the region and alarm name. Alarm names may themselves contain
// ':'; only the first separator is significant.
func (k AlarmKey) Split() (region, alarmName string, err error) {
	region, alarmName, ok := strings.Cut(string(k), ":")
	if !ok || region == "" || alarmName == "" {
		return "", "", fmt.Errorf("invalid alarm key %q", string(k))
	}

	return region, alarmName, nil
}

func (k AlarmKey) String() string {
	return string(k)
}

// AlarmSubscription records that SubscriberID wants state updates for the
// alarm identified by AlarmKey, together with the last propagated state.
type AlarmSubscription struct {
	AlarmKey       AlarmKey   `json:"RegionAlarmName"`
	SubscriberID   string     `json:"ResourceArn"`
	Namespace      string     `json:"Namespace,omitempty"`
	StateValue     AlarmState `json:"StateValue"`
	LastUpdated    time.Time  `json:"Updated"`
	StateUpdatedAt time.Time  `json:"StateUpdated"`
}

// StateUpdate is a conditional state write for one subscription row. It only
// applies if the row for (AlarmKey, SubscriberID) still exists.
type StateUpdate struct {
	AlarmKey       AlarmKey
	SubscriberID   string
	StateValue     AlarmState
	UpdatedAt      time.Time
	StateUpdatedAt time.Time

	// Namespace is recorded when non-empty; otherwise the stored value is kept.
	Namespace string
}

// Validate checks that all required fields are set.
func (u StateUpdate) Validate() error {
	if u.AlarmKey == "" {
		return errors.New("alarm key cannot be empty")
	}

	if u.SubscriberID == "" {
		return errors.New("subscriber ID cannot be empty")
	}

	if !u.StateValue.Valid() {
		return fmt.Errorf("invalid alarm state %q", u.StateValue)
	}

	return nil
}
