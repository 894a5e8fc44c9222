package alarms

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/msam-go/msam/types"
)

const snsNotificationType = "Notification"

// envelope decodes both a raw EventBridge event and an SNS notification that
// wraps one in its Message field.
type envelope struct {
	types.AlarmEvent

	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseEvent decodes an alarm-state-change notification. Events delivered
// through SNS are unwrapped once. Any shape other than
// {region, detail: {alarmName}} yields a [types.KindMalformed] error.
func ParseEvent(body []byte) (*types.AlarmEvent, error) {
	event, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	if event.Type == snsNotificationType {
		if event.Message == "" {
			return nil, types.Malformed("ParseEvent", errors.New("SNS notification has an empty message"))
		}

		if event, err = parseEnvelope([]byte(event.Message)); err != nil {
			return nil, err
		}
	}

	if event.Region == "" {
		return nil, types.Malformed("ParseEvent", errors.New("event has no region"))
	}

	if event.Detail.AlarmName == "" {
		return nil, types.Malformed("ParseEvent", errors.New("event has no detail.alarmName"))
	}

	return &event.AlarmEvent, nil
}

func parseEnvelope(body []byte) (*envelope, error) {
	event := &envelope{}

	if err := json.Unmarshal(body, event); err != nil {
		return nil, types.Malformed("ParseEvent", fmt.Errorf("failed to decode event: %w", err))
	}

	return event, nil
}
