package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Callback kinds carried in inline button data.
const (
	CallbackTakeHerOut   = "take_her_out"
	CallbackDismiss      = "dismiss"
	CallbackRecordSurvey = "record_survey"
)

const callbackSep = "#"

// ErrUnknownCallback is returned by ParseCallback for data no button produces.
var ErrUnknownCallback = errors.New("telegram: unknown callback data")

// Callback is the decoded data of an inline button press.
type Callback struct {
	Kind string

	// InstanceID is set for dismiss buttons.
	InstanceID int64

	// Code and CorrelationID are set for survey buttons.
	Code          string
	CorrelationID string
}

// Encode returns the button data for c.
func (c Callback) Encode() string {
	switch c.Kind {
	case CallbackDismiss:
		return CallbackDismiss + callbackSep + strconv.FormatInt(c.InstanceID, 10)
	case CallbackRecordSurvey:
		return strings.Join([]string{CallbackRecordSurvey, c.Code, c.CorrelationID}, callbackSep)
	default:
		return c.Kind
	}
}

// ParseCallback decodes button data produced by Encode.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, callbackSep)
	switch parts[0] {
	case CallbackTakeHerOut:
		if len(parts) != 1 {
			break
		}
		return Callback{Kind: CallbackTakeHerOut}, nil

	case CallbackDismiss:
		if len(parts) != 2 {
			break
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return Callback{}, fmt.Errorf("%w: bad instance id in %q", ErrUnknownCallback, data)
		}
		return Callback{Kind: CallbackDismiss, InstanceID: id}, nil

	case CallbackRecordSurvey:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			break
		}
		return Callback{Kind: CallbackRecordSurvey, Code: parts[1], CorrelationID: parts[2]}, nil
	}
	return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
}
