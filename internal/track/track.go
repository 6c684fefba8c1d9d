package track

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Participant roles carried through login / query parameters. Free-form
// values are accepted; these are the ones the clients actually send.
const (
	RoleRobot    = "robot"
	RoleDriver   = "delivery-driver"
	RoleCustomer = "customer"
)

var vld = validator.New()

// LocationEvent is the canonical position report used everywhere past the
// transport boundaries. Timestamp is unix milliseconds, filled with the
// receipt time when the sender omits it.
type LocationEvent struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

func (ev LocationEvent) Time() time.Time {
	return time.UnixMilli(ev.Timestamp).UTC()
}

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid location event: " + e.Reason
}

// wire shape with pointer coordinates so that an absent field is
// distinguishable from zero
type wireLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp *int64   `json:"timestamp"`
}

// ParseEvent decodes and validates one inbound position payload. A missing
// or non-numeric coordinate, or a coordinate outside its valid range,
// yields a *ValidationError; the caller drops the event and keeps the
// connection open.
func ParseEvent(data []byte, received time.Time) (LocationEvent, error) {
	w := wireLocation{}
	err := json.Unmarshal(data, &w)
	if err != nil {
		return LocationEvent{}, &ValidationError{Reason: err.Error()}
	}
	if w.Latitude == nil || w.Longitude == nil {
		return LocationEvent{}, &ValidationError{Reason: "latitude/longitude missing"}
	}
	ev := LocationEvent{Latitude: *w.Latitude, Longitude: *w.Longitude}
	if w.Timestamp != nil {
		ev.Timestamp = *w.Timestamp
	} else {
		ev.Timestamp = received.UnixMilli()
	}
	err = Validate(ev)
	if err != nil {
		return LocationEvent{}, err
	}
	return ev, nil
}

// Validate checks coordinate ranges on an already-decoded event.
func Validate(ev LocationEvent) error {
	err := vld.Struct(ev)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("coordinates out of range: %.6f,%.6f", ev.Latitude, ev.Longitude)}
	}
	return nil
}
