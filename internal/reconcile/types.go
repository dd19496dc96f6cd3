// Package reconcile folds events from the message bus and the document store
// into one DeviceSnapshot and a bounded temperature history.
// This package has NO I/O: time always arrives on the events.
package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/sweeney/heater-dashboard/internal/control"
)

// HeaterState is the heater element state reported by the device.
type HeaterState string

const (
	HeaterUnknown             HeaterState = ""
	HeaterOff                 HeaterState = "OFF"
	HeaterOn                  HeaterState = "ON"
	HeaterOneElementOn        HeaterState = "ONE_ELEMENT_ON"
	HeaterBothElementsFaulted HeaterState = "BOTH_ELEMENTS_FAULTED"
)

// ParseHeaterState decodes the firmware words (ON, OFF, ONE_ON, BOTH_BLOWN), the
// legacy booleans and the canonical names. Anything else is rejected.
func ParseHeaterState(s string) (HeaterState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "TRUE", "1":
		return HeaterOn, true
	case "OFF", "FALSE", "0":
		return HeaterOff, true
	case "ONE_ON", "ONE_ELEMENT_ON":
		return HeaterOneElementOn, true
	case "BOTH_BLOWN", "BOTH_ELEMENTS_FAULTED":
		return HeaterBothElementsFaulted, true
	}
	return HeaterUnknown, false
}

// String renders UNKNOWN for the zero value.
func (h HeaterState) String() string {
	if h == HeaterUnknown {
		return "UNKNOWN"
	}
	return string(h)
}

// LinkState is the state of one connectivity channel.
type LinkState string

const (
	LinkDisconnected LinkState = "DISCONNECTED"
	LinkConnecting   LinkState = "CONNECTING"
	LinkConnected    LinkState = "CONNECTED"
	LinkError        LinkState = "ERROR"
)

// ParseLinkState accepts the state names case-insensitively, plus the
// firmware's prefixed forms (FB_CONNECTED, MQTT_STATE_ERROR).
func ParseLinkState(s string) (LinkState, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "MQTT_STATE_")
	s = strings.TrimPrefix(s, "FB_")
	switch LinkState(s) {
	case LinkDisconnected, LinkConnecting, LinkConnected, LinkError:
		return LinkState(s), true
	}
	return "", false
}

// PresenceState is the device's last-will presence.
type PresenceState string

const (
	PresenceUnknown PresenceState = ""
	PresenceOnline  PresenceState = "ONLINE"
	PresenceOffline PresenceState = "OFFLINE"
)

// Reading is a measured value that may not be known yet.
type Reading struct {
	Value float64
	Valid bool
}

// Known returns a valid Reading.
func Known(v float64) Reading { return Reading{Value: v, Valid: true} }

// Ptr returns nil for an unknown reading.
func (r Reading) Ptr() *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

// Temperatures holds the three channels and their derived average.
type Temperatures struct {
	Red, Blue, Green Reading
	Average          Reading
}

func (t *Temperatures) channel(name string) *Reading {
	switch name {
	case "red":
		return &t.Red
	case "blue":
		return &t.Blue
	case "green":
		return &t.Green
	}
	return nil
}

// recompute sets Average to the mean of the known channels.
func (t *Temperatures) recompute() {
	var sum float64
	n := 0
	for _, r := range []Reading{t.Red, t.Blue, t.Green} {
		if r.Valid {
			sum += r.Value
			n++
		}
	}
	if n == 0 {
		t.Average = Reading{}
		return
	}
	t.Average = Known(sum / float64(n))
}

// Connectivity is the three independent channel states.
type Connectivity struct {
	DeviceNetwork LinkState
	CloudLink     LinkState
	BusLink       LinkState
}

// Flag is a boolean setting that may not be known yet.
type Flag struct {
	On    bool
	Valid bool
}

// DeviceLinks is the firmware's own report of its cloud and bus connections.
// Empty states are unknown.
type DeviceLinks struct {
	Cloud LinkState
	Bus   LinkState
}

// Snapshot is the current view of the device. It is a value: callers get copies.
type Snapshot struct {
	Temperatures      Temperatures
	Heater            HeaterState
	TargetTemperature Reading
	Connectivity      Connectivity
	// SignalStrength in dBm; unknown unless DeviceNetwork is CONNECTED.
	SignalStrength Reading
	UptimeSeconds  Reading
	Reboots        int
	WifiStatus     string
	Presence       PresenceState
	// LastUpdate is the time of the freshest contributing event.
	LastUpdate time.Time

	// BusRetryExhausted is set once the bus adapter has given up; only an
	// explicit reconnect clears it.
	BusRetryExhausted bool
	BusError          string
	CloudError        string

	// Schedule is nil until one has been seen.
	Schedule *control.Schedule

	// ControlMode is empty until the settings document or a local change sets it.
	ControlMode   control.Mode
	HeaterEnabled Flag

	DeviceReported DeviceLinks
}

// Stale reports whether nothing has contributed for longer than after.
func (s Snapshot) Stale(now time.Time, after time.Duration) bool {
	if s.LastUpdate.IsZero() {
		return true
	}
	return now.Sub(s.LastUpdate) > after
}

// Sample is one entry of the temperature history.
type Sample struct {
	Timestamp         time.Time
	Temperatures      Temperatures
	Heater            HeaterState
	TargetTemperature Reading
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
