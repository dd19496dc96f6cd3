package reconcile

import (
	"time"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/docstore"
)

// Event is anything the engine can fold. The set is closed.
type Event interface {
	isEvent()
}

// Telemetry fields carried by LinkTelemetry.
const (
	FieldRSSI   = "rssi"
	FieldUptime = "uptime"
	FieldWifi   = "wifi"
)

// TemperatureReading is a bus reading for one channel.
type TemperatureReading struct {
	Channel string
	Value   float64
	At      time.Time
}

// HeaterStatus is the bus heater state.
type HeaterStatus struct {
	State HeaterState
	At    time.Time
}

// TargetTemperature is the device's set-point echo from the bus.
type TargetTemperature struct {
	Value float64
	At    time.Time
}

// LinkTelemetry is a device link report from the bus. Numeric fields use
// Value; wifi uses Text.
type LinkTelemetry struct {
	Field string
	Value float64
	Text  string
	At    time.Time
}

// Presence is the last-will signal.
type Presence struct {
	Online bool
	At     time.Time
}

// BusConnectivity reports the bus adapter's own connection state.
type BusConnectivity struct {
	State LinkState
	// Terminal marks the error after which no automatic retry happens.
	Terminal bool
	Err      error
	At       time.Time
}

// CloudConnectivity reports the document store's reachability.
type CloudConnectivity struct {
	State LinkState
	Err   error
	At    time.Time
}

// DocumentChanged carries the current value of a watched document. Ok is false
// when the document does not exist.
type DocumentChanged struct {
	Path string
	Doc  docstore.Document
	Ok   bool
	At   time.Time
}

// LocalTargetTemperature is an optimistic user set-point change.
type LocalTargetTemperature struct {
	Value float64
	At    time.Time
}

// LocalSchedule is an optimistic user schedule change.
type LocalSchedule struct {
	Schedule control.Schedule
	At       time.Time
}

// LocalMode is an optimistic user control-mode change.
type LocalMode struct {
	Settings control.ModeSettings
	At       time.Time
}

func (TemperatureReading) isEvent()     {}
func (HeaterStatus) isEvent()           {}
func (TargetTemperature) isEvent()      {}
func (LinkTelemetry) isEvent()          {}
func (Presence) isEvent()               {}
func (BusConnectivity) isEvent()        {}
func (CloudConnectivity) isEvent()      {}
func (DocumentChanged) isEvent()        {}
func (LocalTargetTemperature) isEvent() {}
func (LocalSchedule) isEvent()          {}
func (LocalMode) isEvent()              {}

// Outcome describes what Apply did.
type Outcome struct {
	Applied  bool
	Rejected bool
	// Reason is set when the event was rejected or ignored.
	Reason string
	// Appended is set when a history sample was added.
	Appended bool
	// Reboot is set when an uptime decrease was detected.
	Reboot bool
}

// Rejection reasons.
const (
	ReasonStale     = "stale"
	ReasonMalformed = "malformed"
	ReasonAbsent    = "absent"
	ReasonOffline   = "offline"
	ReasonUnknown   = "unknown_path"
	ReasonOutranked = "outranked"
)
