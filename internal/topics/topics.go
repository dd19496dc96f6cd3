// Package topics defines the MQTT topic contract shared with the ESP32 firmware.
package topics

import "strings"

// Default namespaces used by the firmware.
const (
	DefaultNamespace         = "esp32"
	DefaultPresenceNamespace = "esp32"
)

// Temperature channels.
const (
	ChannelRed   = "red"
	ChannelBlue  = "blue"
	ChannelGreen = "green"
)

// Channels lists the temperature channels in display order.
var Channels = []string{ChannelRed, ChannelBlue, ChannelGreen}

// Schedule periods.
const (
	PeriodAM = "am"
	PeriodPM = "pm"
)

// Set is the topic layout for one namespace pair.
type Set struct {
	Namespace         string
	PresenceNamespace string
}

// New returns a Set, filling empty namespaces with the defaults.
func New(ns, presenceNS string) Set {
	ns = strings.Trim(ns, "/")
	presenceNS = strings.Trim(presenceNS, "/")
	if ns == "" {
		ns = DefaultNamespace
	}
	if presenceNS == "" {
		presenceNS = DefaultPresenceNamespace
	}
	return Set{Namespace: ns, PresenceNamespace: presenceNS}
}

// Temperature returns the reading topic for a channel.
func (s Set) Temperature(channel string) string {
	return s.Namespace + "/sensors/temperature/" + channel
}

// Heater is the heater status topic.
func (s Set) Heater() string { return s.Namespace + "/system/heater" }

// RSSI is the wifi signal strength topic.
func (s Set) RSSI() string { return s.Namespace + "/system/wifi_rssi" }

// Uptime is the device uptime topic.
func (s Set) Uptime() string { return s.Namespace + "/system/uptime" }

// Wifi is the free-text wifi status topic.
func (s Set) Wifi() string { return s.Namespace + "/system/wifi" }

// TargetTemperature is both the set-point echo and the set-point command topic.
func (s Set) TargetTemperature() string { return s.Namespace + "/control/targetTemperature" }

// Mode is the control-mode command topic (auto or manual).
func (s Set) Mode() string { return s.Namespace + "/control/mode" }

// Ping carries the dashboard's own connection checks. The firmware ignores it.
func (s Set) Ping() string { return s.Namespace + "/dashboard/ping" }

// Presence is the last-will status topic.
func (s Set) Presence() string { return s.PresenceNamespace + "/system/status" }

// Schedule is the structured schedule topic.
func (s Set) Schedule() string { return s.Namespace + "/control/schedule" }

// ScheduleField returns a flattened schedule scalar topic, e.g. esp32/control/schedule/am/time.
func (s Set) ScheduleField(period, field string) string {
	return s.Schedule() + "/" + period + "/" + field
}

// Subscriptions returns every inbound topic, in a stable order.
func (s Set) Subscriptions() []string {
	subs := make([]string, 0, len(Channels)+6)
	for _, ch := range Channels {
		subs = append(subs, s.Temperature(ch))
	}
	return append(subs,
		s.Heater(),
		s.RSSI(),
		s.Uptime(),
		s.Wifi(),
		s.TargetTemperature(),
		s.Presence(),
	)
}
