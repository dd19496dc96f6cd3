package reconcile

import (
	"strings"
	"time"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/series"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// source is where a field value came from.
type source int

const (
	sourceNone source = iota
	sourceBus
	sourceCloud
	sourceLocal
)

// stamp is the provenance of one snapshot field.
type stamp struct {
	src source
	at  time.Time
}

// supersedes reports whether next may replace a value stamped cur.
//
// Local values always apply and are replaced by the next confirmed value. Between
// transports the later timestamp wins; equal or missing timestamps go to the bus.
func supersedes(cur, next stamp) bool {
	switch {
	case cur.src == sourceNone:
		return true
	case next.src == sourceLocal, cur.src == sourceLocal:
		return true
	case cur.at.IsZero(), next.at.IsZero(), cur.at.Equal(next.at):
		return !(cur.src == sourceBus && next.src == sourceCloud)
	}
	return next.at.After(cur.at)
}

type field int

const (
	fieldRed field = iota
	fieldBlue
	fieldGreen
	fieldHeater
	fieldTarget
	fieldRSSI
	fieldUptime
	fieldWifi
	fieldDeviceNetwork
	fieldPresence
	fieldSchedule
	fieldMode
	fieldHeaterEnabled
	fieldDeviceCloud
	fieldDeviceBus
	numFields
)

func channelField(channel string) (field, bool) {
	switch channel {
	case topics.ChannelRed:
		return fieldRed, true
	case topics.ChannelBlue:
		return fieldBlue, true
	case topics.ChannelGreen:
		return fieldGreen, true
	}
	return 0, false
}

// Engine owns the snapshot and history. Not safe for concurrent use: one
// goroutine applies every event.
type Engine struct {
	snap          Snapshot
	schedule      control.Schedule
	scheduleKnown bool
	stamps        [numFields]stamp
	history       *series.Ring[Sample]
}

// New creates an engine whose history holds at most capacity samples, never
// more than series.DefaultCapacity.
func New(capacity int) *Engine {
	return &Engine{
		snap: Snapshot{
			Connectivity: Connectivity{
				DeviceNetwork: LinkConnecting,
				CloudLink:     LinkConnecting,
				BusLink:       LinkDisconnected,
			},
		},
		history: series.NewRing[Sample](capacity),
	}
}

// Apply folds one event.
func (e *Engine) Apply(ev Event) Outcome {
	switch ev := ev.(type) {
	case TemperatureReading:
		return e.applyTemperature(ev)
	case HeaterStatus:
		return e.applyHeater(ev)
	case TargetTemperature:
		return e.applyTarget(ev)
	case LinkTelemetry:
		return e.applyTelemetry(ev)
	case Presence:
		return e.applyPresence(ev)
	case BusConnectivity:
		return e.applyBusConnectivity(ev)
	case CloudConnectivity:
		return e.applyCloudConnectivity(ev)
	case DocumentChanged:
		return e.applyDocument(ev)
	case LocalTargetTemperature:
		if !finite(ev.Value) {
			return rejected(ReasonMalformed)
		}
		e.claim(fieldTarget, stamp{sourceLocal, ev.At})
		e.snap.TargetTemperature = Known(ev.Value)
		return Outcome{Applied: true}
	case LocalSchedule:
		e.claim(fieldSchedule, stamp{sourceLocal, ev.At})
		e.schedule, e.scheduleKnown = ev.Schedule, true
		return Outcome{Applied: true}
	case LocalMode:
		if ev.Settings.Validate() != nil {
			return rejected(ReasonMalformed)
		}
		st := stamp{sourceLocal, ev.At}
		e.claim(fieldMode, st)
		e.snap.ControlMode = ev.Settings.Mode
		if ev.Settings.HeaterEnabled != nil {
			e.claim(fieldHeaterEnabled, st)
			e.snap.HeaterEnabled = Flag{On: *ev.Settings.HeaterEnabled, Valid: true}
		}
		return Outcome{Applied: true}
	}
	return rejected(ReasonUnknown)
}

// Snapshot returns a copy of the current state. Signal strength is withheld
// unless the device network is up, and a bus-sourced value also needs the bus up.
func (e *Engine) Snapshot() Snapshot {
	s := e.snap
	if s.Connectivity.DeviceNetwork != LinkConnected ||
		(e.stamps[fieldRSSI].src == sourceBus && s.Connectivity.BusLink != LinkConnected) {
		s.SignalStrength = Reading{}
	}
	if e.scheduleKnown {
		sc := e.schedule
		s.Schedule = &sc
	}
	return s
}

// History returns the retained samples, oldest first.
func (e *Engine) History() []Sample { return e.history.Items() }

// HistoryLen returns the number of retained samples.
func (e *Engine) HistoryLen() int { return e.history.Len() }

// HistoryEvicted returns how many samples have aged out of the history.
func (e *Engine) HistoryEvicted() uint64 { return e.history.Evicted() }

func rejected(reason string) Outcome {
	return Outcome{Rejected: true, Reason: reason}
}

func (e *Engine) claim(f field, st stamp) bool {
	if !supersedes(e.stamps[f], st) {
		return false
	}
	e.stamps[f] = st
	return true
}

// staleBus reports whether a bus event predates the freshest contribution.
func (e *Engine) staleBus(at time.Time) bool {
	return !at.IsZero() && at.Before(e.snap.LastUpdate)
}

func (e *Engine) advance(at time.Time) {
	if at.After(e.snap.LastUpdate) {
		e.snap.LastUpdate = at
	}
}

// markLive records that live bus data proves the device is up.
func (e *Engine) markLive(st stamp) {
	e.snap.Presence = PresenceOnline
	e.snap.Connectivity.DeviceNetwork = LinkConnected
	e.stamps[fieldPresence] = st
	e.stamps[fieldDeviceNetwork] = st
}

func (e *Engine) appendSample(at time.Time) {
	if at.IsZero() {
		at = e.snap.LastUpdate
	}
	e.history.Push(Sample{
		Timestamp:         at,
		Temperatures:      e.snap.Temperatures,
		Heater:            e.snap.Heater,
		TargetTemperature: e.snap.TargetTemperature,
	})
}

func (e *Engine) setUptime(v float64) bool {
	reboot := e.snap.UptimeSeconds.Valid && v < e.snap.UptimeSeconds.Value
	e.snap.UptimeSeconds = Known(v)
	if reboot {
		e.snap.Reboots++
	}
	return reboot
}

func (e *Engine) applyTemperature(ev TemperatureReading) Outcome {
	f, ok := channelField(ev.Channel)
	if !ok || !finite(ev.Value) {
		return rejected(ReasonMalformed)
	}
	if e.staleBus(ev.At) {
		return rejected(ReasonStale)
	}
	st := stamp{sourceBus, ev.At}
	if !e.claim(f, st) {
		return rejected(ReasonOutranked)
	}
	*e.snap.Temperatures.channel(ev.Channel) = Known(ev.Value)
	e.snap.Temperatures.recompute()
	e.markLive(st)
	e.advance(ev.At)
	e.appendSample(ev.At)
	return Outcome{Applied: true, Appended: true}
}

func (e *Engine) applyHeater(ev HeaterStatus) Outcome {
	if ev.State == HeaterUnknown {
		return rejected(ReasonMalformed)
	}
	if e.staleBus(ev.At) {
		return rejected(ReasonStale)
	}
	st := stamp{sourceBus, ev.At}
	if !e.claim(fieldHeater, st) {
		return rejected(ReasonOutranked)
	}
	e.snap.Heater = ev.State
	e.markLive(st)
	e.advance(ev.At)
	return Outcome{Applied: true}
}

func (e *Engine) applyTarget(ev TargetTemperature) Outcome {
	if !finite(ev.Value) {
		return rejected(ReasonMalformed)
	}
	if e.staleBus(ev.At) {
		return rejected(ReasonStale)
	}
	st := stamp{sourceBus, ev.At}
	if !e.claim(fieldTarget, st) {
		return rejected(ReasonOutranked)
	}
	e.snap.TargetTemperature = Known(ev.Value)
	e.markLive(st)
	e.advance(ev.At)
	return Outcome{Applied: true}
}

func (e *Engine) applyTelemetry(ev LinkTelemetry) Outcome {
	var f field
	switch ev.Field {
	case FieldRSSI:
		f = fieldRSSI
	case FieldUptime:
		f = fieldUptime
	case FieldWifi:
		f = fieldWifi
	default:
		return rejected(ReasonMalformed)
	}
	if f != fieldWifi && (!finite(ev.Value) || (f == fieldUptime && ev.Value < 0)) {
		return rejected(ReasonMalformed)
	}
	if e.staleBus(ev.At) {
		return rejected(ReasonStale)
	}
	st := stamp{sourceBus, ev.At}
	if !e.claim(f, st) {
		return rejected(ReasonOutranked)
	}

	var out Outcome
	switch f {
	case fieldRSSI:
		e.snap.SignalStrength = Known(ev.Value)
	case fieldUptime:
		out.Reboot = e.setUptime(ev.Value)
	case fieldWifi:
		e.snap.WifiStatus = ev.Text
	}
	e.markLive(st)
	e.advance(ev.At)
	out.Applied = true
	return out
}

// applyPresence is authoritative: it is never stale and always overrides
// document claims about presence and the device network.
func (e *Engine) applyPresence(ev Presence) Outcome {
	st := stamp{sourceBus, ev.At}
	e.stamps[fieldPresence] = st
	e.stamps[fieldDeviceNetwork] = st
	if ev.Online {
		e.snap.Presence = PresenceOnline
		e.snap.Connectivity.DeviceNetwork = LinkConnected
	} else {
		e.snap.Presence = PresenceOffline
		e.snap.Connectivity.DeviceNetwork = LinkError
	}
	return Outcome{Applied: true}
}

func (e *Engine) applyBusConnectivity(ev BusConnectivity) Outcome {
	e.snap.Connectivity.BusLink = ev.State
	switch ev.State {
	case LinkError:
		e.snap.BusRetryExhausted = ev.Terminal
		if ev.Err != nil {
			e.snap.BusError = ev.Err.Error()
		}
	case LinkConnected:
		e.snap.BusRetryExhausted = false
		e.snap.BusError = ""
	default:
		e.snap.BusRetryExhausted = false
	}
	return Outcome{Applied: true}
}

func (e *Engine) applyCloudConnectivity(ev CloudConnectivity) Outcome {
	e.snap.Connectivity.CloudLink = ev.State
	switch {
	case ev.Err != nil:
		e.snap.CloudError = ev.Err.Error()
	case ev.State == LinkConnected:
		e.snap.CloudError = ""
	}
	return Outcome{Applied: true}
}

func (e *Engine) applyDocument(ev DocumentChanged) Outcome {
	if !ev.Ok || ev.Doc == nil {
		return Outcome{Reason: ReasonAbsent}
	}
	var changed, appended bool
	var out Outcome
	switch ev.Path {
	case docstore.PathSensors:
		changed, appended = e.foldSensors(ev)
	case docstore.PathSystem:
		changed, out.Reboot = e.foldSystem(ev)
	case docstore.PathControl:
		changed = e.foldControl(ev)
	case docstore.PathSchedule:
		changed = e.foldSchedule(ev)
	default:
		return rejected(ReasonUnknown)
	}
	if !changed {
		return Outcome{Reason: ReasonOutranked}
	}
	out.Applied = true
	out.Appended = appended
	return out
}

// docStamp takes the document's own timestamp when it has one that is not in
// the future relative to receipt; otherwise the receipt time.
func docStamp(ev DocumentChanged, keys ...string) stamp {
	at := ev.At
	for _, k := range keys {
		if t, ok := ev.Doc.Time(k); ok {
			if at.IsZero() || !t.After(at) {
				at = t
			}
			break
		}
	}
	return stamp{sourceCloud, at}
}

func firstString(doc docstore.Document, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := doc.String(k); ok {
			return s, true
		}
	}
	return "", false
}

func (e *Engine) foldHeaterField(doc docstore.Document, st stamp) bool {
	s, ok := firstString(doc, "heater_status", "heaterStatus")
	if !ok {
		return false
	}
	h, ok := ParseHeaterState(s)
	if !ok || !e.claim(fieldHeater, st) {
		return false
	}
	e.snap.Heater = h
	return true
}

func (e *Engine) foldSensors(ev DocumentChanged) (changed, appended bool) {
	st := docStamp(ev, "timestamp")
	nested, hasNested := ev.Doc.Sub("temperature")

	tempChanged := false
	for _, ch := range topics.Channels {
		var v float64
		var ok bool
		if hasNested {
			v, ok = nested.Float(ch)
		} else {
			v, ok = ev.Doc.Float("temperature_" + ch)
		}
		if !ok {
			continue
		}
		f, _ := channelField(ch)
		if !e.claim(f, st) {
			continue
		}
		*e.snap.Temperatures.channel(ch) = Known(v)
		tempChanged = true
	}
	heaterChanged := e.foldHeaterField(ev.Doc, st)

	if tempChanged {
		e.snap.Temperatures.recompute()
	}
	if tempChanged || heaterChanged {
		e.advance(st.at)
	}
	if tempChanged {
		e.appendSample(st.at)
	}
	return tempChanged || heaterChanged, tempChanged
}

func (e *Engine) foldSystem(ev DocumentChanged) (changed, reboot bool) {
	st := docStamp(ev, "last_update", "lastUpdated")
	doc := ev.Doc

	if v, ok := doc.Float("rssi"); ok && e.claim(fieldRSSI, st) {
		e.snap.SignalStrength = Known(v)
		changed = true
	}
	if v, ok := doc.Float("uptime"); ok && v >= 0 && e.claim(fieldUptime, st) {
		reboot = e.setUptime(v)
		changed = true
	}
	if e.foldHeaterField(doc, st) {
		changed = true
	}

	// Presence and the device network are the bus's once it has spoken.
	presenceByBus := e.stamps[fieldPresence].src == sourceBus
	networkByBus := e.stamps[fieldDeviceNetwork].src == sourceBus
	if s, ok := doc.String("status"); ok && !presenceByBus {
		var p PresenceState
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "online":
			p = PresenceOnline
		case "offline":
			p = PresenceOffline
		}
		if p != PresenceUnknown && e.claim(fieldPresence, st) {
			e.snap.Presence = p
			if p == PresenceOffline && !networkByBus {
				e.snap.Connectivity.DeviceNetwork = LinkError
				e.stamps[fieldDeviceNetwork] = st
			}
			changed = true
		}
	}

	if s, ok := doc.String("wifi"); ok {
		if e.claim(fieldWifi, st) {
			e.snap.WifiStatus = s
			changed = true
		}
		if ls, ok := ParseLinkState(s); ok && !networkByBus && e.snap.Presence != PresenceOffline && e.claim(fieldDeviceNetwork, st) {
			if ls == LinkDisconnected {
				ls = LinkError
			}
			e.snap.Connectivity.DeviceNetwork = ls
			changed = true
		}
	}

	if e.foldDeviceLink(doc, st, fieldDeviceCloud, &e.snap.DeviceReported.Cloud, "firebase_status", "firebase") {
		changed = true
	}
	if e.foldDeviceLink(doc, st, fieldDeviceBus, &e.snap.DeviceReported.Bus, "mqtt_status", "mqtt") {
		changed = true
	}

	if changed {
		e.advance(st.at)
	}
	return changed, reboot
}

// foldDeviceLink reads the firmware's own view of one of its links.
func (e *Engine) foldDeviceLink(doc docstore.Document, st stamp, f field, dst *LinkState, keys ...string) bool {
	s, ok := firstString(doc, keys...)
	if !ok {
		return false
	}
	ls, ok := ParseLinkState(s)
	if !ok || !e.claim(f, st) {
		return false
	}
	*dst = ls
	return true
}

func (e *Engine) foldControl(ev DocumentChanged) bool {
	st := docStamp(ev, "updated_at", "timestamp")
	changed := false
	if v, ok := ev.Doc.Float("target_temperature"); ok && e.claim(fieldTarget, st) {
		e.snap.TargetTemperature = Known(v)
		changed = true
	}
	mode, modeOK, enabled, enabledOK := control.ModeFromDocument(ev.Doc)
	if modeOK && e.claim(fieldMode, st) {
		e.snap.ControlMode = mode
		changed = true
	}
	if enabledOK && e.claim(fieldHeaterEnabled, st) {
		e.snap.HeaterEnabled = Flag{On: enabled, Valid: true}
		changed = true
	}
	return changed
}

func (e *Engine) foldSchedule(ev DocumentChanged) bool {
	st := docStamp(ev, "updated_at")
	sc, ok := control.ScheduleFromDocument(ev.Doc)
	if !ok || !e.claim(fieldSchedule, st) {
		return false
	}
	e.schedule, e.scheduleKnown = sc, true
	return true
}
