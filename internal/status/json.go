package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/reconcile"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the device view and service details.
type StatusInner struct {
	Temperatures      TemperaturesJSON  `json:"temperatures"`
	HeaterState       string            `json:"heater_state"`
	TargetTemperature *float64          `json:"target_temperature"`
	Connectivity      ConnectivityJSON  `json:"connectivity"`
	SignalStrength    *float64          `json:"signal_strength"`
	UptimeSeconds     *float64          `json:"uptime_seconds"`
	Reboots           int               `json:"reboots"`
	WifiStatus        string            `json:"wifi_status,omitempty"`
	Presence          string            `json:"presence"`
	LastUpdate        *int64            `json:"last_update"`
	Stale             bool              `json:"stale"`
	Schedule          *control.Schedule `json:"schedule,omitempty"`
	ControlMode       *string           `json:"control_mode"`
	HeaterEnabled     *bool             `json:"heater_enabled"`
	HistorySamples    int               `json:"history_samples"`
	Version           uint64            `json:"version"`
	Service           ServiceJSON       `json:"service"`
}

// TemperaturesJSON holds the channel readings; unknown values are null.
type TemperaturesJSON struct {
	Red     *float64 `json:"red"`
	Blue    *float64 `json:"blue"`
	Green   *float64 `json:"green"`
	Average *float64 `json:"average"`
}

// ConnectivityJSON reports the three link states.
type ConnectivityJSON struct {
	DeviceNetwork     string `json:"device_network"`
	CloudLink         string `json:"cloud_link"`
	BusLink           string `json:"bus_link"`
	BusRetryExhausted bool   `json:"bus_retry_exhausted"`
	BusError          string `json:"bus_error,omitempty"`
	CloudError        string `json:"cloud_error,omitempty"`
	// DeviceCloud and DeviceBus are the firmware's own link reports.
	DeviceCloud string `json:"device_cloud_link,omitempty"`
	DeviceBus   string `json:"device_bus_link,omitempty"`
}

// ServiceJSON describes the dashboard process itself.
type ServiceJSON struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartTime     string `json:"start_time"`
	Timestamp     string `json:"timestamp"`
	Namespace     string `json:"namespace"`
	Broker        string `json:"broker"`
	Store         string `json:"store"`
}

// SeriesJSON is the history envelope.
type SeriesJSON struct {
	Series []SampleJSON `json:"series"`
}

// SampleJSON is one history entry.
type SampleJSON struct {
	Timestamp         int64            `json:"timestamp"`
	Temperatures      TemperaturesJSON `json:"temperatures"`
	HeaterState       string           `json:"heater_state"`
	TargetTemperature *float64         `json:"target_temperature"`
}

func temperatures(t reconcile.Temperatures) TemperaturesJSON {
	return TemperaturesJSON{
		Red:     t.Red.Ptr(),
		Blue:    t.Blue.Ptr(),
		Green:   t.Green.Ptr(),
		Average: t.Average.Ptr(),
	}
}

func buildInner(snap Snapshot) StatusInner {
	dev := snap.Device
	presence := string(dev.Presence)
	if presence == "" {
		presence = "UNKNOWN"
	}

	inner := StatusInner{
		Temperatures:      temperatures(dev.Temperatures),
		HeaterState:       dev.Heater.String(),
		TargetTemperature: dev.TargetTemperature.Ptr(),
		Connectivity: ConnectivityJSON{
			DeviceNetwork:     string(dev.Connectivity.DeviceNetwork),
			CloudLink:         string(dev.Connectivity.CloudLink),
			BusLink:           string(dev.Connectivity.BusLink),
			BusRetryExhausted: dev.BusRetryExhausted,
			BusError:          dev.BusError,
			CloudError:        dev.CloudError,
			DeviceCloud:       string(dev.DeviceReported.Cloud),
			DeviceBus:         string(dev.DeviceReported.Bus),
		},
		SignalStrength: dev.SignalStrength.Ptr(),
		UptimeSeconds:  dev.UptimeSeconds.Ptr(),
		Reboots:        dev.Reboots,
		WifiStatus:     dev.WifiStatus,
		Presence:       presence,
		Stale:          snap.Stale(),
		Schedule:       dev.Schedule,
		HistorySamples: snap.Samples,
		Version:        snap.Version,
		Service: ServiceJSON{
			UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
			StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
			Timestamp:     snap.Now.UTC().Format(time.RFC3339),
			Namespace:     snap.Config.Namespace,
			Broker:        snap.Config.Broker,
			Store:         snap.Config.Store,
		},
	}
	if !dev.LastUpdate.IsZero() {
		ts := dev.LastUpdate.Unix()
		inner.LastUpdate = &ts
	}
	if dev.ControlMode != "" {
		mode := string(dev.ControlMode)
		inner.ControlMode = &mode
	}
	if dev.HeaterEnabled.Valid {
		on := dev.HeaterEnabled.On
		inner.HeaterEnabled = &on
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCompactJSON is FormatJSON without indentation, for live push.
func FormatCompactJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
	return data
}

// FormatSeriesJSON returns the history as JSON, oldest first.
func FormatSeriesJSON(samples []reconcile.Sample) []byte {
	out := SeriesJSON{Series: make([]SampleJSON, 0, len(samples))}
	for _, s := range samples {
		out.Series = append(out.Series, SampleJSON{
			Timestamp:         s.Timestamp.Unix(),
			Temperatures:      temperatures(s.Temperatures),
			HeaterState:       s.Heater.String(),
			TargetTemperature: s.TargetTemperature.Ptr(),
		})
	}
	data, _ := json.Marshal(out)
	return data
}
