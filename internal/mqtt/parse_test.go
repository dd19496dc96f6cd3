package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

func TestParse(t *testing.T) {
	ts := topics.New("esp32", "home")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		topic   string
		payload string
		want    reconcile.Event
		wantErr error
	}{
		{"red", "esp32/sensors/temperature/red", "21.4", reconcile.TemperatureReading{Channel: "red", Value: 21.4, At: now}, nil},
		{"green padded", "esp32/sensors/temperature/green", " 19 \n", reconcile.TemperatureReading{Channel: "green", Value: 19, At: now}, nil},
		{"nan", "esp32/sensors/temperature/blue", "NaN", nil, ErrMalformedPayload},
		{"inf", "esp32/sensors/temperature/blue", "+Inf", nil, ErrMalformedPayload},
		{"empty", "esp32/sensors/temperature/blue", "", nil, ErrMalformedPayload},
		{"text", "esp32/sensors/temperature/blue", "warm", nil, ErrMalformedPayload},
		{"heater one on", "esp32/system/heater", "ONE_ON", reconcile.HeaterStatus{State: reconcile.HeaterOneElementOn, At: now}, nil},
		{"heater blown", "esp32/system/heater", "BOTH_BLOWN", reconcile.HeaterStatus{State: reconcile.HeaterBothElementsFaulted, At: now}, nil},
		{"heater legacy", "esp32/system/heater", "true", reconcile.HeaterStatus{State: reconcile.HeaterOn, At: now}, nil},
		{"heater unknown", "esp32/system/heater", "HALF", nil, ErrMalformedPayload},
		{"rssi", "esp32/system/wifi_rssi", "-67", reconcile.LinkTelemetry{Field: reconcile.FieldRSSI, Value: -67, At: now}, nil},
		{"uptime seconds", "esp32/system/uptime", "3725", reconcile.LinkTelemetry{Field: reconcile.FieldUptime, Value: 3725, At: now}, nil},
		{"uptime clock", "esp32/system/uptime", "01:02:05", reconcile.LinkTelemetry{Field: reconcile.FieldUptime, Value: 3725, At: now}, nil},
		{"uptime long", "esp32/system/uptime", "49:00:00", reconcile.LinkTelemetry{Field: reconcile.FieldUptime, Value: 176400, At: now}, nil},
		{"uptime bad minutes", "esp32/system/uptime", "01:75:00", nil, ErrMalformedPayload},
		{"uptime negative", "esp32/system/uptime", "-5", nil, ErrMalformedPayload},
		{"wifi", "esp32/system/wifi", "CONNECTED", reconcile.LinkTelemetry{Field: reconcile.FieldWifi, Text: "CONNECTED", At: now}, nil},
		{"wifi empty", "esp32/system/wifi", "  ", nil, ErrMalformedPayload},
		{"target", "esp32/control/targetTemperature", "22.5", reconcile.TargetTemperature{Value: 22.5, At: now}, nil},
		{"online", "home/system/status", "online", reconcile.Presence{Online: true, At: now}, nil},
		{"offline caps", "home/system/status", "OFFLINE", reconcile.Presence{Online: false, At: now}, nil},
		{"presence junk", "home/system/status", "maybe", nil, ErrMalformedPayload},
		{"presence wrong namespace", "esp32/system/status", "online", nil, ErrUnknownTopic},
		{"unknown", "esp32/unknown", "1", nil, ErrUnknownTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(ts, tt.topic, []byte(tt.payload), now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v (event %#v)", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
