package topics

import "testing"

func TestDefaults(t *testing.T) {
	s := New("", "")
	if s.Namespace != "esp32" || s.PresenceNamespace != "esp32" {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestTopicLayout(t *testing.T) {
	s := New("esp32/", "ESP32")
	tests := []struct {
		got, want string
	}{
		{s.Temperature(ChannelRed), "esp32/sensors/temperature/red"},
		{s.Heater(), "esp32/system/heater"},
		{s.RSSI(), "esp32/system/wifi_rssi"},
		{s.Uptime(), "esp32/system/uptime"},
		{s.Wifi(), "esp32/system/wifi"},
		{s.TargetTemperature(), "esp32/control/targetTemperature"},
		{s.Mode(), "esp32/control/mode"},
		{s.Ping(), "esp32/dashboard/ping"},
		{s.Presence(), "ESP32/system/status"},
		{s.ScheduleField(PeriodPM, "temperature"), "esp32/control/schedule/pm/temperature"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestSubscriptions(t *testing.T) {
	subs := New("", "").Subscriptions()
	if len(subs) != 9 {
		t.Fatalf("expected 9 subscriptions, got %d: %v", len(subs), subs)
	}
	seen := map[string]bool{}
	for _, s := range subs {
		if seen[s] {
			t.Errorf("duplicate subscription %q", s)
		}
		seen[s] = true
	}
}
