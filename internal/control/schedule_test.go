package control

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heater-dashboard/internal/docstore"
)

func validSchedule() Schedule {
	return Schedule{
		AM: Rule{Enabled: true, Time: "07:00", Temperature: 22},
		PM: Rule{Enabled: false, Time: "19:30", Temperature: 18.5},
	}
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr string
	}{
		{"valid", func(*Schedule) {}, ""},
		{"am too hot", func(s *Schedule) { s.AM.Temperature = 120 }, "amTemperature"},
		{"pm too cold", func(s *Schedule) { s.PM.Temperature = 4.9 }, "pmTemperature"},
		{"bounds inclusive", func(s *Schedule) { s.AM.Temperature = 5; s.PM.Temperature = 50 }, ""},
		{"hour 24", func(s *Schedule) { s.AM.Time = "24:00" }, "amTime"},
		{"single digit hour", func(s *Schedule) { s.PM.Time = "7:00" }, "pmTime"},
		{"minute 60", func(s *Schedule) { s.PM.Time = "19:60" }, "pmTime"},
		{"empty time", func(s *Schedule) { s.AM.Time = "" }, "amTime"},
		{"disabled still checked", func(s *Schedule) { s.PM.Enabled = false; s.PM.Time = "noon" }, "pmTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchedule()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantErr {
				t.Errorf("expected field %q, got %q", tt.wantErr, ve.Field)
			}
		})
	}
}

func TestScheduleDocumentRoundTrip(t *testing.T) {
	s := validSchedule()
	now := time.Unix(1700000000, 0)
	doc := s.Document(now)
	if v, _ := doc.Float("updated_at"); v != 1700000000 {
		t.Errorf("updated_at: got %v", v)
	}
	got, ok := ScheduleFromDocument(doc)
	if !ok || got != s {
		t.Errorf("got %+v (%v), want %+v", got, ok, s)
	}
}

func TestScheduleFromLegacyDocument(t *testing.T) {
	doc := docstore.Document{
		"amEnabled":       "true",
		"amScheduledTime": "06:15",
		"amTemperature":   "21.5",
		"pmEnabled":       false,
		"pmScheduledTime": "20:00",
		"pmTemperature":   17,
	}
	got, ok := ScheduleFromDocument(doc)
	if !ok {
		t.Fatal("expected schedule")
	}
	want := Schedule{
		AM: Rule{Enabled: true, Time: "06:15", Temperature: 21.5},
		PM: Rule{Enabled: false, Time: "20:00", Temperature: 17},
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, ok := ScheduleFromDocument(docstore.Document{"updated_at": 1}); ok {
		t.Error("document without times should not decode")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		want   Mode
		wantOK bool
	}{
		{"auto", ModeAuto, true},
		{" MANUAL ", ModeManual, true},
		{"eco", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseMode(%q): got (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestModeFromDocument(t *testing.T) {
	mode, modeOK, enabled, enabledOK := ModeFromDocument(docstore.Document{"control_mode": "Auto", "heater_enabled": "false"})
	if !modeOK || mode != ModeAuto || !enabledOK || enabled {
		t.Errorf("got %q %v %v %v", mode, modeOK, enabled, enabledOK)
	}
	_, modeOK, _, enabledOK = ModeFromDocument(docstore.Document{"target_temperature": 21})
	if modeOK || enabledOK {
		t.Error("expected neither field on a set-point-only document")
	}
}
