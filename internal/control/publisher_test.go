package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

type recordingBus struct {
	connected bool
	published [][2]string
}

func (b *recordingBus) Publish(topic, payload string) bool {
	if !b.connected {
		return false
	}
	b.published = append(b.published, [2]string{topic, payload})
	return true
}

func (b *recordingBus) payload(topic string) (string, bool) {
	for _, m := range b.published {
		if m[0] == topic {
			return m[1], true
		}
	}
	return "", false
}

func newTestPublisher(connected bool) (*Publisher, *docstore.FakeStore, *recordingBus) {
	store := docstore.NewFakeStore()
	bus := &recordingBus{connected: connected}
	p := NewPublisher(store, bus, topics.New("", ""), nil)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return p, store, bus
}

func TestPublishScheduleRejectsInvalidWithoutIO(t *testing.T) {
	p, store, bus := newTestPublisher(true)
	s := Schedule{
		AM: Rule{Enabled: true, Time: "07:00", Temperature: 120},
		PM: Rule{Enabled: false, Time: "19:00", Temperature: 18},
	}

	res := p.PublishSchedule(context.Background(), s)

	var ve *ValidationError
	if !errors.As(res.Err, &ve) {
		t.Fatalf("expected ValidationError, got %v", res.Err)
	}
	if res.CloudWritten || res.BusWritten {
		t.Errorf("nothing should be written, got %+v", res)
	}
	if store.WriteCount() != 0 {
		t.Errorf("expected 0 document writes, got %d", store.WriteCount())
	}
	if len(bus.published) != 0 {
		t.Errorf("expected 0 bus publishes, got %d", len(bus.published))
	}
}

func TestPublishScheduleBothTransports(t *testing.T) {
	p, store, bus := newTestPublisher(true)
	s := validSchedule()

	res := p.PublishSchedule(context.Background(), s)
	if res.Err != nil || !res.CloudWritten || !res.BusWritten {
		t.Fatalf("unexpected result %+v", res)
	}

	w, ok := store.LastWrite()
	if !ok || w.Path != docstore.PathSchedule {
		t.Fatalf("expected write to %s, got %+v", docstore.PathSchedule, w)
	}
	if tm, _ := w.Doc.String("am_time"); tm != "07:00" {
		t.Errorf("am_time: got %q", tm)
	}

	if len(bus.published) != 7 {
		t.Fatalf("expected 7 publishes, got %d", len(bus.published))
	}
	body, ok := bus.payload("esp32/control/schedule")
	if !ok {
		t.Fatal("missing structured schedule message")
	}
	var decoded Schedule
	if err := json.Unmarshal([]byte(body), &decoded); err != nil || decoded != s {
		t.Errorf("structured message: got %+v (%v)", decoded, err)
	}

	checks := map[string]string{
		"esp32/control/schedule/am/time":        "07:00",
		"esp32/control/schedule/am/temperature": "22",
		"esp32/control/schedule/am/enabled":     "true",
		"esp32/control/schedule/pm/time":        "19:30",
		"esp32/control/schedule/pm/temperature": "18.5",
		"esp32/control/schedule/pm/enabled":     "false",
	}
	for topic, want := range checks {
		if got, _ := bus.payload(topic); got != want {
			t.Errorf("%s: got %q, want %q", topic, got, want)
		}
	}
}

func TestPublishScheduleBusAfterDeniedWrite(t *testing.T) {
	p, store, bus := newTestPublisher(true)
	store.WriteErrors[docstore.PathSchedule] = &docstore.WriteError{
		Kind: docstore.PermissionDenied,
		Path: docstore.PathSchedule,
		Err:  errors.New("rules"),
	}

	res := p.PublishSchedule(context.Background(), validSchedule())
	if res.CloudWritten {
		t.Error("cloud write should have failed")
	}
	if !res.BusWritten {
		t.Error("bus publish must happen regardless of the document write")
	}
	if !errors.Is(res.Err, docstore.ErrPermissionDenied) {
		t.Errorf("expected permission denied in result, got %v", res.Err)
	}
	if len(bus.published) == 0 {
		t.Error("expected bus publishes")
	}
}

func TestPublishScheduleBusDisconnected(t *testing.T) {
	p, store, _ := newTestPublisher(false)

	res := p.PublishSchedule(context.Background(), validSchedule())
	if !res.CloudWritten || res.BusWritten {
		t.Errorf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err, ErrBusUnavailable) {
		t.Errorf("expected ErrBusUnavailable, got %v", res.Err)
	}
	if store.WriteCount() != 1 {
		t.Errorf("expected 1 write, got %d", store.WriteCount())
	}
}

func TestPublishTarget(t *testing.T) {
	p, store, bus := newTestPublisher(true)

	res := p.PublishTarget(context.Background(), 21.5)
	if res.Err != nil || !res.CloudWritten || !res.BusWritten {
		t.Fatalf("unexpected result %+v", res)
	}
	w, _ := store.LastWrite()
	if w.Path != docstore.PathControl {
		t.Errorf("expected write to %s, got %s", docstore.PathControl, w.Path)
	}
	if v, _ := w.Doc.Float("target_temperature"); v != 21.5 {
		t.Errorf("target_temperature: got %v", v)
	}
	if got, _ := bus.payload("esp32/control/targetTemperature"); got != "21.5" {
		t.Errorf("bus payload: got %q", got)
	}

	res = p.PublishTarget(context.Background(), 51)
	var ve *ValidationError
	if !errors.As(res.Err, &ve) {
		t.Errorf("expected ValidationError, got %v", res.Err)
	}
	if store.WriteCount() != 1 || len(bus.published) != 1 {
		t.Error("invalid target must not be sent")
	}
}

func TestPublishTargetKeepsOtherSettings(t *testing.T) {
	p, store, _ := newTestPublisher(true)
	store.Set(docstore.PathControl, docstore.Document{"control_mode": "auto", "heater_enabled": true, "target_temperature": 19.0})

	res := p.PublishTarget(context.Background(), 23)
	if res.Err != nil {
		t.Fatalf("unexpected error %v", res.Err)
	}
	w, _ := store.LastWrite()
	if v, _ := w.Doc.Float("target_temperature"); v != 23 {
		t.Errorf("target_temperature: got %v", v)
	}
	if m, _ := w.Doc.String("control_mode"); m != "auto" {
		t.Errorf("control_mode should be kept, got %q", m)
	}
	if b, ok := w.Doc.Bool("heater_enabled"); !ok || !b {
		t.Errorf("heater_enabled should be kept, got %v %v", b, ok)
	}
}

func TestPublishTargetSettingsReadFailure(t *testing.T) {
	p, store, bus := newTestPublisher(true)
	store.ReadError = errors.New("offline")

	res := p.PublishTarget(context.Background(), 21)
	if res.CloudWritten || !res.BusWritten {
		t.Errorf("unexpected result %+v", res)
	}
	if store.WriteCount() != 0 {
		t.Errorf("settings must not be overwritten blind, got %d writes", store.WriteCount())
	}
	if len(bus.published) != 1 {
		t.Errorf("expected the set-point on the bus, got %v", bus.published)
	}
}

func TestPublishMode(t *testing.T) {
	p, store, bus := newTestPublisher(true)
	store.Set(docstore.PathControl, docstore.Document{"target_temperature": 21.5})

	off := false
	res := p.PublishMode(context.Background(), ModeSettings{Mode: ModeManual, HeaterEnabled: &off})
	if res.Err != nil || !res.CloudWritten || !res.BusWritten {
		t.Fatalf("unexpected result %+v", res)
	}
	w, _ := store.LastWrite()
	if m, _ := w.Doc.String("control_mode"); m != "manual" {
		t.Errorf("control_mode: got %q", m)
	}
	if b, ok := w.Doc.Bool("heater_enabled"); !ok || b {
		t.Errorf("heater_enabled: got %v %v", b, ok)
	}
	if v, _ := w.Doc.Float("target_temperature"); v != 21.5 {
		t.Errorf("target_temperature should be kept, got %v", v)
	}
	if got, _ := bus.payload("esp32/control/mode"); got != "manual" {
		t.Errorf("bus payload: got %q", got)
	}
}

func TestPublishModeWithoutEnableFlag(t *testing.T) {
	p, store, _ := newTestPublisher(false)
	store.Set(docstore.PathControl, docstore.Document{"heater_enabled": true})

	res := p.PublishMode(context.Background(), ModeSettings{Mode: ModeAuto})
	if !res.CloudWritten || res.BusWritten || !errors.Is(res.Err, ErrBusUnavailable) {
		t.Errorf("unexpected result %+v", res)
	}
	w, _ := store.LastWrite()
	if b, _ := w.Doc.Bool("heater_enabled"); !b {
		t.Error("stored heater_enabled should be left alone")
	}
}

func TestPublishModeInvalid(t *testing.T) {
	p, store, bus := newTestPublisher(true)

	res := p.PublishMode(context.Background(), ModeSettings{Mode: "eco"})
	var ve *ValidationError
	if !errors.As(res.Err, &ve) || ve.Field != "mode" {
		t.Fatalf("expected mode ValidationError, got %v", res.Err)
	}
	if store.WriteCount() != 0 || len(bus.published) != 0 {
		t.Error("invalid mode must not be sent")
	}
}
