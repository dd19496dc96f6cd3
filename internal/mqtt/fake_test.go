package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

func TestFakeBus(t *testing.T) {
	ts := topics.New("", "")
	f := NewFakeBus(ts)
	if f.Publish(ts.TargetTemperature(), "21") {
		t.Error("publish before connect should fail")
	}

	var events []reconcile.Event
	var dropped []error
	var links []reconcile.LinkState
	h := Handlers{
		OnEvent:        func(ev reconcile.Event) { events = append(events, ev) },
		OnDropped:      func(_ string, err error) { dropped = append(dropped, err) },
		OnConnectivity: func(c reconcile.BusConnectivity) { links = append(links, c.State) },
	}
	if err := f.Connect(context.Background(), Credentials{}, h); err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0] != reconcile.LinkConnected {
		t.Errorf("expected CONNECTED, got %v", links)
	}

	now := time.Now()
	f.Inject(ts.Temperature(topics.ChannelRed), "20.5", now)
	f.Inject(ts.Temperature(topics.ChannelRed), "NaN", now)
	if len(events) != 1 || len(dropped) != 1 {
		t.Fatalf("expected 1 event and 1 drop, got %d and %d", len(events), len(dropped))
	}
	if !errors.Is(dropped[0], ErrMalformedPayload) {
		t.Errorf("unexpected drop error %v", dropped[0])
	}

	if !f.Publish(ts.TargetTemperature(), "21") {
		t.Error("publish while connected should succeed")
	}
	if got := f.PublishedTo(ts.TargetTemperature()); len(got) != 1 || got[0] != "21" {
		t.Errorf("unexpected publishes %v", got)
	}

	f.Disconnect()
	if f.Publish(ts.TargetTemperature(), "22") || f.MessageCount() != 1 {
		t.Error("publish after disconnect should fail")
	}
}
