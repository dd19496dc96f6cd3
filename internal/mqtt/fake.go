package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// Published is one message recorded by FakeBus.
type Published struct {
	Topic   string
	Payload string
}

// FakeBus stands in for Adapter in consumer tests. Inject drives the handlers
// the same way a broker message would.
type FakeBus struct {
	mu        sync.Mutex
	topics    topics.Set
	handlers  Handlers
	connected bool

	// ConnectError, if set, is returned by Connect.
	ConnectError error
	// ConnectCalls counts Connect and Reconnect calls.
	ConnectCalls int
	// Disconnects counts Disconnect calls.
	Disconnects int
	// Messages records every accepted publish.
	Messages []Published
	// CheckError, if set, fails Check while connected.
	CheckError error
}

// NewFakeBus creates a disconnected FakeBus for the given topic layout.
func NewFakeBus(ts topics.Set) *FakeBus {
	return &FakeBus{topics: ts}
}

// Connect stores the handlers and reports the bus as connected.
func (f *FakeBus) Connect(ctx context.Context, creds Credentials, h Handlers) error {
	f.mu.Lock()
	f.ConnectCalls++
	if f.ConnectError != nil {
		err := f.ConnectError
		f.mu.Unlock()
		return err
	}
	f.handlers = h
	f.mu.Unlock()
	f.SetConnected(true)
	return nil
}

// Reconnect behaves like Connect with the stored handlers.
func (f *FakeBus) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	return f.Connect(ctx, Credentials{}, h)
}

// Disconnect marks the bus as down without notifying handlers.
func (f *FakeBus) Disconnect() {
	f.mu.Lock()
	f.Disconnects++
	f.connected = false
	f.mu.Unlock()
}

// Publish records the message when connected.
func (f *FakeBus) Publish(topic, payload string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.Messages = append(f.Messages, Published{Topic: topic, Payload: payload})
	return true
}

// Check succeeds while connected unless CheckError is set.
func (f *FakeBus) Check(ctx context.Context) Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := Diagnostic{Connected: f.connected, CheckedAt: time.Now()}
	switch {
	case !f.connected:
		d.Error = ErrNotConnected.Error()
	case f.CheckError != nil:
		d.Error = f.CheckError.Error()
	default:
		d.Success = true
	}
	return d
}

// SetConnected changes the link state and reports it to OnConnectivity.
func (f *FakeBus) SetConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	h := f.handlers
	f.mu.Unlock()
	state := reconcile.LinkConnected
	if !up {
		state = reconcile.LinkError
	}
	if h.OnConnectivity != nil {
		h.OnConnectivity(reconcile.BusConnectivity{State: state, At: time.Now()})
	}
}

// Inject parses a message as if it arrived from the broker.
func (f *FakeBus) Inject(topic, payload string, at time.Time) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	ev, err := Parse(f.topics, topic, []byte(payload), at)
	if err != nil {
		if h.OnDropped != nil {
			h.OnDropped(topic, err)
		}
		return
	}
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

// PublishedTo returns the payloads sent to topic, in order.
func (f *FakeBus) PublishedTo(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// MessageCount returns the number of recorded publishes.
func (f *FakeBus) MessageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}
