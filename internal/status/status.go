// Package status holds the latest published device view for concurrent readers
// such as HTTP handlers and live-push connections.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
)

// Config contains service configuration for display.
type Config struct {
	Namespace  string
	Broker     string
	Store      string
	HTTPAddr   string
	StaleAfter time.Duration
}

// Snapshot is a point-in-time view of the service.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Device    reconcile.Snapshot
	Samples   int
	Version   uint64
	StartTime time.Time
	Now       time.Time
	Config    Config
}

// Uptime returns the duration since the service started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Stale reports whether the device view is older than Config.StaleAfter.
func (s Snapshot) Stale() bool {
	if s.Config.StaleAfter <= 0 {
		return false
	}
	return s.Device.Stale(s.Now, s.Config.StaleAfter)
}

// Tracker holds the latest device view behind an RWMutex. One writer (the
// session loop) publishes; any number of readers take copies.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	series []reconcile.Sample

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		subs: map[int]chan struct{}{},
	}
}

// Publish replaces the device view and wakes subscribers.
func (t *Tracker) Publish(dev reconcile.Snapshot) {
	t.mu.Lock()
	t.snap.Device = dev
	t.snap.Version++
	t.mu.Unlock()
	t.notify()
}

// PublishSeries replaces the retained history.
func (t *Tracker) PublishSeries(samples []reconcile.Sample) {
	t.mu.Lock()
	t.series = samples
	t.snap.Samples = len(samples)
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Series returns a copy of the history, oldest first.
func (t *Tracker) Series() []reconcile.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.series) == 0 {
		return nil
	}
	out := make([]reconcile.Sample, len(t.series))
	copy(out, t.series)
	return out
}

// Subscribe returns a channel that receives a signal after each Publish. Signals
// coalesce: a slow reader sees one pending wake-up, not one per publish.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (t *Tracker) Subscribers() int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return len(t.subs)
}

func (t *Tracker) notify() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
