// Package session runs one reconciliation engine per process: it connects both
// transports, feeds their events through a single loop goroutine and publishes
// the folded view to the status tracker.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/logger"
	"github.com/sweeney/heater-dashboard/internal/metrics"
	"github.com/sweeney/heater-dashboard/internal/mqtt"
	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/status"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// DefaultQueueSize is the event buffer between the adapters and the loop.
const DefaultQueueSize = 256

var (
	// ErrNotRunning is returned by operations that need Run to be active.
	ErrNotRunning = errors.New("session not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session already running")
)

// Bus is the message-bus adapter as the session uses it.
type Bus interface {
	Connect(ctx context.Context, creds mqtt.Credentials, h mqtt.Handlers) error
	Reconnect(ctx context.Context) error
	Disconnect()
	Publish(topic, payload string) bool
	Check(ctx context.Context) mqtt.Diagnostic
}

// Config holds the settings a session needs.
type Config struct {
	Topics      topics.Set
	Credentials mqtt.Credentials
	HistorySize int
	QueueSize   int
}

// Deps are the collaborators a session drives. Metrics and Log may be nil.
type Deps struct {
	Bus     Bus
	Store   docstore.Store
	Tracker *status.Tracker
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

type item struct {
	ev   reconcile.Event
	done chan struct{}
}

// Session owns the engine. Only the loop goroutine touches it.
type Session struct {
	cfg       Config
	bus       Bus
	store     docstore.Store
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	log       *logger.Logger
	publisher *control.Publisher
	engine    *reconcile.Engine
	now       func() time.Time

	queue   chan item
	stopped chan struct{}

	mu          sync.Mutex
	running     bool
	runCtx      context.Context
	storeGen    uint64
	storeCancel context.CancelFunc
	unsubs      []docstore.Unsubscribe
}

// New creates a session. Nothing connects until Run.
func New(cfg Config, deps Deps) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("session")
	return &Session{
		cfg:       cfg,
		bus:       deps.Bus,
		store:     deps.Store,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		log:       log,
		publisher: control.NewPublisher(deps.Store, deps.Bus, cfg.Topics, log),
		engine:    reconcile.New(cfg.HistorySize),
		now:       time.Now,
		queue:     make(chan item, cfg.QueueSize),
		stopped:   make(chan struct{}),
	}
}

// Run connects both transports and folds events until ctx is done. Both
// adapters are torn down before it returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.runCtx = ctx
	s.mu.Unlock()
	defer close(s.stopped)

	s.publish(false)

	if err := s.bus.Connect(ctx, s.cfg.Credentials, s.busHandlers()); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	s.startStore()

	s.log.Infow("Session started", "namespace", s.cfg.Topics.Namespace, "broker", s.cfg.Credentials.Broker)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case it := <-s.queue:
			if it.ev != nil {
				s.fold(it.ev)
			}
			if it.done != nil {
				close(it.done)
			}
		}
	}
}

func (s *Session) shutdown() {
	s.bus.Disconnect()
	s.mu.Lock()
	s.storeGen++
	unsubs, cancel := s.unsubs, s.storeCancel
	s.unsubs, s.storeCancel = nil, nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	s.log.Infow("Session stopped")
}

// Submit queues an event for the loop. It blocks while the queue is full and
// gives up once the session has stopped.
func (s *Session) Submit(ev reconcile.Event) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.queue <- item{ev: ev}:
		return true
	case <-s.stopped:
		s.log.Debugw("Dropping event after shutdown", "event", eventKind(ev))
		return false
	}
}

// flush waits until everything queued before it has been folded.
func (s *Session) flush() bool {
	done := make(chan struct{})
	select {
	case s.queue <- item{done: done}:
	case <-s.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) fold(ev reconcile.Event) {
	out := s.engine.Apply(ev)
	kind := eventKind(ev)
	if s.metrics != nil {
		s.metrics.ObserveOutcome(kind, out)
	}
	if out.Rejected {
		s.log.Debugw("Event rejected", "event", kind, "reason", out.Reason)
		return
	}
	if out.Reboot {
		s.log.Infow("Device reboot detected")
	}
	if out.Applied {
		s.publish(out.Appended)
	}
}

func (s *Session) publish(series bool) {
	snap := s.engine.Snapshot()
	if s.tracker != nil {
		if series {
			s.tracker.PublishSeries(s.engine.History())
		}
		s.tracker.Publish(snap)
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(snap, s.engine.HistoryLen(), s.engine.HistoryEvicted())
	}
}

func (s *Session) busHandlers() mqtt.Handlers {
	return mqtt.Handlers{
		OnEvent: func(ev reconcile.Event) { s.Submit(ev) },
		OnConnectivity: func(ev reconcile.BusConnectivity) {
			if ev.State == reconcile.LinkError {
				s.log.Warnw("Bus link error", "terminal", ev.Terminal, "error", ev.Err)
			}
			s.Submit(ev)
		},
		OnError: func(err error) {
			s.log.Warnw("Bus error", "error", err)
		},
		OnDropped: func(topic string, err error) {
			if s.metrics == nil {
				return
			}
			reason := "unknown_topic"
			if errors.Is(err, mqtt.ErrMalformedPayload) {
				reason = "malformed"
			}
			s.metrics.Dropped(reason)
		},
	}
}

// startStore begins a new store generation in its own goroutine so the loop
// never waits on authentication or watch setup.
func (s *Session) startStore() {
	s.mu.Lock()
	s.storeGen++
	gen := s.storeGen
	ctx, cancel := context.WithCancel(s.runCtx)
	s.storeCancel = cancel
	s.mu.Unlock()
	go s.runStore(ctx, gen)
}

func (s *Session) storeCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeGen == gen
}

func (s *Session) addUnsub(gen uint64, u docstore.Unsubscribe) {
	s.mu.Lock()
	if s.storeGen != gen {
		s.mu.Unlock()
		u()
		return
	}
	s.unsubs = append(s.unsubs, u)
	s.mu.Unlock()
}

func (s *Session) cloud(gen uint64, state reconcile.LinkState, err error) {
	if !s.storeCurrent(gen) {
		return
	}
	s.Submit(reconcile.CloudConnectivity{State: state, Err: err, At: s.now()})
}

func (s *Session) runStore(ctx context.Context, gen uint64) {
	s.cloud(gen, reconcile.LinkConnecting, nil)

	id, err := s.store.Authenticate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Errorw("Document store authentication failed", "error", err)
		s.cloud(gen, reconcile.LinkError, err)
		return
	}
	if !s.storeCurrent(gen) {
		return
	}
	s.log.Infow("Document store authenticated", "uid", id.UID, "anonymous", id.Anonymous)
	s.cloud(gen, reconcile.LinkConnected, nil)

	for _, path := range docstore.WatchedPaths {
		onChange := func(doc docstore.Document, ok bool) {
			if !s.storeCurrent(gen) {
				return
			}
			s.Submit(reconcile.DocumentChanged{Path: path, Doc: doc, Ok: ok, At: s.now()})
		}
		onError := func(err error) {
			if err == nil {
				s.log.Infow("Watch recovered", "path", path)
				s.cloud(gen, reconcile.LinkConnected, nil)
				return
			}
			s.log.Warnw("Watch failed", "path", path, "error", err)
			s.cloud(gen, reconcile.LinkError, err)
		}
		unsub, err := s.store.Watch(ctx, path, onChange, onError)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorw("Watch setup failed", "path", path, "error", err)
			s.cloud(gen, reconcile.LinkError, err)
			continue
		}
		s.addUnsub(gen, unsub)
	}
}

// Reconnect tears down both transports and starts them again. It also clears
// an exhausted bus retry budget. The new connections live as long as Run, not ctx.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	running := s.running && s.runCtx != nil && s.runCtx.Err() == nil
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if s.metrics != nil {
		s.metrics.Reconnect()
	}
	s.log.Infow("Reconnecting")

	s.mu.Lock()
	unsubs, cancel := s.unsubs, s.storeCancel
	s.unsubs, s.storeCancel = nil, nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	s.startStore()

	if err := s.bus.Reconnect(s.runCtx); err != nil {
		return fmt.Errorf("reconnect bus: %w", err)
	}
	return nil
}

// SetTargetTemperature applies the set-point locally, then writes it to both
// transports. Invalid values change nothing.
func (s *Session) SetTargetTemperature(ctx context.Context, v float64) control.PublishResult {
	if err := control.ValidateTemperature("targetTemperature", v); err != nil {
		return control.PublishResult{Err: err}
	}
	s.Submit(reconcile.LocalTargetTemperature{Value: v, At: s.now()})
	res := s.publisher.PublishTarget(ctx, v)
	s.countWrites(res)
	return res
}

// PublishSchedule applies the schedule locally, then writes it to both
// transports. Invalid schedules change nothing.
func (s *Session) PublishSchedule(ctx context.Context, sched control.Schedule) control.PublishResult {
	if err := sched.Validate(); err != nil {
		return control.PublishResult{Err: err}
	}
	s.Submit(reconcile.LocalSchedule{Schedule: sched, At: s.now()})
	res := s.publisher.PublishSchedule(ctx, sched)
	s.countWrites(res)
	return res
}

// PublishMode applies the control mode locally, then writes it to both
// transports. Invalid modes change nothing.
func (s *Session) PublishMode(ctx context.Context, m control.ModeSettings) control.PublishResult {
	if err := m.Validate(); err != nil {
		return control.PublishResult{Err: err}
	}
	s.Submit(reconcile.LocalMode{Settings: m, At: s.now()})
	res := s.publisher.PublishMode(ctx, m)
	s.countWrites(res)
	return res
}

// CheckBus runs a round-trip check on the live bus session.
func (s *Session) CheckBus(ctx context.Context) mqtt.Diagnostic {
	d := s.bus.Check(ctx)
	if !d.Success {
		s.log.Warnw("Bus check failed", "error", d.Error, "last_error", d.LastError)
	}
	return d
}

func (s *Session) countWrites(res control.PublishResult) {
	if res.Err != nil {
		s.log.Warnw("Publish incomplete", "cloud", res.CloudWritten, "bus", res.BusWritten, "error", res.Err)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.Write("store", res.CloudWritten)
	s.metrics.Write("bus", res.BusWritten)
}

// ReadSchedule fetches the stored schedule directly from the document store.
func (s *Session) ReadSchedule(ctx context.Context) (control.Schedule, bool, error) {
	doc, ok, err := s.store.ReadOnce(ctx, docstore.PathSchedule)
	if err != nil {
		return control.Schedule{}, false, fmt.Errorf("read schedule: %w", err)
	}
	if !ok {
		return control.Schedule{}, false, nil
	}
	sched, ok := control.ScheduleFromDocument(doc)
	return sched, ok, nil
}

func eventKind(ev reconcile.Event) string {
	switch ev.(type) {
	case reconcile.TemperatureReading:
		return "temperature"
	case reconcile.HeaterStatus:
		return "heater"
	case reconcile.TargetTemperature:
		return "target"
	case reconcile.LinkTelemetry:
		return "telemetry"
	case reconcile.Presence:
		return "presence"
	case reconcile.BusConnectivity:
		return "bus_link"
	case reconcile.CloudConnectivity:
		return "cloud_link"
	case reconcile.DocumentChanged:
		return "document"
	case reconcile.LocalTargetTemperature:
		return "local_target"
	case reconcile.LocalSchedule:
		return "local_schedule"
	case reconcile.LocalMode:
		return "local_mode"
	}
	return "unknown"
}
