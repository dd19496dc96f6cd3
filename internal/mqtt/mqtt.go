// Package mqtt is the message-bus adapter: one broker session, a fixed topic
// subscription, typed parsing of inbound messages and fire-and-forget publish.
// Reconnection is driven here rather than by the client library so the number
// of consecutive failures can be capped.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/heater-dashboard/internal/logger"
	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// Defaults for Options.
const (
	DefaultRetryInterval  = 5 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultKeepAlive      = 60 * time.Second
	DefaultMaxAttempts    = 5
	DefaultClientIDPrefix = "heater-dashboard"
)

var (
	// ErrConnect wraps a failed connection attempt.
	ErrConnect = errors.New("mqtt connect failed")
	// ErrRetriesExhausted is terminal: no automatic retry follows it.
	ErrRetriesExhausted = errors.New("mqtt retries exhausted")
	// ErrNoBroker is returned by Connect when no broker URL is configured.
	ErrNoBroker = errors.New("mqtt broker url is empty")
)

// Credentials identify the broker and the account to use.
type Credentials struct {
	Broker   string
	Username string
	Password string
}

// Handlers receive everything the adapter produces. Any of them may be nil.
// They are called from adapter goroutines and must not block for long.
type Handlers struct {
	OnEvent        func(reconcile.Event)
	OnConnectivity func(reconcile.BusConnectivity)
	OnError        func(error)
	// OnDropped is told about inbound messages that failed to parse.
	OnDropped func(topic string, err error)
}

// Options tune the session.
type Options struct {
	Topics         topics.Set
	ClientIDPrefix string
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxAttempts    int
	CheckTimeout   time.Duration
}

func (o *Options) applyDefaults() {
	if o.Topics.Namespace == "" {
		o.Topics = topics.New("", "")
	}
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = DefaultClientIDPrefix
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = DefaultCheckTimeout
	}
}

// broker is one client connection. The real implementation wraps paho.
type broker interface {
	Connect(timeout time.Duration) error
	Subscribe(topics []string, handler func(topic string, payload []byte)) error
	Publish(topic, payload string) bool
	IsConnected() bool
	Disconnect()
}

type brokerConfig struct {
	Credentials
	ClientID         string
	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	OnConnectionLost func(error)
}

type dialer func(cfg brokerConfig) broker

// Adapter owns at most one live broker session. Each Connect starts a new
// generation; callbacks from older generations are dropped.
type Adapter struct {
	opts Options
	log  *logger.Logger
	dial dialer
	now  func() time.Time

	mu       sync.Mutex
	gen      uint64
	creds    Credentials
	handlers Handlers
	broker   broker
	cancel   context.CancelFunc
	lastErr  error
	pending  map[string]chan struct{}
}

// New creates an adapter backed by a real broker connection.
func New(opts Options, log *logger.Logger) *Adapter {
	return newAdapter(opts, log, dialPaho(log))
}

func newAdapter(opts Options, log *logger.Logger, dial dialer) *Adapter {
	opts.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{opts: opts, log: log, dial: dial, now: time.Now}
}

// Connect starts a session in the background, replacing any previous one.
// Progress and failures arrive through h.
func (a *Adapter) Connect(ctx context.Context, creds Credentials, h Handlers) error {
	if creds.Broker == "" {
		return ErrNoBroker
	}
	a.mu.Lock()
	old := a.stopLocked()
	a.creds, a.handlers = creds, h
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	gen := a.gen
	a.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	go a.run(runCtx, gen)
	return nil
}

// Reconnect restarts the session with the last credentials, clearing any
// exhausted retry budget.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	creds, h := a.creds, a.handlers
	a.mu.Unlock()
	return a.Connect(ctx, creds, h)
}

// Disconnect ends the session. Safe to call repeatedly and while a connection
// attempt is in flight; nothing from the old session is delivered afterwards.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	b := a.stopLocked()
	a.mu.Unlock()
	if b != nil {
		b.Disconnect()
	}
}

// stopLocked bumps the generation and detaches the current broker.
func (a *Adapter) stopLocked() broker {
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	b := a.broker
	a.broker = nil
	return b
}

// Publish hands a QoS 0 message to the broker. It returns false at once when
// there is no live connection.
func (a *Adapter) Publish(topic, payload string) bool {
	a.mu.Lock()
	b := a.broker
	a.mu.Unlock()
	if b == nil || !b.IsConnected() {
		return false
	}
	return b.Publish(topic, payload)
}

// Connected reports whether a session is currently up.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	b := a.broker
	a.mu.Unlock()
	return b != nil && b.IsConnected()
}

func (a *Adapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

func (a *Adapter) handlersFor(gen uint64) (Handlers, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handlers, a.gen == gen
}

func (a *Adapter) emitConnectivity(gen uint64, state reconcile.LinkState, terminal bool, err error) {
	h, ok := a.handlersFor(gen)
	if !ok || h.OnConnectivity == nil {
		return
	}
	h.OnConnectivity(reconcile.BusConnectivity{State: state, Terminal: terminal, Err: err, At: a.now()})
}

func (a *Adapter) emitError(gen uint64, err error) {
	h, ok := a.handlersFor(gen)
	if !ok || h.OnError == nil {
		return
	}
	h.OnError(err)
}

func (a *Adapter) handleMessage(gen uint64, topic string, payload []byte) {
	h, ok := a.handlersFor(gen)
	if !ok {
		return
	}
	if topic == a.opts.Topics.Ping() {
		a.resolveEcho(string(payload))
		return
	}
	ev, err := Parse(a.opts.Topics, topic, payload, a.now())
	if err != nil {
		a.log.Debugw("Dropping message", "topic", topic, "payload", string(payload), "error", err)
		if h.OnDropped != nil {
			h.OnDropped(topic, err)
		}
		return
	}
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

func (a *Adapter) clientID() string {
	return a.opts.ClientIDPrefix + "-" + uuid.NewString()[:8]
}

// run drives one generation: connect, subscribe, wait for loss, retry.
func (a *Adapter) run(ctx context.Context, gen uint64) {
	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()

	failures := 0
	for {
		if ctx.Err() != nil || !a.current(gen) {
			return
		}
		a.emitConnectivity(gen, reconcile.LinkConnecting, false, nil)

		lost := make(chan error, 1)
		b := a.dial(brokerConfig{
			Credentials:    creds,
			ClientID:       a.clientID(),
			KeepAlive:      a.opts.KeepAlive,
			ConnectTimeout: a.opts.ConnectTimeout,
			OnConnectionLost: func(err error) {
				select {
				case lost <- err:
				default:
				}
			},
		})

		err := a.establish(gen, b)
		if err != nil {
			failures++
			a.setLastErr(gen, err)
			a.log.Warnw("MQTT connect failed", "broker", creds.Broker, "attempt", failures, "error", err)
			a.emitError(gen, err)
			if failures >= a.opts.MaxAttempts {
				a.log.Errorw("MQTT retries exhausted", "broker", creds.Broker, "attempts", failures)
				a.emitConnectivity(gen, reconcile.LinkError, true, ErrRetriesExhausted)
				a.emitError(gen, ErrRetriesExhausted)
				return
			}
			a.emitConnectivity(gen, reconcile.LinkError, false, err)
			if !a.sleep(ctx, a.opts.RetryInterval) {
				return
			}
			continue
		}

		if !a.attach(gen, b) {
			b.Disconnect()
			return
		}
		failures = 0
		a.setLastErr(gen, nil)
		a.log.Infow("MQTT connected", "broker", creds.Broker)
		a.emitConnectivity(gen, reconcile.LinkConnected, false, nil)

		select {
		case <-ctx.Done():
			a.detach(gen, b)
			return
		case err := <-lost:
			a.detach(gen, b)
			if err == nil {
				err = errors.New("connection lost")
			}
			a.setLastErr(gen, err)
			a.log.Warnw("MQTT connection lost", "broker", creds.Broker, "error", err)
			a.emitConnectivity(gen, reconcile.LinkError, false, err)
			a.emitError(gen, err)
			if !a.sleep(ctx, a.opts.RetryInterval) {
				return
			}
		}
	}
}

func (a *Adapter) establish(gen uint64, b broker) error {
	if err := b.Connect(a.opts.ConnectTimeout); err != nil {
		// a timed-out attempt may still complete in the background
		b.Disconnect()
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	handler := func(topic string, payload []byte) {
		a.handleMessage(gen, topic, payload)
	}
	subs := append(a.opts.Topics.Subscriptions(), a.opts.Topics.Ping())
	if err := b.Subscribe(subs, handler); err != nil {
		b.Disconnect()
		return fmt.Errorf("%w: subscribe: %v", ErrConnect, err)
	}
	return nil
}

func (a *Adapter) attach(gen uint64, b broker) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return false
	}
	a.broker = b
	return true
}

func (a *Adapter) detach(gen uint64, b broker) {
	a.mu.Lock()
	if a.gen == gen && a.broker == b {
		a.broker = nil
	}
	a.mu.Unlock()
	b.Disconnect()
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
