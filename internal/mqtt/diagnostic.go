package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultCheckTimeout bounds how long Check waits for its echo.
const DefaultCheckTimeout = 5 * time.Second

// ErrNotConnected is reported by Check when there is no live session.
var ErrNotConnected = errors.New("mqtt not connected")

// Diagnostic is the result of a bus connection check.
type Diagnostic struct {
	Success   bool
	Error     string
	Broker    string
	Connected bool
	// LastError is the most recent connect or connection-lost failure.
	LastError string
	RoundTrip time.Duration
	CheckedAt time.Time
}

// Check publishes a nonce on the ping topic and waits for the broker to
// deliver it back. It never reconnects.
func (a *Adapter) Check(ctx context.Context) Diagnostic {
	d := Diagnostic{CheckedAt: a.now()}
	a.mu.Lock()
	b := a.broker
	d.Broker = a.creds.Broker
	if a.lastErr != nil {
		d.LastError = a.lastErr.Error()
	}
	a.mu.Unlock()

	if b == nil || !b.IsConnected() {
		d.Error = ErrNotConnected.Error()
		return d
	}
	d.Connected = true

	nonce := uuid.NewString()
	echo := make(chan struct{})
	a.mu.Lock()
	if a.pending == nil {
		a.pending = map[string]chan struct{}{}
	}
	a.pending[nonce] = echo
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, nonce)
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, a.opts.CheckTimeout)
	defer cancel()
	start := time.Now()
	if !b.Publish(a.opts.Topics.Ping(), nonce) {
		d.Error = "publish refused"
		return d
	}
	select {
	case <-echo:
		d.Success = true
		d.RoundTrip = time.Since(start)
	case <-ctx.Done():
		d.Error = "no echo from broker: " + ctx.Err().Error()
	}
	return d
}

// resolveEcho completes the Check waiting on nonce, if any.
func (a *Adapter) resolveEcho(nonce string) {
	a.mu.Lock()
	ch, ok := a.pending[nonce]
	delete(a.pending, nonce)
	a.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (a *Adapter) setLastErr(gen uint64, err error) {
	a.mu.Lock()
	if a.gen == gen {
		a.lastErr = err
	}
	a.mu.Unlock()
}
