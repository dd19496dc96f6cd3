// Package control validates user edits and fans them out to the document store
// and the message bus. The two writes are independent: neither is rolled back
// when the other fails.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/logger"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

// ErrBusUnavailable is reported when the bus refused a publish.
var ErrBusUnavailable = errors.New("message bus not connected")

// Store is the document-store side of a publish.
type Store interface {
	ReadOnce(ctx context.Context, path string) (docstore.Document, bool, error)
	Write(ctx context.Context, path string, doc docstore.Document) error
}

// Bus is the message-bus side of a publish. Publish returns false when the
// message could not be handed to the broker.
type Bus interface {
	Publish(topic, payload string) bool
}

// PublishResult says which halves succeeded. Err joins the failures.
type PublishResult struct {
	CloudWritten bool
	BusWritten   bool
	Err          error
}

// Publisher sends schedules and set-points to both transports.
type Publisher struct {
	store  Store
	bus    Bus
	topics topics.Set
	log    *logger.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(store Store, bus Bus, ts topics.Set, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{store: store, bus: bus, topics: ts, log: log, now: time.Now}
}

// PublishSchedule validates s, writes it to control/schedule and publishes it
// on the bus whatever the write outcome. Nothing is sent when validation fails.
func (p *Publisher) PublishSchedule(ctx context.Context, s Schedule) PublishResult {
	if err := s.Validate(); err != nil {
		return PublishResult{Err: err}
	}

	var res PublishResult
	cloudErr := p.write(ctx, docstore.PathSchedule, s.Document(p.now()))
	res.CloudWritten = cloudErr == nil

	busErr := p.publishSchedule(s)
	res.BusWritten = busErr == nil

	res.Err = errors.Join(cloudErr, busErr)
	p.log.Infow("Schedule published",
		"cloud", res.CloudWritten,
		"bus", res.BusWritten,
		"am", s.AM.Time,
		"pm", s.PM.Time,
	)
	return res
}

// PublishTarget validates v, writes control/settings and publishes the set-point.
func (p *Publisher) PublishTarget(ctx context.Context, v float64) PublishResult {
	if err := ValidateTemperature("targetTemperature", v); err != nil {
		return PublishResult{Err: err}
	}

	var res PublishResult
	cloudErr := p.writeSettings(ctx, docstore.Document{
		"target_temperature": v,
		"updated_at":         p.now().Unix(),
	})
	res.CloudWritten = cloudErr == nil

	var busErr error
	if !p.bus.Publish(p.topics.TargetTemperature(), formatFloat(v)) {
		busErr = ErrBusUnavailable
	}
	res.BusWritten = busErr == nil

	res.Err = errors.Join(cloudErr, busErr)
	p.log.Infow("Target temperature published", "value", v, "cloud", res.CloudWritten, "bus", res.BusWritten)
	return res
}

// PublishMode validates m, merges it into control/settings and publishes the
// mode on the bus. The heater enable flag only lives in the document.
func (p *Publisher) PublishMode(ctx context.Context, m ModeSettings) PublishResult {
	if err := m.Validate(); err != nil {
		return PublishResult{Err: err}
	}

	patch := docstore.Document{
		"control_mode": string(m.Mode),
		"updated_at":   p.now().Unix(),
	}
	if m.HeaterEnabled != nil {
		patch["heater_enabled"] = *m.HeaterEnabled
	}

	var res PublishResult
	cloudErr := p.writeSettings(ctx, patch)
	res.CloudWritten = cloudErr == nil

	var busErr error
	if !p.bus.Publish(p.topics.Mode(), string(m.Mode)) {
		busErr = ErrBusUnavailable
	}
	res.BusWritten = busErr == nil

	res.Err = errors.Join(cloudErr, busErr)
	p.log.Infow("Control mode published", "mode", m.Mode, "cloud", res.CloudWritten, "bus", res.BusWritten)
	return res
}

// writeSettings merges patch over the stored control/settings document so the
// set-point and the mode do not overwrite each other.
func (p *Publisher) writeSettings(ctx context.Context, patch docstore.Document) error {
	cur, _, err := p.store.ReadOnce(ctx, docstore.PathControl)
	if err != nil {
		p.log.Warnw("Settings read failed", "path", docstore.PathControl, "error", err)
		return fmt.Errorf("read %s: %w", docstore.PathControl, err)
	}
	doc := cur.Clone()
	if doc == nil {
		doc = docstore.Document{}
	}
	for k, v := range patch {
		doc[k] = v
	}
	return p.write(ctx, docstore.PathControl, doc)
}

func (p *Publisher) write(ctx context.Context, path string, doc docstore.Document) error {
	err := p.store.Write(ctx, path, doc)
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrPermissionDenied) {
		p.log.Errorw("Document write denied", "path", path, "error", err)
	} else {
		p.log.Warnw("Document write failed", "path", path, "retryable", docstore.Retryable(err), "error", err)
	}
	return err
}

// publishSchedule sends the JSON message, then the flattened scalars. It stops
// at the first refused publish.
func (p *Publisher) publishSchedule(s Schedule) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	msgs := [][2]string{{p.topics.Schedule(), string(body)}}
	for _, period := range []string{topics.PeriodAM, topics.PeriodPM} {
		r := s.Rule(period)
		msgs = append(msgs,
			[2]string{p.topics.ScheduleField(period, "time"), r.Time},
			[2]string{p.topics.ScheduleField(period, "temperature"), formatFloat(r.Temperature)},
			[2]string{p.topics.ScheduleField(period, "enabled"), strconv.FormatBool(r.Enabled)},
		)
	}
	for _, m := range msgs {
		if !p.bus.Publish(m[0], m[1]) {
			return ErrBusUnavailable
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
