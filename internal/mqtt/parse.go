package mqtt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
	"github.com/sweeney/heater-dashboard/internal/topics"
)

var (
	// ErrMalformedPayload marks a message whose payload does not fit its topic.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownTopic marks a message on a topic outside the contract.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Parse turns one inbound message into an event. It fails closed: anything it
// cannot decode exactly is an error, never a guess.
func Parse(ts topics.Set, topic string, payload []byte, at time.Time) (reconcile.Event, error) {
	text := strings.TrimSpace(string(payload))

	for _, ch := range topics.Channels {
		if topic == ts.Temperature(ch) {
			v, err := parseNumber(text)
			if err != nil {
				return nil, err
			}
			return reconcile.TemperatureReading{Channel: ch, Value: v, At: at}, nil
		}
	}

	switch topic {
	case ts.Heater():
		state, ok := reconcile.ParseHeaterState(text)
		if !ok {
			return nil, fmt.Errorf("%w: heater state %q", ErrMalformedPayload, text)
		}
		return reconcile.HeaterStatus{State: state, At: at}, nil

	case ts.RSSI():
		v, err := parseNumber(text)
		if err != nil {
			return nil, err
		}
		return reconcile.LinkTelemetry{Field: reconcile.FieldRSSI, Value: v, At: at}, nil

	case ts.Uptime():
		v, err := parseUptime(text)
		if err != nil {
			return nil, err
		}
		return reconcile.LinkTelemetry{Field: reconcile.FieldUptime, Value: v, At: at}, nil

	case ts.Wifi():
		if text == "" {
			return nil, fmt.Errorf("%w: empty wifi status", ErrMalformedPayload)
		}
		return reconcile.LinkTelemetry{Field: reconcile.FieldWifi, Text: text, At: at}, nil

	case ts.TargetTemperature():
		v, err := parseNumber(text)
		if err != nil {
			return nil, err
		}
		return reconcile.TargetTemperature{Value: v, At: at}, nil

	case ts.Presence():
		switch strings.ToLower(text) {
		case "online":
			return reconcile.Presence{Online: true, At: at}, nil
		case "offline":
			return reconcile.Presence{Online: false, At: at}, nil
		}
		return nil, fmt.Errorf("%w: presence %q", ErrMalformedPayload, text)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", ErrMalformedPayload)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: number %q", ErrMalformedPayload, s)
	}
	return v, nil
}

// parseUptime accepts whole seconds or HH:MM:SS (hours may exceed 24).
func parseUptime(s string) (float64, error) {
	if !strings.Contains(s, ":") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: uptime %q", ErrMalformedPayload, s)
		}
		return float64(n), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: uptime %q", ErrMalformedPayload, s)
	}
	var fields [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, fmt.Errorf("%w: uptime %q", ErrMalformedPayload, s)
		}
		fields[i] = n
	}
	return float64(fields[0]*3600 + fields[1]*60 + fields[2]), nil
}
