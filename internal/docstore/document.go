package docstore

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Document is a structured value stored at a path. Field access is lenient:
// numbers may arrive as any numeric type or a numeric string, and absent or
// unparseable fields are reported as unknown rather than zero.
type Document map[string]any

// Float returns the numeric value of key.
func (d Document) Float(key string) (float64, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

// String returns the value of key as a string. Numbers and booleans are formatted.
func (d Document) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	}
	return "", false
}

// Bool returns the value of key as a boolean. Accepts true/false, 1/0 and their string forms.
func (d Document) Bool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return false, false
	}
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return false, false
		}
		switch f {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}

// Sub returns a nested document.
func (d Document) Sub(key string) (Document, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	switch x := v.(type) {
	case Document:
		return x, true
	case map[string]any:
		return Document(x), true
	}
	return nil, false
}

// Time interprets key as an epoch timestamp. Values above 1e12 are taken as
// milliseconds, everything else as seconds.
func (d Document) Time(key string) (time.Time, bool) {
	f, ok := d.Float(key)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Clone returns a deep copy of nested documents and maps; leaf values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		switch x := v.(type) {
		case Document:
			out[k] = x.Clone()
		case map[string]any:
			out[k] = Document(x).Clone()
		default:
			out[k] = v
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
