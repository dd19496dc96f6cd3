package docstore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDocumentFloatLenient(t *testing.T) {
	doc := Document{
		"f64":   21.5,
		"int":   int64(-70),
		"str":   " 22.25 ",
		"num":   json.Number("19.5"),
		"nan":   "NaN",
		"empty": "",
		"bool":  true,
		"nil":   nil,
	}
	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{"f64", 21.5, true},
		{"int", -70, true},
		{"str", 22.25, true},
		{"num", 19.5, true},
		{"nan", 0, false},
		{"empty", 0, false},
		{"bool", 0, false},
		{"nil", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := doc.Float(tt.key)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Float(%q): got (%v, %v), want (%v, %v)", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDocumentBool(t *testing.T) {
	doc := Document{"a": true, "b": "1", "c": "false", "d": 0.0, "e": "maybe", "f": 3}
	tests := []struct {
		key        string
		want, okay bool
	}{
		{"a", true, true},
		{"b", true, true},
		{"c", false, true},
		{"d", false, true},
		{"e", false, false},
		{"f", false, false},
		{"missing", false, false},
	}
	for _, tt := range tests {
		got, ok := doc.Bool(tt.key)
		if got != tt.want || ok != tt.okay {
			t.Errorf("Bool(%q): got (%v, %v), want (%v, %v)", tt.key, got, ok, tt.want, tt.okay)
		}
	}
}

func TestDocumentString(t *testing.T) {
	doc := Document{"s": "CONNECTED", "n": 12.0, "b": false}
	if s, _ := doc.String("s"); s != "CONNECTED" {
		t.Errorf("s: got %q", s)
	}
	if s, _ := doc.String("n"); s != "12" {
		t.Errorf("n: got %q", s)
	}
	if s, _ := doc.String("b"); s != "false" {
		t.Errorf("b: got %q", s)
	}
	if _, ok := doc.String("missing"); ok {
		t.Error("expected missing key to be unknown")
	}
}

func TestDocumentTime(t *testing.T) {
	doc := Document{"sec": 1700000000, "ms": 1700000000123.0, "zero": 0, "bad": "soon"}
	if ts, ok := doc.Time("sec"); !ok || !ts.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("sec: got %v %v", ts, ok)
	}
	if ts, ok := doc.Time("ms"); !ok || !ts.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("ms: got %v %v", ts, ok)
	}
	if _, ok := doc.Time("zero"); ok {
		t.Error("zero timestamp should be unknown")
	}
	if _, ok := doc.Time("bad"); ok {
		t.Error("unparseable timestamp should be unknown")
	}
}

func TestDocumentSubAndClone(t *testing.T) {
	doc := Document{"temperature": map[string]any{"red": 20.0}}
	sub, ok := doc.Sub("temperature")
	if !ok {
		t.Fatal("expected nested document")
	}
	if v, _ := sub.Float("red"); v != 20 {
		t.Errorf("red: got %v", v)
	}

	cp := doc.Clone()
	nested, _ := cp.Sub("temperature")
	nested["red"] = 99.0
	if v, _ := sub.Float("red"); v != 20 {
		t.Errorf("clone shares nested map: got %v", v)
	}
}

func TestSplitPath(t *testing.T) {
	c, id, err := SplitPath("/control/schedule/")
	if err != nil || c != "control" || id != "schedule" {
		t.Errorf("got (%q, %q, %v)", c, id, err)
	}
	for _, bad := range []string{"", "control", "a/b/c", "/x"} {
		if _, _, err := SplitPath(bad); err == nil {
			t.Errorf("SplitPath(%q): expected error", bad)
		}
	}
}
