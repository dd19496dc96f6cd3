package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{DebugLevel, zapcore.DebugLevel},
		{InfoLevel, zapcore.InfoLevel},
		{WarnLevel, zapcore.WarnLevel},
		{ErrorLevel, zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := toZapLevel(tt.in); got != tt.want {
			t.Errorf("toZapLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewAndNamed(t *testing.T) {
	l := New(DebugLevel)
	if l.SugaredLogger == nil {
		t.Fatal("expected non-nil sugared logger")
	}
	if l.Named("mqtt").SugaredLogger == nil {
		t.Fatal("expected non-nil named logger")
	}
	Nop().Infow("discarded", "k", "v")
}
