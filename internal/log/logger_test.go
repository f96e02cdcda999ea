package log

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewParsesLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := New(tt.level).GetLevel(); got != tt.want {
			t.Errorf("New(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}
}
