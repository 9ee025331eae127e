package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{"info", "json", false, zapcore.InfoLevel},
		{"DEBUG", "console", false, zapcore.DebugLevel},
		{"warn", "", false, zapcore.WarnLevel},
		{"loud", "json", true, 0},
		{"info", "xml", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q, %q) returned nil error", tt.level, tt.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q, %q) returned error: %v", tt.level, tt.format, err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("New(%q, %q) does not enable %v", tt.level, tt.format, tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("New(%q, %q) enables %v", tt.level, tt.format, tt.enabled-1)
			}
		})
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
