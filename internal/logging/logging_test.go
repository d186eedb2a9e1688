package logging

import (
	"testing"

	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{name: "json info", cfg: config.LoggingConfig{Level: "info", Format: "json"}},
		{name: "console debug", cfg: config.LoggingConfig{Level: "debug", Format: "console"}},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud", Format: "json"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestNew_LevelApplied(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if !logger.Core().Enabled(zap.ErrorLevel) {
		t.Error("error disabled at warn level")
	}
}
