package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PiotrWarzachowski/go-chat-session/internal/config"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     config.LogConfig
		enabled zapcore.Level
		wantErr bool
	}{
		{cfg: config.LogConfig{Level: "info"}, enabled: zapcore.InfoLevel},
		{cfg: config.LogConfig{Level: "debug", Development: true}, enabled: zapcore.DebugLevel},
		{cfg: config.LogConfig{Level: "warn"}, enabled: zapcore.WarnLevel},
		{cfg: config.LogConfig{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Level, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("New accepted an invalid level")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %s disabled", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("level %s enabled", tt.enabled-1)
			}
		})
	}
}

func TestObserverWritesStructuredEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obs := NewObserver(zap.New(core))

	obs.LoginSucceeded(10001, &engine.AccountInfo{Nick: "tester"})
	obs.DeviceLockRequired(10001, "verify", "https://unlock")
	obs.QRCodeStateChanged(10001, engine.QRWaitingForScan)
	obs.QRCodeAccountMismatch(10001, 20002)
	obs.ReconnectScheduled(10001, 10*time.Second)
	obs.ReconnectFailed(10001, errors.New("offline"), 3)
	obs.ReconnectGaveUp(10001, errors.New("offline"))

	tests := []struct {
		message string
		level   zapcore.Level
		field   string
		want    any
	}{
		{"login succeeded", zapcore.InfoLevel, "nick", "tester"},
		{"device lock verification required", zapcore.WarnLevel, "verify_url", "https://unlock"},
		{"qrcode state", zapcore.DebugLevel, "state", "waiting-for-scan"},
		{"qrcode scanned by a different account", zapcore.WarnLevel, "actual_uin", int64(20002)},
		{"reconnect scheduled", zapcore.InfoLevel, "delay", 10 * time.Second},
		{"reconnect attempt failed", zapcore.WarnLevel, "remaining", int64(3)},
		{"reconnect gave up", zapcore.ErrorLevel, "error", "offline"},
	}
	for _, tt := range tests {
		entries := logs.FilterMessage(tt.message).All()
		if len(entries) != 1 {
			t.Errorf("%q logged %d times, want 1", tt.message, len(entries))
			continue
		}
		e := entries[0]
		if e.Level != tt.level {
			t.Errorf("%q level = %s, want %s", tt.message, e.Level, tt.level)
		}
		if e.LoggerName != "events" {
			t.Errorf("%q logger = %q, want events", tt.message, e.LoggerName)
		}
		if got := e.ContextMap()[tt.field]; got != tt.want {
			t.Errorf("%q %s = %v (%T), want %v", tt.message, tt.field, got, got, tt.want)
		}
	}
}
