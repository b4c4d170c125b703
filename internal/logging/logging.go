// Package logging builds the zap logger and an events.Observer that writes
// every session event to it.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PiotrWarzachowski/go-chat-session/internal/config"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
)

// New builds a JSON production logger, or a colored console logger when
// cfg.Development is set.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

type logObserver struct {
	logger *zap.Logger
}

// NewObserver returns an events.Observer logging to logger.
func NewObserver(logger *zap.Logger) events.Observer {
	return &logObserver{logger: logger.Named("events")}
}

func (o *logObserver) LoginSucceeded(uin int64, account *engine.AccountInfo) {
	fields := []zap.Field{zap.Int64("uin", uin)}
	if account != nil {
		fields = append(fields, zap.String("nick", account.Nick))
	}
	o.logger.Info("login succeeded", fields...)
}

func (o *logObserver) CaptchaRequested(uin int64, verifyURL string) {
	o.logger.Info("captcha requested", zap.Int64("uin", uin), zap.String("verify_url", verifyURL))
}

func (o *logObserver) DeviceLockRequired(uin int64, message, verifyURL string) {
	o.logger.Warn("device lock verification required",
		zap.Int64("uin", uin),
		zap.String("message", message),
		zap.String("verify_url", verifyURL),
	)
}

func (o *logObserver) QRCodeStateChanged(uin int64, state engine.QRCodeStateKind) {
	o.logger.Debug("qrcode state", zap.Int64("uin", uin), zap.Stringer("state", state))
}

func (o *logObserver) QRCodeAccountMismatch(expected, actual int64) {
	o.logger.Warn("qrcode scanned by a different account",
		zap.Int64("expected_uin", expected),
		zap.Int64("actual_uin", actual),
	)
}

func (o *logObserver) ResumeRejected(uin int64, err error) {
	o.logger.Info("stored token rejected", zap.Int64("uin", uin), zap.Error(err))
}

func (o *logObserver) ReconnectScheduled(uin int64, delay time.Duration) {
	o.logger.Info("reconnect scheduled", zap.Int64("uin", uin), zap.Duration("delay", delay))
}

func (o *logObserver) ReconnectFailed(uin int64, err error, remaining int) {
	o.logger.Warn("reconnect attempt failed",
		zap.Int64("uin", uin),
		zap.Error(err),
		zap.Int("remaining", remaining),
	)
}

func (o *logObserver) Reconnected(uin int64) {
	o.logger.Info("reconnected", zap.Int64("uin", uin))
}

func (o *logObserver) ReconnectGaveUp(uin int64, err error) {
	o.logger.Error("reconnect gave up", zap.Int64("uin", uin), zap.Error(err))
}
