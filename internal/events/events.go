// Package events defines the notifications the login and reconnect code
// emits for whoever is watching: logs, a terminal UI, tests.
package events

import (
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

// Observer receives session events. Implementations must not block.
type Observer interface {
	LoginSucceeded(uin int64, account *engine.AccountInfo)
	CaptchaRequested(uin int64, verifyURL string)
	DeviceLockRequired(uin int64, message, verifyURL string)
	QRCodeStateChanged(uin int64, state engine.QRCodeStateKind)
	QRCodeAccountMismatch(expected, actual int64)
	ResumeRejected(uin int64, err error)
	ReconnectScheduled(uin int64, delay time.Duration)
	ReconnectFailed(uin int64, err error, remaining int)
	Reconnected(uin int64)
	ReconnectGaveUp(uin int64, err error)
}

// Nop ignores every event. Embed it to implement only some methods.
type Nop struct{}

func (Nop) LoginSucceeded(int64, *engine.AccountInfo) {}
func (Nop) CaptchaRequested(int64, string) {}
func (Nop) DeviceLockRequired(int64, string, string) {}
func (Nop) QRCodeStateChanged(int64, engine.QRCodeStateKind) {}
func (Nop) QRCodeAccountMismatch(int64, int64) {}
func (Nop) ResumeRejected(int64, error) {}
func (Nop) ReconnectScheduled(int64, time.Duration) {}
func (Nop) ReconnectFailed(int64, error, int) {}
func (Nop) Reconnected(int64) {}
func (Nop) ReconnectGaveUp(int64, error) {}

type multi []Observer

// Multi fans every event out to each observer in order.
func Multi(observers ...Observer) Observer {
	var out multi
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multi) LoginSucceeded(uin int64, account *engine.AccountInfo) {
	for _, o := range m {
		o.LoginSucceeded(uin, account)
	}
}

func (m multi) CaptchaRequested(uin int64, verifyURL string) {
	for _, o := range m {
		o.CaptchaRequested(uin, verifyURL)
	}
}

func (m multi) DeviceLockRequired(uin int64, message, verifyURL string) {
	for _, o := range m {
		o.DeviceLockRequired(uin, message, verifyURL)
	}
}

func (m multi) QRCodeStateChanged(uin int64, state engine.QRCodeStateKind) {
	for _, o := range m {
		o.QRCodeStateChanged(uin, state)
	}
}

func (m multi) QRCodeAccountMismatch(expected, actual int64) {
	for _, o := range m {
		o.QRCodeAccountMismatch(expected, actual)
	}
}

func (m multi) ResumeRejected(uin int64, err error) {
	for _, o := range m {
		o.ResumeRejected(uin, err)
	}
}

func (m multi) ReconnectScheduled(uin int64, delay time.Duration) {
	for _, o := range m {
		o.ReconnectScheduled(uin, delay)
	}
}

func (m multi) ReconnectFailed(uin int64, err error, remaining int) {
	for _, o := range m {
		o.ReconnectFailed(uin, err, remaining)
	}
}

func (m multi) Reconnected(uin int64) {
	for _, o := range m {
		o.Reconnected(uin)
	}
}

func (m multi) ReconnectGaveUp(uin int64, err error) {
	for _, o := range m {
		o.ReconnectGaveUp(uin, err)
	}
}
