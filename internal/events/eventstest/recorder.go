// Package eventstest records observer events for assertions.
package eventstest

import (
	"fmt"
	"sync"
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
)

var _ events.Observer = (*Recorder)(nil)

// Event is one recorded notification.
type Event struct {
	Name      string
	Uin       int64
	Detail    string
	Err       error
	Remaining int
}

// Recorder is an events.Observer that keeps everything it is told.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events called name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) LoginSucceeded(uin int64, account *engine.AccountInfo) {
	detail := ""
	if account != nil {
		detail = account.Nick
	}
	r.add(Event{Name: "login_succeeded", Uin: uin, Detail: detail})
}

func (r *Recorder) CaptchaRequested(uin int64, verifyURL string) {
	r.add(Event{Name: "captcha_requested", Uin: uin, Detail: verifyURL})
}

func (r *Recorder) DeviceLockRequired(uin int64, message, verifyURL string) {
	r.add(Event{Name: "device_lock_required", Uin: uin, Detail: verifyURL})
}

func (r *Recorder) QRCodeStateChanged(uin int64, state engine.QRCodeStateKind) {
	r.add(Event{Name: "qrcode_state", Uin: uin, Detail: state.String()})
}

func (r *Recorder) QRCodeAccountMismatch(expected, actual int64) {
	r.add(Event{Name: "qrcode_account_mismatch", Uin: expected, Detail: fmt.Sprint(actual)})
}

func (r *Recorder) ResumeRejected(uin int64, err error) {
	r.add(Event{Name: "resume_rejected", Uin: uin, Err: err})
}

func (r *Recorder) ReconnectScheduled(uin int64, delay time.Duration) {
	r.add(Event{Name: "reconnect_scheduled", Uin: uin, Detail: delay.String()})
}

func (r *Recorder) ReconnectFailed(uin int64, err error, remaining int) {
	r.add(Event{Name: "reconnect_failed", Uin: uin, Err: err, Remaining: remaining})
}

func (r *Recorder) Reconnected(uin int64) {
	r.add(Event{Name: "reconnected", Uin: uin})
}

func (r *Recorder) ReconnectGaveUp(uin int64, err error) {
	r.add(Event{Name: "reconnect_gave_up", Uin: uin, Err: err})
}
