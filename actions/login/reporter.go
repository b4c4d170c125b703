package login

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
)

// qrReporter shows a spinner with the QR login state while polling.
type qrReporter struct {
	events.Nop

	out io.Writer

	mu       sync.Mutex
	progress *mpb.Progress
	bar      *mpb.Bar
	status   string
	done     bool
}

func newQRReporter(out io.Writer) *qrReporter {
	return &qrReporter{out: out}
}

func qrStateLabel(state engine.QRCodeStateKind) string {
	switch state {
	case engine.QRImageFetch:
		return "📷 QR code ready"
	case engine.QRWaitingForScan:
		return "⏳ Waiting for scan"
	case engine.QRWaitingForConfirm:
		return "📱 Confirm on phone"
	case engine.QRTimeout:
		return "⌛ Expired, refreshing"
	case engine.QRConfirmed:
		return "✓ Confirmed"
	case engine.QRCanceled:
		return "❌ Canceled"
	default:
		return state.String()
	}
}

func (r *qrReporter) label() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *qrReporter) QRCodeStateChanged(_ int64, state engine.QRCodeStateKind) {
	r.mu.Lock()
	r.status = qrStateLabel(state)
	if r.done {
		r.mu.Unlock()
		return
	}
	if r.bar == nil {
		r.progress = mpb.New(mpb.WithOutput(r.out), mpb.WithWidth(60))
		r.bar = r.progress.New(0,
			mpb.SpinnerStyle(),
			mpb.PrependDecorators(
				decor.Any(func(decor.Statistics) string { return r.label() }, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
		)
	}
	bar := r.bar
	finished := state == engine.QRConfirmed || state == engine.QRCanceled
	if finished {
		r.done = true
	}
	r.mu.Unlock()

	switch state {
	case engine.QRConfirmed:
		bar.SetTotal(-1, true)
	case engine.QRCanceled:
		bar.Abort(false)
	}
}

// Finish stops the spinner if it is still running and waits for the last
// render.
func (r *qrReporter) Finish() {
	r.mu.Lock()
	progress, bar, done := r.progress, r.bar, r.done
	r.done = true
	r.mu.Unlock()

	if progress == nil {
		return
	}
	if !done {
		bar.Abort(false)
	}
	progress.Wait()
}
