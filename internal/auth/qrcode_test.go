package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/clock"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine/enginetest"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events/eventstest"
)

type shownImage struct {
	image string
	sig   string
}

func recordingDisplay(shown *[]shownImage) QRDisplay {
	return QRDisplayFunc(func(_ context.Context, image, sig []byte) error {
		*shown = append(*shown, shownImage{string(image), string(sig)})
		return nil
	})
}

func TestQRCodeLoginRefreshesOnTimeout(t *testing.T) {
	eng := enginetest.New(10001)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img-1", "sig-1"), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QR(engine.QRTimeout), nil)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img-2", "sig-2"), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QR(engine.QRWaitingForScan), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QR(engine.QRWaitingForConfirm), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QRConfirmed(10001), nil)
	eng.Script(enginetest.OpQRCodeLogin, enginetest.Success(), nil)

	clk := clock.Fake(time.Unix(0, 0))
	rec := &eventstest.Recorder{}
	var shown []shownImage

	if _, err := QRCodeLogin(context.Background(), eng, 10001, recordingDisplay(&shown), clk, rec); err != nil {
		t.Fatalf("QRCodeLogin: %v", err)
	}

	want := []shownImage{{"img-1", "sig-1"}, {"img-2", "sig-2"}}
	if !reflect.DeepEqual(shown, want) {
		t.Errorf("shown = %v, want %v", shown, want)
	}
	if n := eng.Calls(enginetest.OpFetchQRCode); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}

	var sigs []string
	for _, s := range eng.QRSigs() {
		sigs = append(sigs, string(s))
	}
	if want := []string{"sig-1", "sig-2", "sig-2", "sig-2"}; !reflect.DeepEqual(sigs, want) {
		t.Errorf("queried sigs = %v, want %v", sigs, want)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 4 {
		t.Fatalf("sleeps = %v, want 4", sleeps)
	}
	for _, d := range sleeps {
		if d != PollInterval {
			t.Errorf("slept %v, want %v", d, PollInterval)
		}
	}
	if n := len(rec.Named("qrcode_account_mismatch")); n != 0 {
		t.Errorf("mismatch events = %d, want 0", n)
	}
}

func TestQRCodeLoginDeviceLockContinuationAndMismatch(t *testing.T) {
	eng := enginetest.New(20002)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img", "sig"), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QRConfirmed(20002), nil)
	eng.Script(enginetest.OpQRCodeLogin, enginetest.Response(engine.LoginDeviceLockRelay, "", ""), nil)
	eng.Script(enginetest.OpDeviceLockLogin, enginetest.Success(), nil)
	rec := &eventstest.Recorder{}
	var shown []shownImage

	account, err := QRCodeLogin(context.Background(), eng, 10001, recordingDisplay(&shown), clock.Fake(time.Unix(0, 0)), rec)
	if err != nil {
		t.Fatalf("QRCodeLogin: %v", err)
	}
	if account == nil {
		t.Fatal("account = nil")
	}
	mismatch := rec.Named("qrcode_account_mismatch")
	if len(mismatch) != 1 || mismatch[0].Uin != 10001 || mismatch[0].Detail != "20002" {
		t.Errorf("mismatch events = %+v, want one 10001 -> 20002", mismatch)
	}
}

func TestQRCodeLoginCanceled(t *testing.T) {
	eng := enginetest.New(10001)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img", "sig"), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QR(engine.QRCanceled), nil)
	var shown []shownImage

	_, err := QRCodeLogin(context.Background(), eng, 10001, recordingDisplay(&shown), clock.Fake(time.Unix(0, 0)), nil)
	if !errors.Is(err, ErrQRCodeCanceled) {
		t.Errorf("error = %v, want ErrQRCodeCanceled", err)
	}
	if eng.Calls(enginetest.OpQRCodeLogin) != 0 {
		t.Error("canceled code was exchanged")
	}
}

func TestQRCodeLoginRejectedExchange(t *testing.T) {
	eng := enginetest.New(10001)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img", "sig"), nil)
	eng.ScriptQR(enginetest.OpQueryQRCode, enginetest.QRConfirmed(10001), nil)
	eng.Script(enginetest.OpQRCodeLogin, enginetest.Response(engine.LoginAccountFrozen, "", ""), nil)
	var shown []shownImage

	_, err := QRCodeLogin(context.Background(), eng, 10001, recordingDisplay(&shown), clock.Fake(time.Unix(0, 0)), nil)
	if !IsRejected(err, ReasonAccountFrozen) {
		t.Errorf("error = %v, want frozen rejection", err)
	}
}

func TestQRCodeLoginStopsOnDisplayError(t *testing.T) {
	eng := enginetest.New(10001)
	eng.ScriptQR(enginetest.OpFetchQRCode, enginetest.QRImage("img", "sig"), nil)
	boom := errors.New("no terminal")
	display := QRDisplayFunc(func(context.Context, []byte, []byte) error { return boom })

	_, err := QRCodeLogin(context.Background(), eng, 10001, display, clock.Fake(time.Unix(0, 0)), nil)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if eng.Calls(enginetest.OpQueryQRCode) != 0 {
		t.Error("polled after display failed")
	}
}
