package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine/enginetest"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events/eventstest"
)

func fixedTicket(ticket string, seen *[]string) CaptchaPrompt {
	return CaptchaPromptFunc(func(_ context.Context, verifyURL string) (string, error) {
		*seen = append(*seen, verifyURL)
		return ticket, nil
	})
}

func TestPasswordLoginSuccess(t *testing.T) {
	eng := enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, enginetest.Success(), nil)
	rec := &eventstest.Recorder{}

	account, err := PasswordLogin(context.Background(), eng, 10001, "secret", nil, rec)
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if account == nil || account.Nick != "tester" {
		t.Errorf("account = %+v, want nick tester", account)
	}
	if n := len(rec.Named("login_succeeded")); n != 1 {
		t.Errorf("login_succeeded events = %d, want 1", n)
	}
}

func TestPasswordLoginCaptchaThenDeviceLockRelay(t *testing.T) {
	eng := enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, enginetest.Response(engine.LoginNeedCaptcha, "https://captcha.example/1", ""), nil)
	eng.Script(enginetest.OpSubmitTicket, enginetest.Response(engine.LoginNeedCaptcha, "https://captcha.example/2", ""), nil)
	eng.Script(enginetest.OpSubmitTicket, enginetest.Response(engine.LoginDeviceLockRelay, "", ""), nil)
	eng.Script(enginetest.OpDeviceLockLogin, enginetest.Success(), nil)
	rec := &eventstest.Recorder{}

	var urls []string
	if _, err := PasswordLogin(context.Background(), eng, 10001, "secret", fixedTicket("t-1", &urls), rec); err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}

	if len(urls) != 2 || urls[0] != "https://captcha.example/1" || urls[1] != "https://captcha.example/2" {
		t.Errorf("prompted for %v, want both captcha urls in order", urls)
	}
	if tickets := eng.Tickets(); len(tickets) != 2 || tickets[0] != "t-1" {
		t.Errorf("submitted tickets = %v", tickets)
	}
	if n := eng.Calls(enginetest.OpDeviceLockLogin); n != 1 {
		t.Errorf("device lock login calls = %d, want 1", n)
	}
	if n := len(rec.Named("captcha_requested")); n != 2 {
		t.Errorf("captcha_requested events = %d, want 2", n)
	}
}

func TestPasswordLoginTerminalResponses(t *testing.T) {
	tests := []struct {
		name   string
		resp   *engine.LoginResponse
		reason RejectReason
	}{
		{"device locked", enginetest.Response(engine.LoginDeviceLocked, "https://unlock.example", "verify on phone"), ReasonDeviceLocked},
		{"frozen", enginetest.Response(engine.LoginAccountFrozen, "", ""), ReasonAccountFrozen},
		{"too many sms", enginetest.Response(engine.LoginTooManySMSRequests, "", ""), ReasonTooManySMS},
		{"unknown", &engine.LoginResponse{Kind: engine.LoginUnknown, Status: 237, Message: "odd"}, ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New(10001)
			eng.Script(enginetest.OpPasswordLogin, tt.resp, nil)

			_, err := PasswordLogin(context.Background(), eng, 10001, "secret", nil, nil)
			var re *RejectedError
			if !errors.As(err, &re) {
				t.Fatalf("error = %v, want *RejectedError", err)
			}
			if re.Reason != tt.reason {
				t.Errorf("Reason = %v, want %v", re.Reason, tt.reason)
			}
			if re.Response != tt.resp {
				t.Error("RejectedError does not carry the raw response")
			}
			if eng.Calls(enginetest.OpSubmitTicket)+eng.Calls(enginetest.OpDeviceLockLogin) != 0 {
				t.Error("terminal response was followed by another request")
			}
		})
	}
}

func TestPasswordLoginDeviceLockedCarriesURL(t *testing.T) {
	eng := enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, enginetest.Response(engine.LoginDeviceLocked, "https://unlock.example", "locked"), nil)
	rec := &eventstest.Recorder{}

	_, err := PasswordLogin(context.Background(), eng, 10001, "secret", nil, rec)
	if !IsRejected(err, ReasonDeviceLocked) {
		t.Fatalf("error = %v, want device locked rejection", err)
	}
	var re *RejectedError
	errors.As(err, &re)
	if re.VerifyURL != "https://unlock.example" || re.Message != "locked" {
		t.Errorf("RejectedError = %+v", re)
	}
	events := rec.Named("device_lock_required")
	if len(events) != 1 || events[0].Detail != "https://unlock.example" {
		t.Errorf("device_lock_required events = %+v", events)
	}
}

func TestPasswordLoginCaptchaWithoutPrompt(t *testing.T) {
	eng := enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, enginetest.Response(engine.LoginNeedCaptcha, "https://captcha.example", ""), nil)

	_, err := PasswordLogin(context.Background(), eng, 10001, "secret", nil, nil)
	if !IsRejected(err, ReasonCaptcha) {
		t.Errorf("error = %v, want captcha rejection", err)
	}
}

func TestPasswordLoginPropagatesErrors(t *testing.T) {
	boom := errors.New("transport closed")

	eng := enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, nil, boom)
	if _, err := PasswordLogin(context.Background(), eng, 10001, "secret", nil, nil); !errors.Is(err, boom) {
		t.Errorf("submit error = %v, want %v", err, boom)
	}

	eng = enginetest.New(10001)
	eng.Script(enginetest.OpPasswordLogin, enginetest.Response(engine.LoginNeedCaptcha, "u", ""), nil)
	prompt := CaptchaPromptFunc(func(context.Context, string) (string, error) { return "", boom })
	if _, err := PasswordLogin(context.Background(), eng, 10001, "secret", prompt, nil); !errors.Is(err, boom) {
		t.Errorf("prompt error = %v, want %v", err, boom)
	}
}
