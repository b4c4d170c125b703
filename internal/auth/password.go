// Package auth drives the interactive credential logins: password with its
// captcha and device-lock continuations, and QR code.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
)

// PasswordLogin logs uin in with a password, following captcha and
// device-lock continuations until the service accepts or refuses.
func PasswordLogin(ctx context.Context, eng engine.Engine, uin int64, password string, prompt CaptchaPrompt, obs events.Observer) (*engine.AccountInfo, error) {
	if obs == nil {
		obs = events.Nop{}
	}

	resp, err := eng.PasswordLogin(ctx, uin, password)
	if err != nil {
		return nil, fmt.Errorf("failed to submit password: %w", err)
	}

	return followLogin(ctx, eng, uin, resp, prompt, obs)
}

// followLogin answers continuation responses until a terminal one.
func followLogin(ctx context.Context, eng engine.Engine, uin int64, resp *engine.LoginResponse, prompt CaptchaPrompt, obs events.Observer) (*engine.AccountInfo, error) {
	for {
		if resp == nil {
			return nil, errors.New("engine returned an empty login response")
		}

		var err error
		switch resp.Kind {
		case engine.LoginSuccess:
			obs.LoginSucceeded(uin, resp.Account)
			return resp.Account, nil

		case engine.LoginNeedCaptcha:
			if prompt == nil {
				return nil, rejection(resp)
			}
			obs.CaptchaRequested(uin, resp.VerifyURL)
			ticket, perr := prompt.Ticket(ctx, resp.VerifyURL)
			if perr != nil {
				return nil, fmt.Errorf("failed to read captcha ticket: %w", perr)
			}
			resp, err = eng.SubmitTicket(ctx, ticket)
			if err != nil {
				return nil, fmt.Errorf("failed to submit captcha ticket: %w", err)
			}

		case engine.LoginDeviceLocked:
			obs.DeviceLockRequired(uin, resp.Message, resp.VerifyURL)
			return nil, rejection(resp)

		case engine.LoginDeviceLockRelay:
			resp, err = eng.DeviceLockLogin(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to continue device lock login: %w", err)
			}

		default:
			return nil, rejection(resp)
		}
	}
}
