package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/clock"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
)

// PollInterval is the wait before every QR status query.
const PollInterval = 5 * time.Second

// QRCodeLogin shows a QR code and polls until it is confirmed on a logged-in
// phone. A timed-out code is replaced once per timeout. A confirmation for an
// account other than uin is reported but still accepted.
func QRCodeLogin(ctx context.Context, eng engine.Engine, uin int64, display QRDisplay, clk clock.Clock, obs events.Observer) (*engine.AccountInfo, error) {
	if display == nil {
		return nil, errors.New("qrcode login needs a display")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if obs == nil {
		obs = events.Nop{}
	}

	state, err := eng.FetchQRCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch qrcode: %w", err)
	}

	var sig []byte
	for {
		if state == nil {
			return nil, errors.New("engine returned an empty qrcode state")
		}
		obs.QRCodeStateChanged(uin, state.Kind)

		switch state.Kind {
		case engine.QRImageFetch:
			if err := display.Show(ctx, state.ImageData, state.Sig); err != nil {
				return nil, fmt.Errorf("failed to show qrcode: %w", err)
			}
			sig = state.Sig

		case engine.QRWaitingForScan, engine.QRWaitingForConfirm:

		case engine.QRTimeout:
			fresh, err := eng.FetchQRCode(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to refetch qrcode: %w", err)
			}
			if fresh != nil && fresh.Kind == engine.QRImageFetch {
				obs.QRCodeStateChanged(uin, fresh.Kind)
				if err := display.Show(ctx, fresh.ImageData, fresh.Sig); err != nil {
					return nil, fmt.Errorf("failed to show qrcode: %w", err)
				}
				sig = fresh.Sig
			}

		case engine.QRConfirmed:
			return confirmQRCode(ctx, eng, uin, state.Confirmation, obs)

		case engine.QRCanceled:
			return nil, ErrQRCodeCanceled

		default:
			return nil, fmt.Errorf("unexpected qrcode state %s", state.Kind)
		}

		if err := clk.Sleep(ctx, PollInterval); err != nil {
			return nil, err
		}
		state, err = eng.QueryQRCodeResult(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to query qrcode result: %w", err)
		}
	}
}

func confirmQRCode(ctx context.Context, eng engine.Engine, uin int64, c *engine.QRCodeConfirmation, obs events.Observer) (*engine.AccountInfo, error) {
	if c == nil {
		return nil, errors.New("qrcode confirmed without credentials")
	}

	resp, err := eng.QRCodeLogin(ctx, c.TmpPwd, c.TmpNoPicSig, c.TgtQR)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange qrcode confirmation: %w", err)
	}
	if resp != nil && resp.Kind == engine.LoginDeviceLockRelay {
		resp, err = eng.DeviceLockLogin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to continue device lock login: %w", err)
		}
	}
	if resp == nil {
		return nil, errors.New("engine returned an empty login response")
	}
	if resp.Kind != engine.LoginSuccess {
		if resp.Kind == engine.LoginDeviceLocked {
			obs.DeviceLockRequired(uin, resp.Message, resp.VerifyURL)
		}
		return nil, rejection(resp)
	}

	obs.LoginSucceeded(uin, resp.Account)
	if actual := eng.Uin(); actual != uin {
		obs.QRCodeAccountMismatch(uin, actual)
	}
	return resp.Account, nil
}
