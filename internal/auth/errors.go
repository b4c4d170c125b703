package auth

import (
	"errors"
	"fmt"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

// RejectReason says why the service refused a credential login.
type RejectReason int

const (
	ReasonUnknown RejectReason = iota
	ReasonCaptcha
	ReasonDeviceLocked
	ReasonAccountFrozen
	ReasonTooManySMS
)

func (r RejectReason) String() string {
	switch r {
	case ReasonCaptcha:
		return "captcha required"
	case ReasonDeviceLocked:
		return "device locked"
	case ReasonAccountFrozen:
		return "account frozen"
	case ReasonTooManySMS:
		return "too many SMS requests"
	default:
		return "login rejected"
	}
}

// RejectedError is a terminal refusal by the service.
type RejectedError struct {
	Reason    RejectReason
	Message   string
	VerifyURL string

	// Response is the raw response, kept for diagnostics.
	Response *engine.LoginResponse
}

func (e *RejectedError) Error() string {
	msg := "login failed: " + e.Reason.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.VerifyURL != "" {
		msg += fmt.Sprintf(" (unlock at %s)", e.VerifyURL)
	}
	if e.Reason == ReasonUnknown && e.Response != nil {
		msg += fmt.Sprintf(" [%s]", e.Response)
	}
	return msg
}

// ErrQRCodeCanceled is returned when the QR login was cancelled on the phone.
var ErrQRCodeCanceled = errors.New("qrcode login canceled")

// IsRejected reports whether err is a RejectedError with the given reason.
func IsRejected(err error, reason RejectReason) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Reason == reason
}

func rejection(resp *engine.LoginResponse) *RejectedError {
	re := &RejectedError{Message: resp.Message, VerifyURL: resp.VerifyURL, Response: resp}
	switch resp.Kind {
	case engine.LoginNeedCaptcha:
		re.Reason = ReasonCaptcha
	case engine.LoginDeviceLocked:
		re.Reason = ReasonDeviceLocked
	case engine.LoginAccountFrozen:
		re.Reason = ReasonAccountFrozen
	case engine.LoginTooManySMSRequests:
		re.Reason = ReasonTooManySMS
	default:
		re.Reason = ReasonUnknown
	}
	return re
}
