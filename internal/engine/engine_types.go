package engine

import (
	"fmt"
	"strings"
	"time"
)

// NetworkStatus is the engine's view of its connection.
type NetworkStatus int

const (
	StatusUnknown NetworkStatus = iota
	StatusOnline
	StatusStopped
	StatusDropped
	StatusNetworkOffline
	StatusKickedOffline
	StatusServerOffline
)

var statusNames = map[NetworkStatus]string{
	StatusUnknown:        "unknown",
	StatusOnline:         "online",
	StatusStopped:        "stopped",
	StatusDropped:        "dropped",
	StatusNetworkOffline: "network-offline",
	StatusKickedOffline:  "kicked-offline",
	StatusServerOffline:  "server-offline",
}

func (s NetworkStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Protocol is the client kind the engine impersonates.
type Protocol int

const (
	ProtocolIPad Protocol = iota
	ProtocolAndroidPhone
	ProtocolAndroidWatch
	ProtocolMacOS
	ProtocolQiDian
)

var protocolNames = []string{"ipad", "android_phone", "android_watch", "macos", "qidian"}

func (p Protocol) String() string {
	if int(p) >= 0 && int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol accepts the names printed by Protocol.String, case-insensitive.
func ParseProtocol(name string) (Protocol, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range protocolNames {
		if n == normalized {
			return Protocol(i), nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q (want one of %s)", name, strings.Join(protocolNames, ", "))
}

// LoginResponseKind tags a LoginResponse.
type LoginResponseKind int

const (
	LoginSuccess LoginResponseKind = iota
	LoginNeedCaptcha
	LoginDeviceLocked
	LoginDeviceLockRelay
	LoginAccountFrozen
	LoginTooManySMSRequests
	LoginUnknown
)

var loginKindNames = map[LoginResponseKind]string{
	LoginSuccess:            "success",
	LoginNeedCaptcha:        "need-captcha",
	LoginDeviceLocked:       "device-locked",
	LoginDeviceLockRelay:    "device-lock-relay",
	LoginAccountFrozen:      "account-frozen",
	LoginTooManySMSRequests: "too-many-sms-requests",
	LoginUnknown:            "unknown",
}

func (k LoginResponseKind) String() string {
	if name, ok := loginKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("login-response(%d)", int(k))
}

// LoginResponse is one step of a login exchange. Which fields are set
// depends on Kind.
type LoginResponse struct {
	Kind LoginResponseKind

	// Account is set on LoginSuccess.
	Account *AccountInfo

	// VerifyURL is the captcha page on LoginNeedCaptcha and the unlock
	// page on LoginDeviceLocked.
	VerifyURL string

	Message  string
	SMSPhone string

	// Status is the raw service code, kept for LoginUnknown diagnostics.
	Status int
}

func (r *LoginResponse) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(r.Kind.String())
	if r.Status != 0 {
		fmt.Fprintf(&b, " status=%d", r.Status)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, " message=%q", r.Message)
	}
	if r.VerifyURL != "" {
		fmt.Fprintf(&b, " url=%s", r.VerifyURL)
	}
	return b.String()
}

// AccountInfo describes the logged-in account.
type AccountInfo struct {
	Nick   string `json:"nick"`
	Age    int    `json:"age"`
	Gender int    `json:"gender"`
}

// QRCodeStateKind tags a QRCodeState.
type QRCodeStateKind int

const (
	QRImageFetch QRCodeStateKind = iota
	QRWaitingForScan
	QRWaitingForConfirm
	QRTimeout
	QRConfirmed
	QRCanceled
)

var qrKindNames = map[QRCodeStateKind]string{
	QRImageFetch:        "image-fetch",
	QRWaitingForScan:    "waiting-for-scan",
	QRWaitingForConfirm: "waiting-for-confirm",
	QRTimeout:           "timeout",
	QRConfirmed:         "confirmed",
	QRCanceled:          "canceled",
}

func (k QRCodeStateKind) String() string {
	if name, ok := qrKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("qrcode-state(%d)", int(k))
}

// QRCodeState is a QR login poll result.
type QRCodeState struct {
	Kind QRCodeStateKind

	// ImageData and Sig are set on QRImageFetch.
	ImageData []byte
	Sig       []byte

	// Confirmation is set on QRConfirmed.
	Confirmation *QRCodeConfirmation
}

// QRCodeConfirmation carries the temporary credentials a confirmed scan
// exchanges for a session.
type QRCodeConfirmation struct {
	Uin         int64
	TmpPwd      []byte
	TmpNoPicSig []byte
	TgtQR       []byte
}

// Token is the opaque resumable credential issued after a login. It is only
// valid for the account it was issued to.
type Token struct {
	Uin      int64     `json:"uin"`
	Payload  []byte    `json:"payload"`
	IssuedAt time.Time `json:"issued_at"`
}
