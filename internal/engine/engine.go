// Package engine defines the contract between session management and the
// protocol engine that talks to the chat service.
package engine

import (
	"context"
	"net"

	"github.com/PiotrWarzachowski/go-chat-session/internal/device"
)

// Engine is a protocol client bound to one device identity.
//
// Start runs the receive loop on a connection returned by Connect and only
// returns once that connection is gone. Requests sent before the receive loop
// is running may never see their response.
type Engine interface {
	Connect(ctx context.Context) (net.Conn, error)
	Start(conn net.Conn)
	Status() NetworkStatus
	Stop(status NetworkStatus)

	// Uin is the account the engine is logged in as, 0 before login.
	Uin() int64

	PasswordLogin(ctx context.Context, uin int64, password string) (*LoginResponse, error)
	SubmitTicket(ctx context.Context, ticket string) (*LoginResponse, error)
	DeviceLockLogin(ctx context.Context) (*LoginResponse, error)
	TokenLogin(ctx context.Context, token *Token) (*LoginResponse, error)

	FetchQRCode(ctx context.Context) (*QRCodeState, error)
	QueryQRCodeResult(ctx context.Context, sig []byte) (*QRCodeState, error)
	QRCodeLogin(ctx context.Context, tmpPwd, tmpNoPicSig, tgtQR []byte) (*LoginResponse, error)

	GenToken(ctx context.Context) (*Token, error)
	RegisterAfterLogin(ctx context.Context) error
}

// Factory builds an engine for a device and client protocol.
type Factory func(dev *device.Device, protocol Protocol) (Engine, error)
