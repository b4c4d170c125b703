package storage

import (
	"context"
	"errors"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

const (
	DefaultDataRoot = "./bots"
	DeviceFile      = "device.json"
	TokenFile       = "token.json"
	KeyFile         = ".key"
)

// ErrCorruptToken marks a stored token that exists but cannot be used.
var ErrCorruptToken = errors.New("corrupt token")

// Storage keeps per-account credential files under a data root:
// <root>/<uin>/device.json and <root>/<uin>/token.json. Tokens are
// encrypted with <root>/.key.
type Storage struct {
	basePath string
	key      []byte
}

// TokenStore persists resumable tokens. LoadToken returns nil, nil when the
// account has none.
type TokenStore interface {
	LoadToken(ctx context.Context, uin int64) (*engine.Token, error)
	SaveToken(ctx context.Context, uin int64, token *engine.Token) error
	DeleteToken(ctx context.Context, uin int64) error
}

// AccountStatus is the coarse login state of an account.
type AccountStatus int

const (
	NeverLoggedIn AccountStatus = iota
	Authenticated
	Disconnected
)

func (s AccountStatus) String() string {
	switch s {
	case NeverLoggedIn:
		return "never logged in"
	case Authenticated:
		return "authenticated"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// AccountState is what the store knows about one account.
type AccountState struct {
	Uin           int64
	Dir           string
	DevicePresent bool
	TokenPresent  bool
	TokenCorrupt  bool
	TokenIssuedAt int64
	Status        AccountStatus
}
