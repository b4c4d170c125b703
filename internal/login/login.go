// Package login turns an account id and a login method into a running
// session: device identity, connection, token resume or credential login,
// and a fresh stored token.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PiotrWarzachowski/go-chat-session/internal/auth"
	"github.com/PiotrWarzachowski/go-chat-session/internal/clock"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
	"github.com/PiotrWarzachowski/go-chat-session/internal/session"
	"github.com/PiotrWarzachowski/go-chat-session/internal/storage"
)

// Method selects how to authenticate when no stored token works.
type Method interface {
	protocol() engine.Protocol
	fmt.Stringer
}

// PasswordMethod logs in with a password as the given client protocol.
// With no Password set, Prompt is asked once the password flow runs.
type PasswordMethod struct {
	Protocol engine.Protocol
	Password string
	Prompt   auth.PasswordPrompt
}

func (m PasswordMethod) protocol() engine.Protocol { return m.Protocol }
func (m PasswordMethod) String() string { return "password/" + m.Protocol.String() }

// QRCodeMethod logs in by scanning a QR code with a logged-in phone. It
// always uses the watch protocol.
type QRCodeMethod struct{}

func (QRCodeMethod) protocol() engine.Protocol { return engine.ProtocolAndroidWatch }
func (QRCodeMethod) String() string { return "qrcode" }

// Options configures Login. Uin, Method and NewEngine are required.
type Options struct {
	Uin       int64
	Method    Method
	NewEngine engine.Factory

	// DataRoot holds the per-account directories; defaults to ./bots.
	DataRoot string

	// Tokens overrides where tokens are kept; defaults to token.json in
	// the account directory.
	Tokens storage.TokenStore

	Captcha   auth.CaptchaPrompt
	QRDisplay auth.QRDisplay

	Observer events.Observer
	Logger   *zap.Logger
	Clock    clock.Clock

	// Passed to the session as is: zero means no pause and a single
	// attempt. See session.DefaultReconnectDelay.
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

func (o *Options) validate() error {
	if o.Uin <= 0 {
		return fmt.Errorf("invalid account id %d", o.Uin)
	}
	if o.Method == nil {
		return errors.New("no login method")
	}
	if o.NewEngine == nil {
		return errors.New("no engine factory")
	}
	if _, ok := o.Method.(QRCodeMethod); ok && o.QRDisplay == nil {
		return errors.New("qrcode login needs a QR display")
	}
	return nil
}

// Login produces a running, authenticated session. A stored token is tried
// first; a missing, corrupt or refused one falls back to Method. The
// connection is stopped again if anything after it fails.
func Login(ctx context.Context, opts Options) (*session.Handle, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Observer == nil {
		opts.Observer = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger.With(zap.Int64("uin", opts.Uin))

	store, err := storage.NewStorage(opts.DataRoot)
	if err != nil {
		return nil, err
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = store
	}

	dev, err := store.LoadOrCreateDevice(opts.Uin)
	if err != nil {
		return nil, err
	}

	eng, err := opts.NewEngine(dev, opts.Method.protocol())
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	alive, err := session.StartConnection(ctx, eng)
	if err != nil {
		return nil, err
	}

	if err := authenticate(ctx, eng, tokens, &opts, logger); err != nil {
		eng.Stop(engine.StatusStopped)
		return nil, err
	}

	if err := eng.RegisterAfterLogin(ctx); err != nil {
		eng.Stop(engine.StatusStopped)
		return nil, fmt.Errorf("failed to register after login: %w", err)
	}

	token, err := eng.GenToken(ctx)
	if err != nil {
		eng.Stop(engine.StatusStopped)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	if err := session.SaveToken(ctx, tokens, opts.Uin, token); err != nil {
		eng.Stop(engine.StatusStopped)
		return nil, err
	}

	logger.Info("logged in", zap.Stringer("method", opts.Method))
	return session.New(session.Config{
		Engine:               eng,
		Uin:                  opts.Uin,
		Tokens:               tokens,
		Clock:                opts.Clock,
		Observer:             opts.Observer,
		Logger:               opts.Logger,
		ReconnectDelay:       opts.ReconnectDelay,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
	}, alive), nil
}

// authenticate resumes with the stored token or runs the credential flow.
func authenticate(ctx context.Context, eng engine.Engine, tokens storage.TokenStore, opts *Options, logger *zap.Logger) error {
	err := resume(ctx, eng, tokens, opts, logger)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrResumeUnavailable) {
		return err
	}

	switch m := opts.Method.(type) {
	case PasswordMethod:
		password := m.Password
		if password == "" && m.Prompt != nil {
			if password, err = m.Prompt.Password(ctx, opts.Uin); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		_, err = auth.PasswordLogin(ctx, eng, opts.Uin, password, opts.Captcha, opts.Observer)
	case QRCodeMethod:
		_, err = auth.QRCodeLogin(ctx, eng, opts.Uin, opts.QRDisplay, opts.Clock, opts.Observer)
	default:
		err = fmt.Errorf("unsupported login method %s", opts.Method)
	}
	return err
}

// resume tries the stored token. It returns ErrResumeUnavailable when
// there is no usable token, deleting a corrupt or refused one.
func resume(ctx context.Context, eng engine.Engine, tokens storage.TokenStore, opts *Options, logger *zap.Logger) error {
	token, err := tokens.LoadToken(ctx, opts.Uin)
	switch {
	case errors.Is(err, storage.ErrCorruptToken):
		logger.Warn("stored token is corrupt, deleting token", zap.Error(err))
		return discardToken(ctx, tokens, opts, fmt.Errorf("%w: %w", session.ErrResumeUnavailable, err))
	case err != nil:
		return err
	case token == nil:
		return fmt.Errorf("%w: no stored token", session.ErrResumeUnavailable)
	}

	logger.Info("found token from last login, trying token login")
	account, err := session.FastLogin(ctx, eng, token)
	if err != nil {
		logger.Info("token login failed, deleting token", zap.Error(err))
		return discardToken(ctx, tokens, opts, err)
	}

	opts.Observer.LoginSucceeded(opts.Uin, account)
	return nil
}

func discardToken(ctx context.Context, tokens storage.TokenStore, opts *Options, cause error) error {
	opts.Observer.ResumeRejected(opts.Uin, cause)
	if err := tokens.DeleteToken(ctx, opts.Uin); err != nil {
		return err
	}
	return cause
}
