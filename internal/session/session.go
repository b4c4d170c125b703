// Package session keeps an authenticated engine connection alive: it tracks
// the background receive loop and re-establishes the connection with the
// stored token after network failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PiotrWarzachowski/go-chat-session/internal/clock"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
	"github.com/PiotrWarzachowski/go-chat-session/internal/retry"
	"github.com/PiotrWarzachowski/go-chat-session/internal/storage"
)

// Values the config layer fills in when nothing is configured.
const (
	DefaultReconnectDelay       = 10 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// Config wires a Handle.
type Config struct {
	Engine engine.Engine
	Uin    int64
	Tokens storage.TokenStore

	Clock    clock.Clock
	Observer events.Observer
	Logger   *zap.Logger

	// ReconnectDelay is the pause before every reconnect attempt. Zero
	// reconnects at once.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts is how many failed attempts are retried. Zero
	// makes a single attempt.
	MaxReconnectAttempts int
}

// Handle is a logged-in session. It owns at most one background receive
// loop at a time.
type Handle struct {
	engine   engine.Engine
	uin      int64
	tokens   storage.TokenStore
	clock    clock.Clock
	observer events.Observer
	logger   *zap.Logger

	reconnectDelay time.Duration
	maxRetries     int

	mu        sync.Mutex
	alive     <-chan struct{}
	closed    bool
	closeOnce sync.Once
}

// New returns a handle around an engine whose receive loop signals alive
// when it ends.
func New(cfg Config, alive <-chan struct{}) *Handle {
	h := &Handle{
		engine:         cfg.Engine,
		uin:            cfg.Uin,
		tokens:         cfg.Tokens,
		clock:          cfg.Clock,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		reconnectDelay: cfg.ReconnectDelay,
		maxRetries:     cfg.MaxReconnectAttempts,
		alive:          alive,
	}
	if h.clock == nil {
		h.clock = clock.Real()
	}
	if h.observer == nil {
		h.observer = events.Nop{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.reconnectDelay < 0 {
		h.reconnectDelay = 0
	}
	if h.maxRetries < 0 {
		h.maxRetries = 0
	}
	h.logger = h.logger.With(zap.Int64("uin", h.uin))
	return h
}

// StartConnection connects eng and runs its receive loop in the background.
// It yields once before returning so the loop is scheduled before the
// caller sends its first request. The returned channel closes when the loop
// ends.
func StartConnection(ctx context.Context, eng engine.Engine) (<-chan struct{}, error) {
	conn, err := eng.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Start(conn)
	}()
	runtime.Gosched()

	return done, nil
}

// FastLogin resumes a session with a stored token and returns the account
// it logged in as. Any failure is an ErrResumeUnavailable.
func FastLogin(ctx context.Context, eng engine.Engine, token *engine.Token) (*engine.AccountInfo, error) {
	resp, err := eng.TokenLogin(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: token login: %w", ErrResumeUnavailable, err)
	}
	if resp == nil || resp.Kind != engine.LoginSuccess {
		return nil, fmt.Errorf("%w: token login answered %s", ErrResumeUnavailable, resp)
	}
	return resp.Account, nil
}

// SaveToken stores token under uin. A token issued to another account, as
// after a QR code scanned by a different phone, is kept under uin all the
// same.
func SaveToken(ctx context.Context, tokens storage.TokenStore, uin int64, token *engine.Token) error {
	if token != nil && token.Uin != uin {
		bound := *token
		bound.Uin = uin
		token = &bound
	}
	return tokens.SaveToken(ctx, uin, token)
}

func (h *Handle) Uin() int64 { return h.uin }

func (h *Handle) Engine() engine.Engine { return h.engine }

// Status is the engine's network status.
func (h *Handle) Status() engine.NetworkStatus { return h.engine.Status() }

// AccountStatus reports Authenticated while a receive loop is running and
// the engine is online.
func (h *Handle) AccountStatus() storage.AccountStatus {
	h.mu.Lock()
	alive := h.alive
	h.mu.Unlock()

	if alive != nil && h.engine.Status() == engine.StatusOnline {
		select {
		case <-alive:
		default:
			return storage.Authenticated
		}
	}
	return storage.Disconnected
}

// WaitUntilDisconnected blocks until the current receive loop ends and
// clears it. It returns at once when there is no loop.
func (h *Handle) WaitUntilDisconnected(ctx context.Context) error {
	h.mu.Lock()
	alive := h.alive
	h.mu.Unlock()

	if alive == nil {
		return nil
	}

	select {
	case <-alive:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	if h.alive == alive {
		h.alive = nil
	}
	h.mu.Unlock()
	return nil
}

// Reconnect restores a connection lost to a network failure. It does
// nothing while a receive loop is running and fails at once for any other
// kind of disconnect.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	running := h.alive != nil
	h.mu.Unlock()
	if running {
		return nil
	}

	if status := h.engine.Status(); status != engine.StatusNetworkOffline {
		return fmt.Errorf("%w: status %s", ErrNonRecoverableDisconnect, status)
	}

	_, err := retry.Do(ctx, h.maxRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.reconnectOnce(ctx)
	}, func(err error, remaining int) {
		h.logger.Warn("reconnect failed", zap.Error(err), zap.Int("remaining", remaining))
		h.observer.ReconnectFailed(h.uin, err, remaining)
	})
	if err != nil {
		if errors.Is(err, ErrNonRecoverableDisconnect) || ctx.Err() != nil {
			return err
		}
		h.logger.Error("reconnect gave up", zap.Error(err))
		h.observer.ReconnectGaveUp(h.uin, err)
		return &ExhaustedError{Attempts: h.maxRetries + 1, Err: err}
	}

	h.logger.Info("client reconnected")
	h.observer.Reconnected(h.uin)
	return nil
}

func (h *Handle) reconnectOnce(ctx context.Context) error {
	if status := h.engine.Status(); status != engine.StatusNetworkOffline {
		return retry.Permanent(fmt.Errorf("%w: status %s", ErrNonRecoverableDisconnect, status))
	}

	h.engine.Stop(engine.StatusNetworkOffline)
	h.logger.Info("client connection interrupted, reconnecting", zap.Duration("delay", h.reconnectDelay))
	h.observer.ReconnectScheduled(h.uin, h.reconnectDelay)
	if err := h.clock.Sleep(ctx, h.reconnectDelay); err != nil {
		return err
	}
	// Close may have run during the delay.
	if status := h.engine.Status(); status != engine.StatusNetworkOffline {
		return retry.Permanent(fmt.Errorf("%w: status %s", ErrNonRecoverableDisconnect, status))
	}

	alive, err := StartConnection(ctx, h.engine)
	if err != nil {
		return err
	}

	if err := h.resume(ctx); err != nil {
		h.engine.Stop(engine.StatusNetworkOffline)
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.engine.Stop(engine.StatusStopped)
		return retry.Permanent(fmt.Errorf("%w: closed while reconnecting", ErrNonRecoverableDisconnect))
	}
	h.alive = alive
	h.mu.Unlock()
	return nil
}

// resume logs the fresh connection back in with the stored token.
func (h *Handle) resume(ctx context.Context) error {
	token, err := h.tokens.LoadToken(ctx, h.uin)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptToken) {
			return fmt.Errorf("%w: %w", ErrResumeUnavailable, err)
		}
		return err
	}
	if token == nil {
		return fmt.Errorf("%w: no stored token", ErrResumeUnavailable)
	}

	if _, err := FastLogin(ctx, h.engine, token); err != nil {
		return err
	}
	if err := h.engine.RegisterAfterLogin(ctx); err != nil {
		return fmt.Errorf("failed to register after login: %w", err)
	}

	h.refreshToken(ctx)
	return nil
}

// refreshToken stores a newly issued token. Failing to do so leaves the old
// token in place and does not end the session.
func (h *Handle) refreshToken(ctx context.Context) {
	token, err := h.engine.GenToken(ctx)
	if err == nil {
		err = SaveToken(ctx, h.tokens, h.uin, token)
	}
	if err != nil {
		h.logger.Warn("failed to refresh stored token", zap.Error(err))
	}
}

// RunForever waits for disconnects and reconnects after each one. It only
// returns when a reconnect fails or ctx is done.
func (h *Handle) RunForever(ctx context.Context) error {
	for {
		if err := h.WaitUntilDisconnected(ctx); err != nil {
			return err
		}
		if err := h.Reconnect(ctx); err != nil {
			return err
		}
	}
}

// Close stops the engine. Later reconnects fail as non-recoverable.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.engine.Stop(engine.StatusStopped)
	})
	return nil
}
