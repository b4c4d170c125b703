package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/clock"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine/enginetest"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events/eventstest"
	"github.com/PiotrWarzachowski/go-chat-session/internal/storage"
)

const testUin = 10001

type fixture struct {
	eng   *enginetest.Engine
	store *storage.Storage
	clock *clock.FakeClock
	rec   *eventstest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "bots"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return &fixture{
		eng:   enginetest.New(testUin),
		store: store,
		clock: clock.Fake(time.Unix(0, 0)),
		rec:   &eventstest.Recorder{},
	}
}

func (f *fixture) saveToken(t *testing.T) {
	t.Helper()
	token := &engine.Token{Uin: testUin, Payload: []byte("stored"), IssuedAt: time.Unix(1, 0).UTC()}
	if err := f.store.SaveToken(context.Background(), testUin, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
}

// connect starts a live connection and wraps it in a handle.
func (f *fixture) connect(t *testing.T) *Handle {
	t.Helper()
	alive, err := StartConnection(context.Background(), f.eng)
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}
	return New(Config{
		Engine:               f.eng,
		Uin:                  testUin,
		Tokens:               f.store,
		Clock:                f.clock,
		Observer:             f.rec,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
	}, alive)
}

func waitForStatus(t *testing.T, h *Handle, want engine.NetworkStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Status() != want {
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want %s", h.Status(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaitUntilDisconnectedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)
	waitForStatus(t, h, engine.StatusOnline)
	if got := h.AccountStatus(); got != storage.Authenticated {
		t.Errorf("AccountStatus = %v, want authenticated", got)
	}

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.WaitUntilDisconnected(ctx); err != nil {
		t.Fatalf("second WaitUntilDisconnected: %v", err)
	}
	if got := h.AccountStatus(); got != storage.Disconnected {
		t.Errorf("AccountStatus = %v, want disconnected", got)
	}
}

func TestWaitUntilDisconnectedHonoursContext(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.WaitUntilDisconnected(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitUntilDisconnected = %v, want context.Canceled", err)
	}

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected after cancel: %v", err)
	}
}

func TestReconnectIsNoOpWhileRunning(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)

	if err := h.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if n := f.eng.Calls(enginetest.OpConnect); n != 1 {
		t.Errorf("connect calls = %d, want 1", n)
	}
	if len(f.clock.Sleeps()) != 0 {
		t.Error("Reconnect slept while the loop was running")
	}
}

func TestReconnectRefusesNonNetworkDisconnect(t *testing.T) {
	for _, status := range []engine.NetworkStatus{engine.StatusKickedOffline, engine.StatusServerOffline, engine.StatusStopped} {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			f.saveToken(t)
			h := f.connect(t)
			f.eng.Drop(status)
			if err := h.WaitUntilDisconnected(context.Background()); err != nil {
				t.Fatalf("WaitUntilDisconnected: %v", err)
			}

			err := h.Reconnect(context.Background())
			if !errors.Is(err, ErrNonRecoverableDisconnect) {
				t.Fatalf("Reconnect = %v, want ErrNonRecoverableDisconnect", err)
			}
			if len(f.clock.Sleeps()) != 0 {
				t.Errorf("Reconnect slept %v", f.clock.Sleeps())
			}
			if n := f.eng.Calls(enginetest.OpConnect); n != 1 {
				t.Errorf("connect calls = %d, want 1 (no transport restart)", n)
			}
			if n := len(f.rec.Named("reconnect_failed")); n != 0 {
				t.Errorf("reconnect_failed events = %d, want 0", n)
			}
		})
	}
}

func TestReconnectRestoresSession(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := f.connect(t)

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected: %v", err)
	}
	if err := h.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	waitForStatus(t, h, engine.StatusOnline)
	if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != DefaultReconnectDelay {
		t.Errorf("sleeps = %v, want [10s]", sleeps)
	}
	if stops := f.eng.Stops(); len(stops) != 1 || stops[0] != engine.StatusNetworkOffline {
		t.Errorf("stops = %v, want [network-offline]", stops)
	}
	tokens := f.eng.Tokens()
	if len(tokens) != 1 || string(tokens[0].Payload) != "stored" {
		t.Fatalf("token logins = %v, want the stored token", tokens)
	}
	if n := f.eng.Calls(enginetest.OpRegister); n != 1 {
		t.Errorf("register calls = %d, want 1", n)
	}

	saved, err := f.store.LoadToken(context.Background(), testUin)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if string(saved.Payload) != "token-1" {
		t.Errorf("stored token payload = %q, want the refreshed token", saved.Payload)
	}
	if n := len(f.rec.Named("reconnected")); n != 1 {
		t.Errorf("reconnected events = %d, want 1", n)
	}

	f.eng.Drop(engine.StatusNetworkOffline)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.WaitUntilDisconnected(ctx); err != nil {
		t.Fatalf("WaitUntilDisconnected on the new loop: %v", err)
	}
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := f.connect(t)

	var failures []error
	for i := 1; i <= 11; i++ {
		err := fmt.Errorf("resume failure %d", i)
		failures = append(failures, err)
		f.eng.Script(enginetest.OpTokenLogin, nil, err)
	}

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected: %v", err)
	}

	err := h.Reconnect(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Reconnect = %v, want *ExhaustedError", err)
	}
	if !errors.Is(err, failures[10]) {
		t.Errorf("Reconnect = %v, want it to wrap the eleventh failure", err)
	}
	if errors.Is(err, failures[9]) {
		t.Error("Reconnect wraps the tenth failure")
	}
	if !errors.Is(err, ErrResumeUnavailable) {
		t.Errorf("Reconnect = %v, want ErrResumeUnavailable", err)
	}

	reported := f.rec.Named("reconnect_failed")
	if len(reported) != 10 {
		t.Fatalf("reconnect_failed events = %d, want 10", len(reported))
	}
	for i, e := range reported {
		if e.Remaining != 9-i {
			t.Errorf("event %d remaining = %d, want %d", i, e.Remaining, 9-i)
		}
		if !errors.Is(e.Err, failures[i]) {
			t.Errorf("event %d err = %v, want failure %d", i, e.Err, i+1)
		}
	}
	if n := len(f.rec.Named("reconnect_gave_up")); n != 1 {
		t.Errorf("reconnect_gave_up events = %d, want 1", n)
	}
	if n := f.eng.Calls(enginetest.OpConnect); n != 12 {
		t.Errorf("connect calls = %d, want 12 (initial + 11 attempts)", n)
	}
	if n := len(f.clock.Sleeps()); n != 11 {
		t.Errorf("sleeps = %d, want 11", n)
	}
	if got := h.Status(); got != engine.StatusNetworkOffline {
		t.Errorf("status = %s, want network-offline after failed fast login", got)
	}
}

func TestReconnectWithoutTokenFailsEachAttempt(t *testing.T) {
	f := newFixture(t)
	h := New(Config{
		Engine:               f.eng,
		Uin:                  testUin,
		Tokens:               f.store,
		Clock:                f.clock,
		Observer:             f.rec,
		MaxReconnectAttempts: 2,
	}, nil)
	f.eng.SetStatus(engine.StatusNetworkOffline)

	err := h.Reconnect(context.Background())
	if !errors.Is(err, ErrResumeUnavailable) {
		t.Fatalf("Reconnect = %v, want ErrResumeUnavailable", err)
	}
	if n := len(f.rec.Named("reconnect_failed")); n != 2 {
		t.Errorf("reconnect_failed events = %d, want 2", n)
	}
	if n := f.eng.Calls(enginetest.OpTokenLogin); n != 0 {
		t.Errorf("token login calls = %d, want 0 without a token", n)
	}
}

func TestReconnectWithZeroRetriesMakesOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := New(Config{
		Engine:   f.eng,
		Uin:      testUin,
		Tokens:   f.store,
		Clock:    f.clock,
		Observer: f.rec,
	}, nil)
	f.eng.SetStatus(engine.StatusNetworkOffline)
	for i := 0; i < 2; i++ {
		f.eng.Script(enginetest.OpTokenLogin, nil, errors.New("resume failure"))
	}

	err := h.Reconnect(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 1 {
		t.Fatalf("Reconnect = %v, want exhaustion after 1 attempt", err)
	}
	if n := f.eng.Calls(enginetest.OpTokenLogin); n != 1 {
		t.Errorf("token login calls = %d, want 1", n)
	}
	if n := len(f.rec.Named("reconnect_failed")); n != 0 {
		t.Errorf("reconnect_failed events = %d, want 0", n)
	}
	if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 0 {
		t.Errorf("sleeps = %v, want [0s]", sleeps)
	}
}

func TestCloseDuringReconnectDelay(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := f.connect(t)

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected: %v", err)
	}
	f.clock.OnSleep = func(time.Duration) { h.Close() }

	err := h.Reconnect(context.Background())
	if !errors.Is(err, ErrNonRecoverableDisconnect) {
		t.Fatalf("Reconnect = %v, want ErrNonRecoverableDisconnect", err)
	}
	if got := h.Status(); got != engine.StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
	if got := h.AccountStatus(); got != storage.Disconnected {
		t.Errorf("AccountStatus = %v, want disconnected", got)
	}
	if n := f.eng.Calls(enginetest.OpConnect); n != 1 {
		t.Errorf("connect calls = %d, want 1 (no transport restart)", n)
	}
	if n := f.eng.Calls(enginetest.OpTokenLogin); n != 0 {
		t.Errorf("token login calls = %d, want 0", n)
	}
	if n := len(f.rec.Named("reconnect_failed")); n != 0 {
		t.Errorf("reconnect_failed events = %d, want 0", n)
	}
}

func TestReconnectKeepsTokenUnderRequestedAccount(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := f.connect(t)
	f.eng.SetAccountUin(20002)

	f.eng.Drop(engine.StatusNetworkOffline)
	if err := h.WaitUntilDisconnected(context.Background()); err != nil {
		t.Fatalf("WaitUntilDisconnected: %v", err)
	}
	if err := h.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	saved, err := f.store.LoadToken(context.Background(), testUin)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if saved.Uin != testUin || string(saved.Payload) != "token-1" {
		t.Errorf("stored token = %+v, want token-1 kept under %d", saved, testUin)
	}
}

func TestRunForeverStopsOnNonRecoverableDisconnect(t *testing.T) {
	f := newFixture(t)
	f.saveToken(t)
	h := f.connect(t)

	done := make(chan error, 1)
	go func() { done <- h.RunForever(context.Background()) }()

	f.eng.Drop(engine.StatusNetworkOffline)
	waitForConnects(t, f.eng, 2)
	waitForStatus(t, h, engine.StatusOnline)

	f.eng.Drop(engine.StatusKickedOffline)

	select {
	case err := <-done:
		if !errors.Is(err, ErrNonRecoverableDisconnect) {
			t.Errorf("RunForever = %v, want ErrNonRecoverableDisconnect", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return")
	}
}

func TestCloseEndsRunForever(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)

	done := make(chan error, 1)
	go func() { done <- h.RunForever(context.Background()) }()

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNonRecoverableDisconnect) {
			t.Errorf("RunForever = %v, want ErrNonRecoverableDisconnect", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after Close")
	}
	if stops := f.eng.Stops(); len(stops) != 1 || stops[0] != engine.StatusStopped {
		t.Errorf("stops = %v, want one stopped", stops)
	}
}

func waitForConnects(t *testing.T, eng *enginetest.Engine, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for eng.Calls(enginetest.OpConnect) < want {
		if time.Now().After(deadline) {
			t.Fatalf("connect calls = %d, want %d", eng.Calls(enginetest.OpConnect), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFastLogin(t *testing.T) {
	eng := enginetest.New(testUin)
	token := &engine.Token{Uin: testUin}
	account, err := FastLogin(context.Background(), eng, token)
	if err != nil {
		t.Fatalf("FastLogin: %v", err)
	}
	if account == nil || account.Nick != "tester" {
		t.Errorf("FastLogin account = %+v, want tester", account)
	}

	eng.Script(enginetest.OpTokenLogin, enginetest.Response(engine.LoginDeviceLocked, "", ""), nil)
	if _, err := FastLogin(context.Background(), eng, token); !errors.Is(err, ErrResumeUnavailable) {
		t.Errorf("FastLogin on refusal = %v, want ErrResumeUnavailable", err)
	}
}
