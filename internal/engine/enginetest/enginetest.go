// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/PiotrWarzachowski/go-chat-session/internal/device"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

// Op names an engine call for scripting and call counting.
type Op string

const (
	OpConnect         Op = "connect"
	OpStart           Op = "start"
	OpStop            Op = "stop"
	OpPasswordLogin   Op = "password_login"
	OpSubmitTicket    Op = "submit_ticket"
	OpDeviceLockLogin Op = "device_lock_login"
	OpTokenLogin      Op = "token_login"
	OpFetchQRCode     Op = "fetch_qrcode"
	OpQueryQRCode     Op = "query_qrcode_result"
	OpQRCodeLogin     Op = "qrcode_login"
	OpGenToken        Op = "gen_token"
	OpRegister        Op = "register_after_login"
)

// ErrUnscripted is returned by login calls that have nothing queued.
var ErrUnscripted = errors.New("enginetest: no scripted response")

type step struct {
	login *engine.LoginResponse
	qr    *engine.QRCodeState
	err   error
}

type connection struct {
	done    chan struct{}
	dropped bool
}

// Engine is a scripted engine.Engine. Queue results with Script, ScriptQR
// and Fail; calls with nothing queued use the defaults described on each
// method.
type Engine struct {
	mu sync.Mutex

	accountUin int64
	uin        int64
	status     engine.NetworkStatus
	conn       *connection
	conns      map[net.Conn]*connection
	queues     map[Op][]step
	calls      []Op
	stops      []engine.NetworkStatus
	tickets    []string
	passwords  []string
	tokens     []*engine.Token
	qrSigs     [][]byte
	issued     int

	// Device and Protocol are recorded by Factory.
	Device   *device.Device
	Protocol engine.Protocol
}

// New returns an engine that logs in as accountUin on every success.
func New(accountUin int64) *Engine {
	return &Engine{
		accountUin: accountUin,
		queues:     make(map[Op][]step),
		conns:      make(map[net.Conn]*connection),
	}
}

// Factory returns an engine.Factory that always hands out e.
func (e *Engine) Factory() engine.Factory {
	return func(dev *device.Device, protocol engine.Protocol) (engine.Engine, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.Device = dev
		e.Protocol = protocol
		return e, nil
	}
}

// SetAccountUin changes the account reported after the next success.
func (e *Engine) SetAccountUin(uin int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accountUin = uin
}

// Script queues a login response (or error) for op.
func (e *Engine) Script(op Op, resp *engine.LoginResponse, err error) {
	e.push(op, step{login: resp, err: err})
}

// ScriptQR queues a QR state (or error) for OpFetchQRCode or OpQueryQRCode.
func (e *Engine) ScriptQR(op Op, state *engine.QRCodeState, err error) {
	e.push(op, step{qr: state, err: err})
}

// Fail queues an error for an op that returns only an error, such as
// OpConnect, OpRegister or OpGenToken.
func (e *Engine) Fail(op Op, err error) {
	e.push(op, step{err: err})
}

func (e *Engine) push(op Op, s step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[op] = append(e.queues[op], s)
}

// pop records the call and returns the next scripted step. Callers hold mu.
func (e *Engine) pop(op Op) (step, bool) {
	e.calls = append(e.calls, op)
	q := e.queues[op]
	if len(q) == 0 {
		return step{}, false
	}
	e.queues[op] = q[1:]
	return q[0], true
}

func (e *Engine) loginResult(op Op) (*engine.LoginResponse, error) {
	s, ok := e.pop(op)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnscripted)
	}
	if s.err == nil && s.login != nil && s.login.Kind == engine.LoginSuccess {
		e.uin = e.accountUin
	}
	return s.login, s.err
}

// Connect hands out one end of an in-memory pipe.
func (e *Engine) Connect(ctx context.Context) (net.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.pop(OpConnect); ok && s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, remote := net.Pipe()
	remote.Close()
	e.conn = &connection{done: make(chan struct{})}
	e.conns[local] = e.conn
	return local, nil
}

// Start marks the engine online and blocks until Drop or Stop.
func (e *Engine) Start(conn net.Conn) {
	e.mu.Lock()
	e.calls = append(e.calls, OpStart)
	c := e.conns[conn]
	if c == nil {
		e.mu.Unlock()
		return
	}
	if !c.dropped {
		e.status = engine.StatusOnline
	}
	e.mu.Unlock()

	<-c.done
	if conn != nil {
		conn.Close()
	}
}

// Drop ends the latest connection as if the transport died, leaving status
// behind.
func (e *Engine) Drop(status engine.NetworkStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(status)
}

func (e *Engine) dropLocked(status engine.NetworkStatus) {
	e.status = status
	if e.conn != nil && !e.conn.dropped {
		e.conn.dropped = true
		close(e.conn.done)
	}
}

func (e *Engine) Stop(status engine.NetworkStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, OpStop)
	e.stops = append(e.stops, status)
	e.dropLocked(status)
}

func (e *Engine) Status() engine.NetworkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus overrides the reported status without touching the connection.
func (e *Engine) SetStatus(status engine.NetworkStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *Engine) Uin() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uin
}

func (e *Engine) PasswordLogin(_ context.Context, _ int64, password string) (*engine.LoginResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passwords = append(e.passwords, password)
	return e.loginResult(OpPasswordLogin)
}

func (e *Engine) SubmitTicket(_ context.Context, ticket string) (*engine.LoginResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickets = append(e.tickets, ticket)
	return e.loginResult(OpSubmitTicket)
}

func (e *Engine) DeviceLockLogin(context.Context) (*engine.LoginResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loginResult(OpDeviceLockLogin)
}

// TokenLogin succeeds unless something is scripted.
func (e *Engine) TokenLogin(_ context.Context, token *engine.Token) (*engine.LoginResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = append(e.tokens, token)
	if len(e.queues[OpTokenLogin]) == 0 {
		e.calls = append(e.calls, OpTokenLogin)
		e.uin = e.accountUin
		return Success(), nil
	}
	return e.loginResult(OpTokenLogin)
}

func (e *Engine) FetchQRCode(context.Context) (*engine.QRCodeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.pop(OpFetchQRCode)
	if !ok {
		return nil, fmt.Errorf("%s: %w", OpFetchQRCode, ErrUnscripted)
	}
	return s.qr, s.err
}

func (e *Engine) QueryQRCodeResult(_ context.Context, sig []byte) (*engine.QRCodeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qrSigs = append(e.qrSigs, append([]byte(nil), sig...))
	s, ok := e.pop(OpQueryQRCode)
	if !ok {
		return nil, fmt.Errorf("%s: %w", OpQueryQRCode, ErrUnscripted)
	}
	return s.qr, s.err
}

func (e *Engine) QRCodeLogin(context.Context, []byte, []byte, []byte) (*engine.LoginResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loginResult(OpQRCodeLogin)
}

// GenToken issues a fresh token for the logged-in account unless an error is
// queued.
func (e *Engine) GenToken(context.Context) (*engine.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.pop(OpGenToken); ok && s.err != nil {
		return nil, s.err
	}
	e.issued++
	return &engine.Token{
		Uin:      e.uin,
		Payload:  []byte(fmt.Sprintf("token-%d", e.issued)),
		IssuedAt: time.Unix(1700000000+int64(e.issued), 0).UTC(),
	}, nil
}

// RegisterAfterLogin succeeds unless an error is queued.
func (e *Engine) RegisterAfterLogin(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.pop(OpRegister); ok {
		return s.err
	}
	return nil
}

// Calls counts how many times op was invoked.
func (e *Engine) Calls(op Op) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == op {
			n++
		}
	}
	return n
}

// CallLog returns every call in order.
func (e *Engine) CallLog() []Op {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Op(nil), e.calls...)
}

// Stops returns the statuses passed to Stop.
func (e *Engine) Stops() []engine.NetworkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.NetworkStatus(nil), e.stops...)
}

// Tickets returns the captcha tickets submitted.
func (e *Engine) Tickets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tickets...)
}

// Passwords returns the passwords submitted to PasswordLogin.
func (e *Engine) Passwords() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.passwords...)
}

// Tokens returns the tokens presented to TokenLogin.
func (e *Engine) Tokens() []*engine.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.Token(nil), e.tokens...)
}

// QRSigs returns the signatures passed to QueryQRCodeResult.
func (e *Engine) QRSigs() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.qrSigs...)
}

// Success is a successful login response.
func Success() *engine.LoginResponse {
	return &engine.LoginResponse{Kind: engine.LoginSuccess, Account: &engine.AccountInfo{Nick: "tester"}}
}

// Response is a non-success login response of the given kind.
func Response(kind engine.LoginResponseKind, verifyURL, message string) *engine.LoginResponse {
	return &engine.LoginResponse{Kind: kind, VerifyURL: verifyURL, Message: message}
}

// QR is a QR state of the given kind with no payload.
func QR(kind engine.QRCodeStateKind) *engine.QRCodeState {
	return &engine.QRCodeState{Kind: kind}
}

// QRImage is a QRImageFetch state.
func QRImage(image, sig string) *engine.QRCodeState {
	return &engine.QRCodeState{Kind: engine.QRImageFetch, ImageData: []byte(image), Sig: []byte(sig)}
}

// QRConfirmed is a QRConfirmed state for uin.
func QRConfirmed(uin int64) *engine.QRCodeState {
	return &engine.QRCodeState{
		Kind: engine.QRConfirmed,
		Confirmation: &engine.QRCodeConfirmation{
			Uin:         uin,
			TmpPwd:      []byte("tmp-pwd"),
			TmpNoPicSig: []byte("tmp-no-pic-sig"),
			TgtQR:       []byte("tgt-qr"),
		},
	}
}
