package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RPCError is a failure reported by the gateway for one call.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
}

// call publishes one request and waits for its response. Calls made before
// Start wait for the link to become ready.
func (e *Engine) call(ctx context.Context, method string, params, out any) error {
	e.mu.Lock()
	l := e.link
	e.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	select {
	case <-l.ready:
	case <-l.done:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
	// ready stays closed after the link dies
	select {
	case <-l.done:
		return ErrConnectionLost
	default:
	}

	req := rpcRequest{ID: uuid.NewString(), Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	data, err = compress(data)
	if err != nil {
		return err
	}

	ch := make(chan *rpcResponse, 1)
	e.mu.Lock()
	e.pending[req.ID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ID)
		e.mu.Unlock()
	}()

	l.writeMu.Lock()
	id := l.nextPacketID()
	_, err = l.conn.Write(publishPacket(TopicRequest, 1, id, data))
	l.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s request: %w", method, err)
	}

	var resp *rpcResponse
	select {
	case resp = <-ch:
	case <-l.done:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}

	if resp.Error != "" {
		return &RPCError{Method: method, Message: resp.Error}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func (e *Engine) dispatch(payload []byte) {
	// the gateway may answer uncompressed
	if data, err := decompress(payload); err == nil {
		payload = data
	}
	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		e.logger.Warn("malformed gateway response", zap.Error(err))
		return
	}

	e.mu.Lock()
	ch, ok := e.pending[resp.ID]
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("response for unknown request", zap.String("id", resp.ID))
		return
	}
	select {
	case ch <- &resp:
	default:
	}
}

type loginResult struct {
	Kind      string              `json:"kind"`
	Uin       int64               `json:"uin,omitempty"`
	Account   *engine.AccountInfo `json:"account,omitempty"`
	VerifyURL string              `json:"verify_url,omitempty"`
	Message   string              `json:"message,omitempty"`
	SMSPhone  string              `json:"sms_phone,omitempty"`
	Status    int                 `json:"status,omitempty"`
}

func parseLoginKind(name string) engine.LoginResponseKind {
	for k := engine.LoginSuccess; k < engine.LoginUnknown; k++ {
		if k.String() == name {
			return k
		}
	}
	return engine.LoginUnknown
}

// login runs a login call and records the account on success.
func (e *Engine) login(ctx context.Context, method string, params any, uin int64) (*engine.LoginResponse, error) {
	var res loginResult
	if err := e.call(ctx, method, params, &res); err != nil {
		return nil, err
	}
	resp := &engine.LoginResponse{
		Kind:      parseLoginKind(res.Kind),
		Account:   res.Account,
		VerifyURL: res.VerifyURL,
		Message:   res.Message,
		SMSPhone:  res.SMSPhone,
		Status:    res.Status,
	}
	if resp.Kind == engine.LoginSuccess {
		if res.Uin != 0 {
			uin = res.Uin
		}
		e.mu.Lock()
		if uin != 0 {
			e.uin = uin
		}
		e.mu.Unlock()
	}
	return resp, nil
}

func (e *Engine) PasswordLogin(ctx context.Context, uin int64, password string) (*engine.LoginResponse, error) {
	params := map[string]any{"uin": uin, "password": password, "protocol": e.protocol.String()}
	return e.login(ctx, "password_login", params, uin)
}

func (e *Engine) SubmitTicket(ctx context.Context, ticket string) (*engine.LoginResponse, error) {
	return e.login(ctx, "submit_ticket", map[string]string{"ticket": ticket}, 0)
}

func (e *Engine) DeviceLockLogin(ctx context.Context) (*engine.LoginResponse, error) {
	return e.login(ctx, "device_lock_login", nil, 0)
}

func (e *Engine) TokenLogin(ctx context.Context, token *engine.Token) (*engine.LoginResponse, error) {
	if token == nil {
		return nil, fmt.Errorf("token login: nil token")
	}
	return e.login(ctx, "token_login", map[string]any{"token": token}, token.Uin)
}

type qrResult struct {
	Kind         string        `json:"kind"`
	Image        []byte        `json:"image,omitempty"`
	Sig          []byte        `json:"sig,omitempty"`
	Confirmation *confirmation `json:"confirmation,omitempty"`
}

type confirmation struct {
	Uin         int64  `json:"uin"`
	TmpPwd      []byte `json:"tmp_pwd"`
	TmpNoPicSig []byte `json:"tmp_no_pic_sig"`
	TgtQR       []byte `json:"tgt_qr"`
}

func (e *Engine) qrCall(ctx context.Context, method string, params any) (*engine.QRCodeState, error) {
	var res qrResult
	if err := e.call(ctx, method, params, &res); err != nil {
		return nil, err
	}
	state := &engine.QRCodeState{Kind: -1, ImageData: res.Image, Sig: res.Sig}
	for k := engine.QRImageFetch; k <= engine.QRCanceled; k++ {
		if k.String() == res.Kind {
			state.Kind = k
		}
	}
	if state.Kind < 0 {
		return nil, fmt.Errorf("gateway %s: unknown QR code state %q", method, res.Kind)
	}
	if c := res.Confirmation; c != nil {
		state.Confirmation = &engine.QRCodeConfirmation{
			Uin:         c.Uin,
			TmpPwd:      c.TmpPwd,
			TmpNoPicSig: c.TmpNoPicSig,
			TgtQR:       c.TgtQR,
		}
	}
	if state.Kind == engine.QRConfirmed && state.Confirmation == nil {
		return nil, fmt.Errorf("gateway %s: confirmed without credentials", method)
	}
	return state, nil
}

func (e *Engine) FetchQRCode(ctx context.Context) (*engine.QRCodeState, error) {
	return e.qrCall(ctx, "fetch_qrcode", nil)
}

func (e *Engine) QueryQRCodeResult(ctx context.Context, sig []byte) (*engine.QRCodeState, error) {
	return e.qrCall(ctx, "query_qrcode_result", map[string][]byte{"sig": sig})
}

func (e *Engine) QRCodeLogin(ctx context.Context, tmpPwd, tmpNoPicSig, tgtQR []byte) (*engine.LoginResponse, error) {
	params := map[string][]byte{"tmp_pwd": tmpPwd, "tmp_no_pic_sig": tmpNoPicSig, "tgt_qr": tgtQR}
	return e.login(ctx, "qrcode_login", params, 0)
}

func (e *Engine) GenToken(ctx context.Context) (*engine.Token, error) {
	var token engine.Token
	if err := e.call(ctx, "gen_token", nil, &token); err != nil {
		return nil, err
	}
	if token.Uin == 0 {
		token.Uin = e.Uin()
	}
	return &token, nil
}

func (e *Engine) RegisterAfterLogin(ctx context.Context) error {
	return e.call(ctx, "register_after_login", nil, nil)
}
