// Package mqtt implements engine.Engine against a protocol gateway reached
// over MQTT. Every engine call is a JSON request published to
// TopicRequest and answered on TopicResponse.
package mqtt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PiotrWarzachowski/go-chat-session/internal/device"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

const (
	TopicRequest  = "rpc/request"
	TopicResponse = "rpc/response"

	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	disconnectTimeout = time.Second
)

var (
	ErrNotConnected   = errors.New("gateway not connected")
	ErrConnectionLost = errors.New("gateway connection lost")

	errServerDisconnect = errors.New("gateway sent DISCONNECT")
)

// Config describes how to reach the gateway.
type Config struct {
	Addr           string
	TLS            bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Logger         *zap.Logger

	// Dial replaces the TCP/TLS dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewFactory returns an engine.Factory building gateway engines.
func NewFactory(cfg Config) engine.Factory {
	return func(dev *device.Device, protocol engine.Protocol) (engine.Engine, error) {
		return New(cfg, dev, protocol)
	}
}

var _ engine.Engine = (*Engine)(nil)

// Engine is a gateway-backed engine.Engine. It can be connected again after
// a disconnect; each Connect starts a new link.
type Engine struct {
	cfg      Config
	dev      *device.Device
	protocol engine.Protocol
	clientID string
	logger   *zap.Logger

	mu      sync.Mutex
	status  engine.NetworkStatus
	uin     int64
	link    *link
	pending map[string]chan *rpcResponse
}

// link is one gateway connection.
type link struct {
	conn   net.Conn
	reader *bufio.Reader
	ready  chan struct{}
	done   chan struct{}

	writeMu  sync.Mutex
	packetID uint16

	stopped   bool
	started   bool
	closeOnce sync.Once
}

func New(cfg Config, dev *device.Device, protocol engine.Protocol) (*Engine, error) {
	if cfg.Addr == "" && cfg.Dial == nil {
		return nil, errors.New("gateway address is required")
	}
	if dev == nil {
		return nil, errors.New("device is required")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID := uuid.NewString()
	return &Engine{
		cfg:      cfg,
		dev:      dev,
		protocol: protocol,
		clientID: clientID,
		logger:   logger.With(zap.String("client_id", clientID), zap.Stringer("protocol", protocol)),
		pending:  make(map[string]chan *rpcResponse),
	}, nil
}

func (e *Engine) dial(ctx context.Context) (net.Conn, error) {
	if e.cfg.Dial != nil {
		return e.cfg.Dial(ctx, "tcp", e.cfg.Addr)
	}
	dialer := &net.Dialer{Timeout: e.cfg.ConnectTimeout}
	if !e.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", e.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(e.cfg.Addr)
	if err != nil {
		return nil, err
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", e.cfg.Addr)
}

// Connect dials the gateway, completes CONNECT and subscribes to
// TopicResponse. The previous link, if any, is closed.
func (e *Engine) Connect(ctx context.Context) (net.Conn, error) {
	e.logger.Debug("connecting to gateway", zap.String("addr", e.cfg.Addr))
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	l := &link{
		conn:   conn,
		reader: bufio.NewReader(conn),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := e.handshake(ctx, l); err != nil {
		conn.Close()
		return nil, err
	}

	e.mu.Lock()
	old := e.link
	e.link = l
	e.mu.Unlock()
	if old != nil {
		old.close()
	}
	return conn, nil
}

func (e *Engine) handshake(ctx context.Context, l *link) error {
	deadline := time.Now().Add(e.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	l.conn.SetDeadline(deadline)
	defer l.conn.SetDeadline(time.Time{})

	info, err := e.connectInfo()
	if err != nil {
		return err
	}
	if _, err := l.conn.Write(connectPacket(e.clientID, e.cfg.KeepAlive, info)); err != nil {
		return fmt.Errorf("failed to send CONNECT: %w", err)
	}

	p, err := readPacket(l.reader)
	if err != nil {
		return fmt.Errorf("failed to read CONNACK: %w", err)
	}
	if p.kind != packetConnack {
		return fmt.Errorf("expected CONNACK, got packet type %d", p.kind)
	}
	sessionPresent, code, err := parseConnack(p.payload)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("connection refused, code: %d", code)
	}

	id := l.nextPacketID()
	if _, err := l.conn.Write(subscribePacket(id, TopicResponse)); err != nil {
		return fmt.Errorf("failed to send SUBSCRIBE: %w", err)
	}
	p, err = readPacket(l.reader)
	if err != nil {
		return fmt.Errorf("failed to read SUBACK: %w", err)
	}
	if p.kind != packetSuback {
		return fmt.Errorf("expected SUBACK, got packet type %d", p.kind)
	}
	ackID, codes, err := parseSuback(p.payload)
	if err != nil {
		return err
	}
	if ackID != id {
		return fmt.Errorf("SUBACK packet ID mismatch")
	}
	for _, c := range codes {
		if c == 0x80 {
			return fmt.Errorf("subscription to %s failed", TopicResponse)
		}
	}

	e.logger.Debug("gateway handshake complete", zap.Bool("session_present", sessionPresent))
	return nil
}

type connectInfo struct {
	ClientID  string `json:"client_id"`
	Uin       int64  `json:"uin,omitempty"`
	Protocol  string `json:"protocol"`
	AndroidID string `json:"android_id"`
	Model     string `json:"model"`
	BootID    string `json:"boot_id"`
}

func (e *Engine) connectInfo() ([]byte, error) {
	data, err := json.Marshal(connectInfo{
		ClientID:  e.clientID,
		Uin:       e.Uin(),
		Protocol:  e.protocol.String(),
		AndroidID: e.dev.AndroidID,
		Model:     e.dev.Model,
		BootID:    e.dev.BootID,
	})
	if err != nil {
		return nil, err
	}
	return compress(data)
}

// Start runs the receive and keep-alive loops for conn until the link
// ends. A link that dies on its own leaves StatusNetworkOffline behind, or
// StatusServerOffline when the gateway said goodbye.
func (e *Engine) Start(conn net.Conn) {
	e.mu.Lock()
	l := e.link
	if l == nil || l.conn != conn || l.started {
		e.mu.Unlock()
		conn.Close()
		return
	}
	l.started = true
	if !l.stopped {
		e.status = engine.StatusOnline
	}
	close(l.ready)
	e.mu.Unlock()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return e.readLoop(l) })
	g.Go(func() error { return e.keepAlive(ctx, l) })
	g.Go(func() error {
		<-ctx.Done()
		l.close()
		return nil
	})
	err := g.Wait()

	e.linkDown(l, err)
}

func (e *Engine) readLoop(l *link) error {
	for {
		l.conn.SetReadDeadline(time.Now().Add(e.cfg.KeepAlive * 2))
		p, err := readPacket(l.reader)
		if err != nil {
			return err
		}

		switch p.kind {
		case packetPublish:
			msg, err := parsePublish(p.flags, p.payload)
			if err != nil {
				return err
			}
			if msg.qos == 1 {
				if err := l.write(pubackPacket(msg.id)); err != nil {
					return err
				}
			}
			if msg.topic == TopicResponse {
				e.dispatch(msg.payload)
			}
		case packetDisconnect:
			return errServerDisconnect
		case packetPingresp, packetPuback, packetSuback:
		default:
			e.logger.Debug("ignoring gateway packet", zap.Uint8("type", p.kind))
		}
	}
}

func (e *Engine) keepAlive(ctx context.Context, l *link) error {
	ticker := time.NewTicker(e.cfg.KeepAlive / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.write(encodePacket(packetPingreq, 0, nil)); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func (e *Engine) linkDown(l *link, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l.close()
	if l.stopped || e.link != l {
		return
	}
	if errors.Is(err, errServerDisconnect) {
		e.status = engine.StatusServerOffline
	} else {
		e.status = engine.StatusNetworkOffline
	}
	e.logger.Warn("gateway connection lost", zap.Error(err), zap.Stringer("status", e.status))
}

// Stop records status and closes the current link. Stopping an already
// stopped link only records the status.
func (e *Engine) Stop(status engine.NetworkStatus) {
	e.mu.Lock()
	e.status = status
	l := e.link
	if l == nil || l.stopped {
		e.mu.Unlock()
		return
	}
	l.stopped = true
	e.mu.Unlock()

	select {
	case <-l.done:
	default:
		l.conn.SetWriteDeadline(time.Now().Add(disconnectTimeout))
		l.write(encodePacket(packetDisconnect, 0, nil))
	}
	l.close()
	e.logger.Debug("gateway link stopped", zap.Stringer("status", status))
}

func (e *Engine) Status() engine.NetworkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Uin() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uin
}

func (l *link) nextPacketID() uint16 {
	l.packetID++
	if l.packetID == 0 {
		l.packetID = 1
	}
	return l.packetID
}

func (l *link) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.conn.Write(data)
	return err
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}
