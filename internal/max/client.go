package max

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"maxrelay/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL    = "wss://ws-api.oneme.ru/websocket"
	DefaultOrigin = "https://web.max.ru"

	defaultRequestTimeout = 20 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultReconnectMin   = 5 * time.Second
	defaultReconnectMax   = 60 * time.Second
	defaultInboxSize      = 1024
	webUserAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"
)

var (
	// ErrNotLoggedIn means there is no usable token; run the login flow.
	ErrNotLoggedIn = errors.New("max: not logged in")
	// ErrNotConnected is returned by requests made while no session is up.
	ErrNotConnected = errors.New("max: not connected")
)

// Config configures a Client.
type Config struct {
	URL            string
	Origin         string
	Phone          string
	Sessions       *SessionStore
	RequestTimeout time.Duration
	PingInterval   time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	InboxSize      int // messages buffered between the read loop and OnMessage
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

// Client keeps one authenticated MAX session alive and reconnects when it
// drops. It implements domain.Directory.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	conn *conn

	inbox     chan domain.InboundMessage
	onMessage func(domain.InboundMessage)
	onStart   func()
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectMin {
			cfg.ReconnectMax = cfg.ReconnectMin
		}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		inbox:  make(chan domain.InboundMessage, cfg.InboxSize),
	}
}

// OnMessage registers the handler for incoming messages. Run calls it from a
// single goroutine in arrival order, apart from the read loop, so a slow
// handler delays later messages but never request replies. Set it before Run.
func (c *Client) OnMessage(fn func(domain.InboundMessage)) { c.onMessage = fn }

// OnStart registers a callback run after every successful login.
func (c *Client) OnStart(fn func()) { c.onStart = fn }

// Run connects, logs in and serves notifications, reconnecting until ctx is
// cancelled. It returns ErrNotLoggedIn (wrapped) if the stored token is
// missing or rejected, since retrying cannot fix that.
func (c *Client) Run(ctx context.Context) error {
	deliverCtx, stopDeliver := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.deliver(deliverCtx)
	}()
	defer wg.Wait()
	defer stopDeliver()

	delay := c.cfg.ReconnectMin
	for {
		started := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrNotLoggedIn) {
			return err
		}
		if time.Since(started) > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMin
		}
		c.logger.Warn("max session ended, reconnecting", "err", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay *= 2
		if delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) runSession(ctx context.Context) error {
	sess, err := c.cfg.Sessions.Load(ctx, c.cfg.Phone)
	if err != nil {
		return err
	}
	if sess.Token == "" {
		return fmt.Errorf("%w: no token stored for %s", ErrNotLoggedIn, c.cfg.Phone)
	}

	cn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer c.detach(cn)

	if err := c.handshake(ctx, cn, sess.DeviceID); err != nil {
		return err
	}
	if err := c.login(ctx, cn, sess.Token); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: token rejected: %v", ErrNotLoggedIn, err)
		}
		return err
	}

	c.logger.Info("max session established", "phone", maskPhone(c.cfg.Phone))
	if c.onStart != nil {
		c.onStart()
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cn.done:
			return cn.err()
		case <-ticker.C:
			if err := cn.request(ctx, OpPing, map[string]any{"interactive": true}, nil, c.cfg.RequestTimeout); err != nil {
				cn.close(fmt.Errorf("ping: %w", err))
			}
		}
	}
}

// dial opens a connection, starts its read loop and makes it current.
func (c *Client) dial(ctx context.Context) (*conn, error) {
	header := http.Header{}
	header.Set("Origin", c.cfg.Origin)
	header.Set("User-Agent", webUserAgent)

	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	cn := newConn(ws, c.logger)
	go cn.readLoop(c.dispatch)

	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()
	return cn, nil
}

// Probe dials the server and completes SESSION_INIT without logging in.
func (c *Client) Probe(ctx context.Context) error {
	sess, err := c.cfg.Sessions.Load(ctx, c.cfg.Phone)
	if err != nil {
		return err
	}
	cn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer c.detach(cn)
	return c.handshake(ctx, cn, sess.DeviceID)
}

func (c *Client) detach(cn *conn) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	cn.close(errors.New("session closed"))
}

func (c *Client) handshake(ctx context.Context, cn *conn, deviceID string) error {
	payload := map[string]any{
		"deviceId": deviceID,
		"userAgent": map[string]any{
			"deviceType":      "WEB",
			"locale":          "ru",
			"deviceLocale":    "ru",
			"osVersion":       "Linux",
			"deviceName":      "Chrome",
			"headerUserAgent": webUserAgent,
			"appVersion":      "25.9.15",
			"screen":          "1080x1920 1.0x",
			"timezone":        "Europe/Moscow",
		},
	}
	if err := cn.request(ctx, OpSessionInit, payload, nil, c.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	return nil
}

func (c *Client) login(ctx context.Context, cn *conn, token string) error {
	payload := map[string]any{
		"interactive":  true,
		"token":        token,
		"chatsSync":    0,
		"contactsSync": 0,
		"presenceSync": 0,
		"draftsSync":   0,
		"chatsCount":   40,
	}
	if err := cn.request(ctx, OpLogin, payload, nil, c.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (c *Client) dispatch(f frame) {
	if f.Opcode != OpNotifMessage {
		c.logger.Debug("max push ignored", "opcode", f.Opcode)
		return
	}
	msg, err := parseNotification(f.Payload)
	if err != nil {
		c.logger.Warn("bad message notification", "err", err)
		return
	}
	c.logger.Debug("max message received", "chat_id", msg.ChatID, "message_id", msg.MessageID, "attachments", len(msg.Attachments))
	select {
	case c.inbox <- msg:
	default:
		c.logger.Error("message dropped: inbox full", "chat_id", msg.ChatID, "message_id", msg.MessageID, "inbox_size", cap(c.inbox))
	}
}

// deliver feeds queued messages to the OnMessage handler until ctx is done.
func (c *Client) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}
}

// call performs a request on the current connection.
func (c *Client) call(ctx context.Context, op Opcode, payload, out any) error {
	c.mu.RLock()
	cn := c.conn
	c.mu.RUnlock()
	if cn == nil {
		return ErrNotConnected
	}
	return cn.request(ctx, op, payload, out, c.cfg.RequestTimeout)
}

// conn is one WebSocket connection with its in-flight requests.
type conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	seq    atomic.Int64

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan frame
	closeErr error
	done     chan struct{}
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *conn {
	return &conn{
		ws:      ws,
		logger:  logger,
		pending: make(map[int64]chan frame),
		done:    make(chan struct{}),
	}
}

func (cn *conn) readLoop(push func(frame)) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			cn.close(fmt.Errorf("read: %w", err))
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			cn.logger.Warn("undecodable max frame", "err", err)
			continue
		}
		if f.Cmd == cmdOK || f.Cmd == cmdError {
			cn.mu.Lock()
			ch, ok := cn.pending[f.Seq]
			delete(cn.pending, f.Seq)
			cn.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		push(f)
	}
}

func (cn *conn) request(ctx context.Context, op Opcode, payload, out any, timeout time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	seq := cn.seq.Add(1)
	ch := make(chan frame, 1)

	cn.mu.Lock()
	if cn.closeErr != nil {
		err := cn.closeErr
		cn.mu.Unlock()
		return err
	}
	cn.pending[seq] = ch
	cn.mu.Unlock()
	defer func() {
		cn.mu.Lock()
		delete(cn.pending, seq)
		cn.mu.Unlock()
	}()

	data, _ := json.Marshal(frame{Ver: protocolVersion, Cmd: cmdRequest, Seq: seq, Opcode: op, Payload: raw})
	cn.writeMu.Lock()
	err = cn.ws.WriteMessage(websocket.TextMessage, data)
	cn.writeMu.Unlock()
	if err != nil {
		cn.close(fmt.Errorf("write: %w", err))
		return fmt.Errorf("send %s: %w", op, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Cmd == cmdError {
			apiErr := &APIError{Opcode: op}
			if err := json.Unmarshal(reply.Payload, apiErr); err != nil {
				apiErr.Code = "unknown"
			}
			return apiErr
		}
		if out != nil && len(reply.Payload) > 0 {
			if err := json.Unmarshal(reply.Payload, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", op, err)
			}
		}
		return nil
	case <-cn.done:
		return cn.err()
	case <-timer.C:
		return fmt.Errorf("%s: no reply within %s", op, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cn *conn) close(reason error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closeErr != nil {
		return
	}
	cn.closeErr = reason
	close(cn.done)
	_ = cn.ws.Close()
}

func (cn *conn) err() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closeErr == nil {
		return ErrNotConnected
	}
	return cn.closeErr
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:len(phone)-4] + "****"
}
