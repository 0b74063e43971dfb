// Package signal is the websocket signaling client.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("signal send queue full")
	ErrClosed       = errors.New("signal connection closed")
	ErrNotConnected = errors.New("signal not connected")
)

const (
	writeWait      = 5 * time.Second
	defaultQueue   = 64
	defaultTimeout = 10 * time.Second
)

var _ core.SignalClient = (*Client)(nil)

// Handler receives decoded inbound messages on the read pump goroutine.
type Handler interface {
	HandleMessage(ctx context.Context, msg domain.SignalingMessage)
}

type Config struct {
	URL            string
	ICEURL         string
	Channel        string
	ClientID       string
	Role           string
	QueueSize      int
	ReconnectDelay time.Duration
	OfferLimit     int
	OfferInterval  time.Duration
	HTTPTimeout    time.Duration
}

// Client keeps one websocket to the signaling service and reconnects on loss.
type Client struct {
	cfg     Config
	handler Handler
	limiter *OfferRateLimiter
	metrics *metrics.Metrics
	http    *http.Client
	dialer  *websocket.Dialer

	mu     sync.RWMutex
	conn   *wsConn
	closed bool
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueue
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Client{
		cfg:     cfg,
		limiter: NewOfferRateLimiter(cfg.OfferLimit, cfg.OfferInterval),
		metrics: m,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HTTPTimeout},
	}
}

// SetHandler must be called before Run.
func (c *Client) SetHandler(h Handler) { c.handler = h }

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg domain.Outbound) error {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return conn.TrySend(msg)
}

// QueryServerConfigs asks the signaling service for the channel's server groups.
func (c *Client) QueryServerConfigs(ctx context.Context) ([]domain.ServerGroup, error) {
	u, err := url.Parse(c.cfg.ICEURL)
	if err != nil {
		return nil, fmt.Errorf("%w: ice url: %v", domain.ErrInvalidArgument, err)
	}
	q := u.Query()
	q.Set("channel", c.cfg.Channel)
	q.Set("clientId", c.cfg.ClientID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice config: status %d", resp.StatusCode)
	}
	var body iceConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: ice config: %v", domain.ErrParseFailure, err)
	}
	return body.groups(), nil
}

// Run holds the connection open until ctx is cancelled or Close is called,
// redialing after ReconnectDelay.
func (c *Client) Run(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("%w: signal handler not set", domain.ErrInvalidArgument)
	}
	for {
		err := c.session(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		log.Warn().Str("module", "signal").Err(err).Dur("delay", c.cfg.ReconnectDelay).Msg("signaling connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: signaling url: %v", domain.ErrInvalidArgument, err)
	}
	q := u.Query()
	q.Set("channel", c.cfg.Channel)
	q.Set("clientId", c.cfg.ClientID)
	q.Set("role", c.cfg.Role)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	conn := newWsConn(ws, c.cfg.QueueSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("module", "signal").Str("channel", c.cfg.Channel).Msg("signaling connected")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		conn.Close()
	}()
	go conn.writePump()

	err = c.readPump(sctx, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
	return err
}

func (c *Client) readPump(ctx context.Context, conn *wsConn) error {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := decodeEnvelope(data)
		if err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("bad envelope")
			c.metrics.Dropped(metrics.DropBadPayload)
			continue
		}
		if msg.Type == domain.MessageOffer && !c.limiter.Allow(msg.RemoteID) {
			log.Warn().Str("module", "signal").Str("remote_id", msg.RemoteID).Msg("offer rate limit exceeded")
			c.metrics.Dropped(metrics.DropRateLimited)
			continue
		}
		c.handler.HandleMessage(ctx, msg)
	}
}

// wsConn owns one websocket and its outbound queue.
type wsConn struct {
	ws   *websocket.Conn
	send chan domain.Outbound

	mu     sync.RWMutex
	closed bool
}

func newWsConn(ws *websocket.Conn, queue int) *wsConn {
	return &wsConn{ws: ws, send: make(chan domain.Outbound, queue)}
}

func (c *wsConn) TrySend(msg domain.Outbound) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the connection and completes every message still queued.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.ws.Close()
	for msg := range c.send {
		complete(msg, ErrClosed)
	}
}

func (c *wsConn) writePump() {
	for msg := range c.send {
		data, err := encodeEnvelope(msg)
		if err == nil {
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.ws.WriteMessage(websocket.TextMessage, data)
		}
		complete(msg, err)
		if err != nil {
			log.Warn().Str("module", "signal").Str("remote_id", msg.RemoteID).Err(err).Msg("write failed")
		}
	}
}

func complete(msg domain.Outbound, err error) {
	if msg.OnComplete != nil {
		msg.OnComplete(err)
	}
}
