// Package xsoverlay delivers display requests to the XSOverlay websocket API.
package xsoverlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"notifybridge/internal/metrics"
	"notifybridge/internal/transport"
	logx "notifybridge/pkg/logx"
)

const (
	DefaultDialTimeout  = 2 * time.Second
	DefaultWriteTimeout = 2 * time.Second

	breakerFailureThreshold = 3
	defaultBreakerDelay     = 10 * time.Second
)

// Client keeps one websocket connection to the overlay and redials lazily on the next
// Send after it drops. While the breaker is open, sends fail fast as Unavailable.
type Client struct {
	log          logx.Logger
	clock        clockwork.Clock
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	breakerDelay time.Duration
	cb           circuitbreaker.CircuitBreaker[any]

	mu   sync.Mutex
	url  string
	conn *websocket.Conn
}

var _ transport.Sender = (*Client)(nil)

type Option func(*Client)

func WithLogger(l logx.Logger) Option { return func(c *Client) { c.log = l } }

func WithClock(cl clockwork.Clock) Option { return func(c *Client) { c.clock = cl } }

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialer.HandshakeTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option { return func(c *Client) { c.writeTimeout = d } }

// WithBreakerDelay sets how long the breaker stays open before probing again.
func WithBreakerDelay(d time.Duration) Option {
	return func(c *Client) { c.breakerDelay = d }
}

func New(wsURL string, opts ...Option) *Client {
	c := &Client{
		log:          logx.Nop(),
		clock:        clockwork.NewRealClock(),
		dialer:       &websocket.Dialer{HandshakeTimeout: DefaultDialTimeout},
		writeTimeout: DefaultWriteTimeout,
		breakerDelay: defaultBreakerDelay,
		url:          EnsureClientParam(wsURL),
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = newBreaker(c.log, c.breakerDelay)
	return c
}

func newBreaker(log logx.Logger, delay time.Duration) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Debug("overlay circuit breaker state changed",
				logx.String("from", e.OldState.String()),
				logx.String("to", e.NewState.String()),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues(e.NewState.String()).Inc()
			metrics.CircuitBreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()
}

func stateToFloat(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// URL returns the normalized endpoint.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetURL switches endpoints. An open connection to the old endpoint is closed.
func (c *Client) SetURL(wsURL string) {
	u := EnsureClientParam(wsURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if u == c.url {
		return
	}
	c.url = u
	c.dropLocked()
	c.log.Info("overlay endpoint changed", logx.String("ws_url", u))
}

func (c *Client) Send(ctx context.Context, req transport.Request) (transport.Result, error) {
	payload, err := BuildMessage(req)
	if err != nil {
		return transport.MalformedPayload, err
	}

	if !c.cb.TryAcquirePermit() {
		return transport.Unavailable, fmt.Errorf("overlay unavailable: %w", circuitbreaker.ErrOpen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			c.cb.RecordError(err)
			return transport.Unavailable, err
		}
	}

	deadline := c.clock.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		err = fmt.Errorf("write overlay message: %w", err)
		c.cb.RecordError(err)
		return transport.Unavailable, err
	}

	c.cb.RecordSuccess()
	return transport.OK, nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		metrics.OverlayConnectsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("dial overlay: %w", err)
	}
	metrics.OverlayConnectsTotal.WithLabelValues("ok").Inc()
	c.conn = conn
	go c.discardReads(conn)
	c.log.Debug("overlay connected", logx.String("ws_url", c.url))
	return nil
}

// discardReads services control frames and notices when the overlay hangs up, so
// the next Send redials instead of writing into a dead socket.
func (c *Client) discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.dropLocked()
			}
			c.mu.Unlock()
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug("overlay connection closed", logx.Err(err))
			}
			return
		}
	}
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

// Close sends a close frame when connected and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
