// Package dbusmon observes desktop notifications on the D-Bus session bus.
//
// It becomes a bus monitor for org.freedesktop.Notifications.Notify calls, so it
// sees every notification an application sends without replacing the user's
// notification daemon.
package dbusmon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"

	"notifybridge/internal/source"
	logx "notifybridge/pkg/logx"
)

const (
	notificationsInterface = "org.freedesktop.Notifications"
	notifyMember           = "Notify"
	becomeMonitorMethod    = "org.freedesktop.DBus.Monitoring.BecomeMonitor"
	accessDeniedError      = "org.freedesktop.DBus.Error.AccessDenied"

	// DefaultQueueSize bounds events buffered between polls. The oldest are dropped first.
	DefaultQueueSize = 256
)

var matchRules = []string{
	"type='method_call',interface='" + notificationsInterface + "',member='" + notifyMember + "'",
}

// Monitor is a source.Source backed by a session bus monitor connection.
// The connection is opened lazily on the first Fetch and reopened after it drops.
type Monitor struct {
	log   logx.Logger
	clock clockwork.Clock
	dial  func(context.Context) (*dbus.Conn, error)

	queue *source.Queue

	mu     sync.Mutex
	conn   *dbus.Conn
	broken error
}

type Option func(*Monitor)

func WithLogger(l logx.Logger) Option { return func(m *Monitor) { m.log = l } }

func WithClock(c clockwork.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithQueueSize(n int) Option { return func(m *Monitor) { m.queue = source.NewQueue(n) } }

func New(opts ...Option) *Monitor {
	m := &Monitor{
		log:   logx.Nop(),
		clock: clockwork.NewRealClock(),
		dial:  dialSession,
		queue: source.NewQueue(DefaultQueueSize),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// dialSession opens a private session bus connection. The auth handshake and Hello
// have no deadline of their own, so they run aside and the connection is closed
// when ctx ends first.
func dialSession(ctx context.Context) (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, err
	}
	handshake := make(chan error, 1)
	go func() {
		if err := conn.Auth(nil); err != nil {
			handshake <- err
			return
		}
		handshake <- conn.Hello()
	}()
	select {
	case err := <-handshake:
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// Fetch drains the events captured since the previous call.
func (m *Monitor) Fetch(ctx context.Context) ([]source.Event, error) {
	if err := m.ensureConn(ctx); err != nil {
		return nil, err
	}

	events, dropped := m.queue.Drain()
	if dropped > 0 {
		m.log.Warn("notification queue overflow; oldest events dropped", logx.Int("dropped", dropped))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken != nil {
		err := m.broken
		m.broken = nil
		return events, err
	}
	return events, nil
}

func (m *Monitor) ensureConn(ctx context.Context) error {
	m.mu.Lock()
	connected := m.conn != nil
	m.mu.Unlock()
	if connected {
		return nil
	}

	var conn *dbus.Conn
	retrier := repeater.NewBackoff(3, 100*time.Millisecond, repeater.WithMaxDelay(time.Second))
	err := retrier.Do(ctx, func() error {
		c, err := m.dial(ctx)
		if err != nil {
			return fmt.Errorf("connect session bus: %w", err)
		}
		if err := becomeMonitor(ctx, c); err != nil {
			_ = c.Close()
			return err
		}
		conn = c
		return nil
	}, source.ErrAccessDenied)
	if err != nil {
		return err
	}

	ch := make(chan *dbus.Message, 64)
	conn.Eavesdrop(ch)

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	go m.read(conn, ch)
	m.log.Debug("session bus monitor attached")
	return nil
}

func becomeMonitor(ctx context.Context, conn *dbus.Conn) error {
	call := conn.BusObject().CallWithContext(ctx, becomeMonitorMethod, 0, matchRules, uint32(0))
	if call.Err == nil {
		return nil
	}
	if isAccessDenied(call.Err) {
		return fmt.Errorf("%w: %v", source.ErrAccessDenied, call.Err)
	}
	return fmt.Errorf("become monitor: %w", call.Err)
}

func isAccessDenied(err error) bool {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name == accessDeniedError
	}
	var dp *dbus.Error
	if errors.As(err, &dp) && dp != nil {
		return dp.Name == accessDeniedError
	}
	return false
}

func (m *Monitor) read(conn *dbus.Conn, ch <-chan *dbus.Message) {
	for msg := range ch {
		ev, ok := parseNotify(msg, m.clock.Now())
		if !ok {
			continue
		}
		m.queue.Push(ev)
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.broken = errors.New("session bus monitor connection closed")
	}
	m.mu.Unlock()
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// parseNotify extracts an event from a Notify method call.
// Signature: app_name s, replaces_id u, app_icon s, summary s, body s, actions as,
// hints a{sv}, expire_timeout i.
func parseNotify(msg *dbus.Message, now time.Time) (source.Event, bool) {
	if msg == nil || msg.Type != dbus.TypeMethodCall {
		return source.Event{}, false
	}
	if headerString(msg, dbus.FieldInterface) != notificationsInterface || headerString(msg, dbus.FieldMember) != notifyMember {
		return source.Event{}, false
	}
	if len(msg.Body) < 7 {
		return source.Event{}, false
	}

	appName, _ := msg.Body[0].(string)
	summary, _ := msg.Body[3].(string)
	body, _ := msg.Body[4].(string)
	hints, _ := msg.Body[6].(map[string]dbus.Variant)

	appID := appName
	if v, ok := hints["desktop-entry"]; ok {
		if s, ok := v.Value().(string); ok && s != "" {
			appID = s
		}
	}

	ev := source.Event{
		ID:          headerString(msg, dbus.FieldSender) + "/" + strconv.FormatUint(uint64(msg.Serial()), 10),
		AppID:       appID,
		DisplayName: appName,
		Title:       summary,
		ReceivedAt:  now,
	}
	if body != "" {
		ev.Body = []string{body}
	}
	return ev, true
}

func headerString(msg *dbus.Message, f dbus.HeaderField) string {
	v, ok := msg.Headers[f]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
