package dbusmon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notifyMessage(appName, summary, body string, hints map[string]dbus.Variant) *dbus.Message {
	return &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldInterface: dbus.MakeVariant(notificationsInterface),
			dbus.FieldMember:    dbus.MakeVariant(notifyMember),
			dbus.FieldSender:    dbus.MakeVariant(":1.42"),
		},
		Body: []interface{}{appName, uint32(0), "", summary, body, []string{}, hints, int32(-1)},
	}
}

func TestParseNotifyPrefersDesktopEntry(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	msg := notifyMessage("Discord", "Alice", "hi there", map[string]dbus.Variant{
		"desktop-entry": dbus.MakeVariant("com.discordapp.Discord"),
	})

	ev, ok := parseNotify(msg, now)
	require.True(t, ok)
	assert.Equal(t, "com.discordapp.Discord", ev.AppID)
	assert.Equal(t, "Discord", ev.DisplayName)
	assert.Equal(t, "Alice", ev.Title)
	assert.Equal(t, []string{"hi there"}, ev.Body)
	assert.Equal(t, ":1.42/0", ev.ID)
	assert.Equal(t, now, ev.ReceivedAt)
}

func TestParseNotifyFallsBackToAppName(t *testing.T) {
	ev, ok := parseNotify(notifyMessage("Thunderbird", "Mail", "", nil), time.Now())
	require.True(t, ok)
	assert.Equal(t, "Thunderbird", ev.AppID)
	assert.Nil(t, ev.Body)
}

func TestParseNotifyIgnoresOtherMessages(t *testing.T) {
	msg := notifyMessage("x", "y", "z", nil)
	msg.Headers[dbus.FieldMember] = dbus.MakeVariant("CloseNotification")
	_, ok := parseNotify(msg, time.Now())
	assert.False(t, ok)

	short := notifyMessage("x", "y", "z", nil)
	short.Body = short.Body[:3]
	_, ok = parseNotify(short, time.Now())
	assert.False(t, ok)

	_, ok = parseNotify(nil, time.Now())
	assert.False(t, ok)
}

func TestAccessDeniedClassification(t *testing.T) {
	denied := dbus.Error{Name: accessDeniedError}
	assert.True(t, isAccessDenied(denied))
	assert.True(t, isAccessDenied(fmt.Errorf("wrapped: %w", &denied)))
	assert.False(t, isAccessDenied(dbus.Error{Name: "org.freedesktop.DBus.Error.Failed"}))
	assert.False(t, isAccessDenied(errors.New("plain")))
}

func TestFetchReportsDialFailure(t *testing.T) {
	m := New()
	calls := 0
	m.dial = func(context.Context) (*dbus.Conn, error) {
		calls++
		return nil, errors.New("no session bus")
	}

	events, err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session bus")
	assert.Empty(t, events)
	assert.Positive(t, calls)
	assert.NoError(t, m.Close())
}

func TestFetchGivesUpOnSilentBus(t *testing.T) {
	dir, err := os.MkdirTemp("", "bus")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "bus")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// Accept and hold connections without ever answering the auth handshake.
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path="+sock)

	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.Fetch(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.NoError(t, m.Close())
}
