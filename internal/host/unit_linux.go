//go:build linux

package host

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitProbe reads a systemd user unit's ActiveState over D-Bus.
type UnitProbe struct {
	unit string

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewUnitProbe(unit string) *UnitProbe {
	unit = strings.TrimSpace(unit)
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return &UnitProbe{unit: unit}
}

func (p *UnitProbe) Unit() string { return p.unit }

func (p *UnitProbe) Alive(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := dbus.NewUserConnectionContext(ctx)
		if err != nil {
			return false, fmt.Errorf("connect systemd user bus: %w", err)
		}
		p.conn = conn
	}

	units, err := p.conn.ListUnitsByNamesContext(ctx, []string{p.unit})
	if err != nil {
		// Reconnect on the next probe.
		p.conn.Close()
		p.conn = nil
		return false, fmt.Errorf("query unit %s: %w", p.unit, err)
	}
	for _, u := range units {
		if u.Name != p.unit {
			continue
		}
		if u.LoadState == "not-found" {
			return false, nil
		}
		return u.ActiveState == "active" || u.ActiveState == "reloading", nil
	}
	return false, nil
}

func (p *UnitProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
