//go:build !linux

package host

import (
	"context"
	"errors"
	"strings"
)

var ErrUnsupported = errors.New("systemd probe: unsupported OS (linux only)")

type UnitProbe struct {
	unit string
}

func NewUnitProbe(unit string) *UnitProbe {
	unit = strings.TrimSpace(unit)
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return &UnitProbe{unit: unit}
}

func (p *UnitProbe) Unit() string { return p.unit }

func (p *UnitProbe) Alive(context.Context) (bool, error) { return false, ErrUnsupported }

func (p *UnitProbe) Close() error { return nil }
