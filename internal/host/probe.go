// Package host observes whether the VR host runtime is running.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"notifybridge/internal/config"
)

// Probe reports whether the host runtime is currently alive.
type Probe interface {
	Alive(ctx context.Context) (bool, error)
}

var ErrNoUnit = errors.New("systemd probe needs steamvr.unit")

// NewProbe builds the probe selected by cfg. It returns nil for the "none" probe.
func NewProbe(cfg config.SteamVR) (Probe, error) {
	switch cfg.Probe {
	case config.ProbeNone:
		return nil, nil
	case config.ProbeSystemd:
		if strings.TrimSpace(cfg.Unit) == "" {
			return nil, ErrNoUnit
		}
		return NewUnitProbe(cfg.Unit), nil
	case config.ProbeProcess, "":
		names := cfg.ProcessNames
		if len(names) == 0 {
			names = config.DefaultHostProcessNames
		}
		return NewProcessProbe(names), nil
	}
	return nil, fmt.Errorf("unknown host probe %q", cfg.Probe)
}

// ProcessProbe matches running process names, case-insensitively.
type ProcessProbe struct {
	names map[string]struct{}
}

func NewProcessProbe(names []string) *ProcessProbe {
	p := &ProcessProbe{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			p.names[n] = struct{}{}
		}
	}
	return p
}

func (p *ProcessProbe) Alive(ctx context.Context) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	for _, pr := range procs {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Processes exit between listing and lookup; skip them.
		name, err := pr.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if _, ok := p.names[strings.ToLower(name)]; ok {
			return true, nil
		}
	}
	return false, nil
}
