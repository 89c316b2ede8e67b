package app

import (
	"notifybridge/internal/metrics"
	logx "notifybridge/pkg/logx"
)

// State is the bridge lifecycle. Transitions only move forward.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// StopReason is recorded in run_stop.
type StopReason string

const (
	StopSignal       StopReason = "signal"
	StopHostShutdown StopReason = "host_shutdown"
	StopSourceClosed StopReason = "source_closed"
	StopAlreadyRun   StopReason = "already_running"
	StopFatalError   StopReason = "fatal_error"
)

type lifecycle struct {
	log   logx.Logger
	state State
}

func (l *lifecycle) set(s State) {
	if s < l.state {
		return
	}
	l.state = s
	metrics.LifecycleState.Set(float64(s))
	l.log.Event(logx.LevelInfo, "lifecycle_state", logx.String("state", s.String()))
}
