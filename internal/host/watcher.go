package host

import (
	"context"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"notifybridge/internal/metrics"
	logx "notifybridge/pkg/logx"
)

// ProbeTimeout bounds a single liveness check.
const ProbeTimeout = 2 * time.Second

// Watcher polls a Probe and signals when a host it has seen alive goes away.
//
// A host that was never observed alive is reported once as host_runtime_absent and
// never produces a shutdown signal.
type Watcher struct {
	probe    Probe
	interval time.Duration
	log      logx.Logger
	clock    clockwork.Clock

	shutdowns chan struct{}

	seenAlive    bool
	absentLogged bool
}

type Option func(*Watcher)

func WithLogger(log logx.Logger) Option { return func(w *Watcher) { w.log = log } }

func WithClock(c clockwork.Clock) Option { return func(w *Watcher) { w.clock = c } }

func NewWatcher(probe Probe, interval time.Duration, opts ...Option) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w := &Watcher{
		probe:     probe,
		interval:  interval,
		log:       logx.Nop(),
		clock:     clockwork.NewRealClock(),
		shutdowns: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Shutdowns receives one value per alive -> not-alive transition.
func (w *Watcher) Shutdowns() <-chan struct{} { return w.shutdowns }

// Run probes until ctx is done. After a shutdown the watcher keeps going, so a host
// that is restarted and stopped again is reported again.
func (w *Watcher) Run(ctx context.Context) error {
	if c, ok := w.probe.(io.Closer); ok {
		defer c.Close()
	}
	for {
		w.check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	alive, err := w.probe.Alive(pctx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Debug("host probe failed", logx.Err(err))
		}
		return
	}

	if alive {
		if !w.seenAlive {
			w.log.Info("host runtime detected")
		}
		w.seenAlive = true
		metrics.HostAlive.Set(1)
		return
	}

	metrics.HostAlive.Set(0)
	if !w.seenAlive {
		if !w.absentLogged {
			w.absentLogged = true
			w.log.Event(logx.LevelInfo, "host_runtime_absent", logx.String("error_category", "environment"))
		}
		return
	}

	w.seenAlive = false
	w.log.Event(logx.LevelInfo, "host_shutdown_detected")
	select {
	case w.shutdowns <- struct{}{}:
	default:
	}
}
