// Package app wires the bridge together and drives its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"notifybridge/internal/config"
	"notifybridge/internal/host"
	"notifybridge/internal/instance"
	"notifybridge/internal/observability/debug"
	"notifybridge/internal/pipeline"
	"notifybridge/internal/runtime/supervisor"
	"notifybridge/internal/source"
	"notifybridge/internal/source/dbusmon"
	"notifybridge/internal/source/jsonl"
	"notifybridge/internal/transport"
	"notifybridge/internal/transport/xsoverlay"
	logx "notifybridge/pkg/logx"
)

// ErrAlreadyRunning is returned by Run when another bridge holds the instance lock.
var ErrAlreadyRunning = instance.ErrAlreadyRunning

const (
	// stopTimeout bounds the wait for background goroutines while draining.
	stopTimeout = 5 * time.Second
	// minPollRetry is the shortest wait after a failed fetch.
	minPollRetry = time.Second
)

const (
	SourceDBus  = "dbus"
	SourceStdin = "stdin"
)

// Options carries command-line overrides and injectable collaborators.
// Zero values select the defaults.
type Options struct {
	ConfigPath string
	// LockDir holds the single-instance lock. Defaults to the config directory.
	LockDir string

	// WSURL and PollInterval override the config document for this run only.
	WSURL        string
	PollInterval time.Duration
	LogLevel     string

	// SourceKind selects the built-in source when Source is nil: "dbus" or "stdin".
	SourceKind string

	Source source.Source
	Sender transport.Sender
	Probe  host.Probe

	// Logger replaces the config-driven log service.
	Logger logx.Logger
	Clock  clockwork.Clock
}

type urlSetter interface {
	SetURL(string)
}

type runner struct {
	opts  Options
	log   logx.Logger
	logs  *logx.Service
	clock clockwork.Clock
	lc    *lifecycle

	store  *config.Store
	pl     *pipeline.Pipeline
	src    source.Source
	sender transport.Sender

	pollInterval   time.Duration
	exitOnShutdown bool
}

// Run starts the bridge and blocks until it has stopped. A cancelled ctx drains the
// bridge and returns nil; so does a host shutdown when steamvr.exit_on_shutdown is set.
func Run(ctx context.Context, opts Options) error {
	r := &runner{opts: opts, clock: opts.Clock}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}

	bootLevel := "info"
	if opts.LogLevel != "" {
		bootLevel = opts.LogLevel
	}
	r.log = opts.Logger
	if r.log.IsZero() {
		r.log = logx.NewConsole(bootLevel)
	}
	r.lc = &lifecycle{log: r.log}
	r.lc.set(StateStarting)

	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			r.lc.set(StateStopped)
			return fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}
	lockDir := opts.LockDir
	if lockDir == "" {
		lockDir = filepath.Dir(path)
	}

	lock, err := instance.Acquire(lockDir, config.AppKey)
	if err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			r.log.Event(logx.LevelInfo, "already_running", logx.String("lock_dir", lockDir))
			r.stopped(StopAlreadyRun, r.clock.Now())
			return ErrAlreadyRunning
		}
		r.log.Event(logx.LevelError, "lock_unusable", logx.String("lock_dir", lockDir), logx.Err(err))
		r.stopped(StopFatalError, r.clock.Now())
		return fmt.Errorf("acquire single-instance lock: %w", err)
	}

	r.store = config.NewStore(path,
		config.WithLogger(r.log.With(logx.String("comp", "config"))),
		config.WithClock(r.clock),
	)
	cfg := r.store.Load()

	if opts.Logger.IsZero() {
		svc, log := logx.New(r.logConfig(cfg))
		defer svc.Close()
		r.logs = svc
		r.log = log
		r.lc.log = log
	}
	r.log = r.log.With(logx.String("run_id", uuid.NewString()))
	r.lc.log = r.log

	r.pollInterval = cfg.PollInterval()
	if opts.PollInterval > 0 {
		r.pollInterval = opts.PollInterval
	}
	r.exitOnShutdown = cfg.SteamVR.ExitOnShutdown

	wsURL := cfg.XSOverlay.WSURL
	if opts.WSURL != "" {
		wsURL = opts.WSURL
	}
	wsURL = xsoverlay.EnsureClientParam(wsURL)

	r.src = opts.Source
	if r.src == nil {
		r.src = r.newSource()
	}
	r.sender = opts.Sender
	if r.sender == nil {
		r.sender = xsoverlay.New(wsURL,
			xsoverlay.WithLogger(r.log.With(logx.String("comp", "xsoverlay"))),
			xsoverlay.WithClock(r.clock),
		)
	}
	r.pl = pipeline.New(cfg.Clone(), r.src, r.sender, r.store,
		pipeline.WithLogger(r.log.With(logx.String("comp", "pipeline"))),
		pipeline.WithClock(r.clock),
	)

	startedAt := r.clock.Now()
	r.log.Event(logx.LevelInfo, "run_start",
		logx.String("ws_url", wsURL),
		logx.String("config_path", path),
		logx.Duration("poll_interval", r.pollInterval),
		logx.Int("pid", os.Getpid()),
	)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	sup := supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(r.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithClock(r.clock),
	)

	reloads := r.store.Subscribe(4)
	defer r.store.Unsubscribe(reloads)
	sup.GoRestart("config.watch", r.store.Watch, time.Second, 30*time.Second)

	shutdowns := r.startHostWatcher(sup, cfg)

	if cfg.Debug.Enabled {
		srv := debug.New(cfg.Debug.Addr, debug.WithLogger(r.log.With(logx.String("comp", "debug"))))
		sup.GoRestart("debug.serve", srv.Run, 500*time.Millisecond, 10*time.Second)
	}

	r.lc.set(StateRunning)
	reason := r.loop(ctx, reloads, shutdowns)

	r.lc.set(StateDraining)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	if err := sup.Stop(stopCtx); err != nil {
		r.log.Warn("background tasks did not stop cleanly", logx.Err(err))
	}
	cancel()

	if r.pl.Unsaved() {
		_ = r.pl.Flush()
	}
	if err := r.sender.Close(); err != nil {
		r.log.Debug("transport close failed", logx.Err(err))
	}
	if err := r.src.Close(); err != nil {
		r.log.Debug("source close failed", logx.Err(err))
	}
	if err := lock.Release(); err != nil {
		r.log.Warn("instance lock release failed", logx.Err(err))
	}

	r.stopped(reason, startedAt)
	return nil
}

func (r *runner) stopped(reason StopReason, startedAt time.Time) {
	r.lc.set(StateStopped)
	r.log.Event(logx.LevelInfo, "run_stop",
		logx.String("reason", string(reason)),
		logx.Duration("uptime", r.clock.Since(startedAt)),
	)
}

func (r *runner) newSource() source.Source {
	log := r.log.With(logx.String("comp", "source"))
	if strings.EqualFold(r.opts.SourceKind, SourceStdin) {
		return jsonl.New(os.Stdin, jsonl.WithLogger(log), jsonl.WithClock(r.clock))
	}
	return dbusmon.New(dbusmon.WithLogger(log), dbusmon.WithClock(r.clock))
}

func (r *runner) startHostWatcher(sup *supervisor.Supervisor, cfg *config.Config) <-chan struct{} {
	probe := r.opts.Probe
	if probe == nil {
		p, err := host.NewProbe(cfg.SteamVR)
		if err != nil {
			r.log.Warn("host probe unavailable; shutdown detection disabled", logx.Err(err))
			return nil
		}
		probe = p
	}
	if probe == nil {
		return nil
	}
	w := host.NewWatcher(probe, config.Seconds(cfg.SteamVR.CheckIntervalSeconds),
		host.WithLogger(r.log.With(logx.String("comp", "host"))),
		host.WithClock(r.clock),
	)
	sup.Go("host.watch", w.Run)
	return w.Shutdowns()
}

// loop runs poll cycles until a stop is requested. A stop is observed between cycles;
// the cycle itself runs detached from ctx so in-flight sends complete.
func (r *runner) loop(ctx context.Context, reloads <-chan *config.Config, shutdowns <-chan struct{}) StopReason {
	var srcDone <-chan struct{}
	if d, ok := r.src.(interface{ Done() <-chan struct{} }); ok {
		srcDone = d.Done()
	}
	lastCycle := false

	for {
		if ctx.Err() != nil {
			return StopSignal
		}

		rep := r.pl.RunCycle(context.WithoutCancel(ctx))
		if lastCycle {
			return StopSourceClosed
		}

		wait := r.pollInterval
		if rep.PollFailed {
			wait = max(wait, minPollRetry)
		}

		timer := r.clock.NewTimer(wait)
	idle:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return StopSignal

			case <-shutdowns:
				if r.exitOnShutdown {
					timer.Stop()
					return StopHostShutdown
				}
				r.log.Event(logx.LevelInfo, "host_shutdown_ignored", logx.String("setting", "steamvr.exit_on_shutdown"))

			case next, ok := <-reloads:
				if ok && next != nil {
					r.applyReload(next)
				}

			case <-srcDone:
				srcDone = nil
				lastCycle = true
				timer.Stop()
				break idle

			case <-timer.Chan():
				break idle
			}
		}
	}
}

func (r *runner) applyReload(next *config.Config) {
	prev := r.pl.Config()
	r.pl.SetConfig(next.Clone())

	if r.opts.WSURL == "" && next.XSOverlay.WSURL != prev.XSOverlay.WSURL {
		if s, ok := r.sender.(urlSetter); ok {
			s.SetURL(next.XSOverlay.WSURL)
		}
	}
	if r.opts.PollInterval <= 0 {
		r.pollInterval = next.PollInterval()
	}
	r.exitOnShutdown = next.SteamVR.ExitOnShutdown
	if r.logs != nil {
		r.logs.Apply(r.logConfig(next))
	}

	if next.Debug != prev.Debug {
		r.log.Warn("debug server settings changed; restart required for changes to take effect")
	}
	if next.SteamVR.Probe != prev.SteamVR.Probe || next.SteamVR.Unit != prev.SteamVR.Unit ||
		next.SteamVR.CheckIntervalSeconds != prev.SteamVR.CheckIntervalSeconds ||
		strings.Join(next.SteamVR.ProcessNames, ",") != strings.Join(prev.SteamVR.ProcessNames, ",") {
		r.log.Warn("host probe settings changed; restart required for changes to take effect")
	}
	r.log.Debug("config reload applied")
}

func (r *runner) logConfig(cfg *config.Config) logx.Config {
	level := cfg.Logging.Level
	if r.opts.LogLevel != "" {
		level = r.opts.LogLevel
	}
	return logx.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
