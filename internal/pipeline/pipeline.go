// Package pipeline runs one fetch, filter and dispatch cycle at a time.
//
// The pipeline owns the config document while the bridge runs: it is the only code
// that mutates learning state, and it flushes the document through the store when a
// cycle changed it. Callers must not run cycles concurrently.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"notifybridge/internal/config"
	"notifybridge/internal/filter"
	"notifybridge/internal/metrics"
	"notifybridge/internal/source"
	"notifybridge/internal/transport"
	logx "notifybridge/pkg/logx"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultSendTimeout  = 5 * time.Second

	sendFailLogInterval = 30 * time.Second

	categorySource       = "source"
	categoryAccessDenied = "access_denied"
)

// Saver persists the config document.
type Saver interface {
	Save(cfg *config.Config) error
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Fetched    int
	Duplicates int
	Sent       int
	Suppressed int
	SendFailed int
	// PollFailed is set when the source fetch failed and the cycle ended early.
	PollFailed bool
	// Idle is set when the source is permanently unavailable and no fetch was made.
	Idle    bool
	Flushed bool
}

type Pipeline struct {
	log    logx.Logger
	clock  clockwork.Clock
	src    source.Source
	sender transport.Sender
	store  Saver

	fetchTimeout time.Duration
	sendTimeout  time.Duration

	cfg          *config.Config
	seen         *seenSet
	sendFailLog  *rate.Limiter
	accessDenied bool
	// unsaved is set while a learning change has not reached disk.
	unsaved bool
}

type Option func(*Pipeline)

func WithLogger(l logx.Logger) Option { return func(p *Pipeline) { p.log = l } }

func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

func WithFetchTimeout(d time.Duration) Option { return func(p *Pipeline) { p.fetchTimeout = d } }

func WithSendTimeout(d time.Duration) Option { return func(p *Pipeline) { p.sendTimeout = d } }

func New(cfg *config.Config, src source.Source, sender transport.Sender, store Saver, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:          logx.Nop(),
		clock:        clockwork.NewRealClock(),
		src:          src,
		sender:       sender,
		store:        store,
		fetchTimeout: DefaultFetchTimeout,
		sendTimeout:  DefaultSendTimeout,
		cfg:          cfg,
		seen:         newSeenSet(),
		sendFailLog:  rate.NewLimiter(rate.Every(sendFailLogInterval), 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the document the pipeline is operating on.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// SetConfig swaps in a reloaded document. It takes effect on the next cycle.
func (p *Pipeline) SetConfig(cfg *config.Config) {
	if cfg != nil {
		p.cfg = cfg
	}
}

// Flush saves the current document.
func (p *Pipeline) Flush() error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Save(p.cfg); err != nil {
		p.unsaved = true
		metrics.ConfigSavesTotal.WithLabelValues("error").Inc()
		return err
	}
	p.unsaved = false
	metrics.ConfigSavesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Unsaved reports whether an earlier flush failed and the document still differs from disk.
func (p *Pipeline) Unsaved() bool { return p.unsaved }

// RunCycle fetches pending events and handles each in arrival order. Every event
// yields exactly one record: sent, suppressed or send_failed.
func (p *Pipeline) RunCycle(ctx context.Context) CycleReport {
	var rep CycleReport
	if p.accessDenied {
		rep.Idle = true
		return rep
	}

	start := p.clock.Now()
	defer func() { metrics.PollCycleDuration.Observe(p.clock.Since(start).Seconds()) }()

	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	events, err := p.src.Fetch(fctx)
	cancel()
	if err != nil {
		p.pollFailed(err)
		if !errors.Is(err, source.ErrAccessDenied) {
			rep.PollFailed = true
		} else {
			rep.Idle = true
		}
		// A monitor connection can drop after delivering some events; keep them.
		if len(events) == 0 {
			return rep
		}
	}
	rep.Fetched = len(events)

	dirty := false
	for _, ev := range events {
		now := p.clock.Now()
		if !p.seen.markNew(ev.Key(), now) {
			rep.Duplicates++
			metrics.DuplicatesSkipped.Inc()
			continue
		}

		res := filter.Decide(ev.AppID, ev.DisplayName, p.cfg.Filters, &p.cfg.Learning, now)
		dirty = dirty || res.Dirty
		reason := res.Decision.Reason()

		if !res.Decision.Admitted() {
			rep.Suppressed++
			metrics.NotificationsTotal.WithLabelValues("suppressed", reason).Inc()
			p.log.Event(logx.LevelInfo, "notification_suppressed",
				logx.String("app", ev.AppID),
				logx.String("reason", reason),
			)
			continue
		}

		if p.dispatch(ctx, ev, reason) {
			rep.Sent++
		} else {
			rep.SendFailed++
		}
	}

	p.seen.prune(p.clock.Now())

	if dirty || p.unsaved {
		if err := p.Flush(); err == nil {
			rep.Flushed = true
		}
	}
	return rep
}

func (p *Pipeline) dispatch(ctx context.Context, ev source.Event, reason string) bool {
	title, content := compose(ev)
	req := transport.Request{
		Title:          title,
		Content:        content,
		TimeoutSeconds: p.cfg.XSOverlay.NotificationTimeoutSeconds,
		Opacity:        p.cfg.XSOverlay.NotificationOpacity,
	}

	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	start := p.clock.Now()
	res, err := p.sender.Send(sctx, req)
	cancel()
	metrics.SendDuration.WithLabelValues(res.String()).Observe(p.clock.Since(start).Seconds())

	if res == transport.OK {
		metrics.NotificationsTotal.WithLabelValues("sent", reason).Inc()
		p.log.Event(logx.LevelInfo, "notification_sent",
			logx.String("app", ev.AppID),
			logx.String("reason", reason),
		)
		return true
	}

	category := res.String()
	metrics.NotificationsTotal.WithLabelValues("send_failed", category).Inc()

	// An offline overlay is expected; one error line per window is enough.
	lvl := logx.LevelError
	if res == transport.Unavailable && !p.sendFailLog.AllowN(p.clock.Now(), 1) {
		lvl = logx.LevelDebug
	}
	p.log.Event(lvl, "notification_send_failed",
		logx.String("app", ev.AppID),
		logx.String("reason", reason),
		logx.String("error_category", category),
		logx.Err(err),
	)
	return false
}

func (p *Pipeline) pollFailed(err error) {
	if errors.Is(err, source.ErrAccessDenied) {
		p.accessDenied = true
		metrics.PollFailuresTotal.WithLabelValues(categoryAccessDenied).Inc()
		p.log.Event(logx.LevelError, "notification_access_denied",
			logx.String("error_category", categoryAccessDenied),
			logx.Err(err),
			logx.String("hint", "grant notification access and restart the bridge"),
		)
		return
	}
	metrics.PollFailuresTotal.WithLabelValues(categorySource).Inc()
	p.log.Event(logx.LevelError, "notification_poll_failed",
		logx.String("error_category", categorySource),
		logx.Err(err),
	)
}
