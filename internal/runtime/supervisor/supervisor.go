// Package supervisor runs the bridge's background loops (config watcher, host watcher,
// debug server) under one cancellable context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	logx "notifybridge/pkg/logx"
)

// Supervisor manages named goroutines tied to a shared context.
// Panics are recovered and recorded as errors; Stop cancels and waits with a bound.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log   logx.Logger
	clock clockwork.Clock

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

func WithClock(c clockwork.Clock) Option { return func(s *Supervisor) { s.clock = c } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		clock:  clockwork.NewRealClock(),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Err returns the first error or panic observed, if any.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go runs fn once. A returned error other than context cancellation is recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.runSafe(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.setErr(fmt.Errorf("%s: %w", name, err))
			s.log.Warn("goroutine failed", logx.String("name", name), logx.Err(err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// GoRestart runs fn and restarts it after an error or panic with exponential backoff,
// until the supervisor context is cancelled. A clean return stops the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if fn == nil {
		return
	}
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}

	s.Go(name, func(ctx context.Context) error {
		backoff := minBackoff
		for {
			startedAt := s.clock.Now()
			err := s.runSafe(name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.setErr(fmt.Errorf("%s: %w", name, err))

			// A loop that ran for a while before failing starts over at the short delay.
			if s.clock.Since(startedAt) >= 30*time.Second {
				backoff = minBackoff
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))

			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	})
}

func (s *Supervisor) runSafe(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Stop cancels every goroutine and waits for them until ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
