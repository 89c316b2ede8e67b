package host

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifybridge/internal/config"
	logx "notifybridge/pkg/logx"
)

type scriptedProbe struct {
	mu      sync.Mutex
	results []bool
	errs    []error
	calls   int
}

func (p *scriptedProbe) Alive(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return false, p.errs[i]
	}
	if i >= len(p.results) {
		return p.results[len(p.results)-1], nil
	}
	return p.results[i], nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	w     *Watcher
	logs  *syncBuffer
}

func start(t *testing.T, probe Probe) *harness {
	t.Helper()
	h := &harness{t: t, clock: clockwork.NewFakeClock(), logs: &syncBuffer{}}
	h.w = NewWatcher(probe, 2*time.Second,
		WithClock(h.clock),
		WithLogger(logx.NewJSON(h.logs, "debug")),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// tick waits for the watcher to sleep, then fires its timer.
func (h *harness) tick() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(2 * time.Second)
}

func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1))
}

func TestShutdownAfterAliveThenGone(t *testing.T) {
	h := start(t, &scriptedProbe{results: []bool{true, true, false}})
	h.tick()
	h.tick()

	select {
	case <-h.w.Shutdowns():
	case <-time.After(5 * time.Second):
		t.Fatal("no shutdown signal")
	}
	assert.Contains(t, h.logs.String(), `"event":"host_shutdown_detected"`)
}

func TestNeverSeenHostIsAbsentOnce(t *testing.T) {
	h := start(t, &scriptedProbe{results: []bool{false}})
	h.tick()
	h.tick()
	h.settle()

	select {
	case <-h.w.Shutdowns():
		t.Fatal("absent host must not signal shutdown")
	default:
	}
	assert.Equal(t, 1, strings.Count(h.logs.String(), `"event":"host_runtime_absent"`))
}

func TestProbeErrorsAreNotTransitions(t *testing.T) {
	boom := errors.New("bus gone")
	h := start(t, &scriptedProbe{
		results: []bool{true, false, true},
		errs:    []error{nil, boom, nil},
	})
	h.tick()
	h.tick()
	h.settle()

	select {
	case <-h.w.Shutdowns():
		t.Fatal("probe error treated as shutdown")
	default:
	}
	assert.Contains(t, h.logs.String(), "host probe failed")
}

func TestRestartedHostSignalsAgain(t *testing.T) {
	h := start(t, &scriptedProbe{results: []bool{true, false, true, false}})
	h.tick()
	select {
	case <-h.w.Shutdowns():
	case <-time.After(5 * time.Second):
		t.Fatal("first shutdown missing")
	}
	h.tick()
	h.tick()
	select {
	case <-h.w.Shutdowns():
	case <-time.After(5 * time.Second):
		t.Fatal("second shutdown missing")
	}
}

func TestProcessProbeFindsCurrentProcess(t *testing.T) {
	self, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	name, err := self.Name()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alive, err := NewProcessProbe([]string{strings.ToUpper(name)}).Alive(ctx)
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = NewProcessProbe([]string{"no-such-vr-host-process"}).Alive(ctx)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestNewProbeSelection(t *testing.T) {
	cfg := config.Default().SteamVR

	p, err := NewProbe(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ProcessProbe{}, p)

	cfg.Probe = config.ProbeNone
	p, err = NewProbe(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)

	cfg.Probe = config.ProbeSystemd
	_, err = NewProbe(cfg)
	assert.ErrorIs(t, err, ErrNoUnit)

	cfg.Unit = "steamvr"
	p, err = NewProbe(cfg)
	require.NoError(t, err)
	require.IsType(t, &UnitProbe{}, p)
	assert.Equal(t, "steamvr.service", p.(*UnitProbe).Unit())
}
