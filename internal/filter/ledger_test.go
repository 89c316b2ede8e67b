package filter

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifybridge/internal/config"
)

func TestFirstResetOnlyStampsWindow(t *testing.T) {
	l := learningOn()
	l.Pending["com.a"] = "A"

	assert.True(t, ApplyDailyResetIfDue(l, t0))
	require.NotNil(t, l.LastReset)
	assert.True(t, l.LastReset.Equal(t0))
	assert.Equal(t, "A", l.Pending["com.a"])
}

func TestResetIdempotentWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	l := learningOn()
	ApplyDailyResetIfDue(l, clock.Now())
	l.Pending["com.a"] = "A"
	l.ShownSession["com.a"] = clock.Now().Format(time.RFC3339)

	for range 5 {
		clock.Advance(4 * time.Hour)
		assert.False(t, ApplyDailyResetIfDue(l, clock.Now()))
	}
	assert.Len(t, l.Pending, 1)
	assert.Len(t, l.ShownSession, 1)
	assert.True(t, l.LastReset.Equal(t0))
}

func TestResetClearsAtWindowBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	l := learningOn()
	ApplyDailyResetIfDue(l, clock.Now())
	l.Pending["com.a"] = "A"
	l.ShownSession["com.a"] = "x"

	clock.Advance(Window)
	assert.True(t, ApplyDailyResetIfDue(l, clock.Now()))
	assert.Empty(t, l.Pending)
	assert.Empty(t, l.ShownSession)
	assert.True(t, l.LastReset.Equal(clock.Now()))
}

func TestFutureResetIsPulledBack(t *testing.T) {
	future := t0.Add(72 * time.Hour)
	l := learningOn()
	l.LastReset = &future
	l.ShownSession["com.a"] = "x"

	assert.True(t, ApplyDailyResetIfDue(l, t0))
	assert.True(t, l.LastReset.Equal(t0))
	assert.Len(t, l.ShownSession, 1)
	assert.False(t, ApplyDailyResetIfDue(l, t0.Add(time.Hour)))
}

func TestResetNilLearning(t *testing.T) {
	assert.False(t, ApplyDailyResetIfDue((*config.Learning)(nil), t0))
}
