package filter

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifybridge/internal/config"
)

var t0 = time.Date(2026, 5, 10, 20, 0, 0, 0, time.UTC)

func learningOn() *config.Learning {
	return &config.Learning{Enabled: true, Pending: map[string]string{}, ShownSession: map[string]string{}}
}

func TestBlockDominates(t *testing.T) {
	filters := config.Filters{Allow: []string{"com.a", "com.noisy"}, Block: []string{"com.noisy"}}
	for _, l := range []*config.Learning{learningOn(), {Enabled: false}, nil} {
		res := Decide("com.noisy", "Noisy", filters, l, t0)
		assert.Equal(t, Blocked, res.Decision)
		assert.False(t, res.Dirty)
		assert.False(t, res.Decision.Admitted())
	}
}

func TestAllowListAdmits(t *testing.T) {
	filters := config.Filters{Allow: []string{config.DefaultAllowedApp}}
	l := learningOn()
	res := Decide(config.DefaultAllowedApp, "Discord", filters, l, t0)
	assert.Equal(t, AllowedExplicit, res.Decision)
	assert.True(t, res.Decision.Admitted())
	assert.Empty(t, l.Pending)
	assert.Nil(t, l.LastReset)
}

func TestLearningDisabled(t *testing.T) {
	off := &config.Learning{Enabled: false}

	res := Decide("com.other", "", config.Filters{}, off, t0)
	assert.Equal(t, AllowedDefault, res.Decision)
	assert.True(t, res.Decision.Admitted())

	res = Decide("com.other", "", config.Filters{Allow: []string{"com.a"}}, off, t0)
	assert.Equal(t, LearnedSuppressedDisabled, res.Decision)
	assert.Equal(t, "not_in_allow", res.Decision.Reason())
	assert.False(t, res.Decision.Admitted())
}

func TestComparisonIsExact(t *testing.T) {
	filters := config.Filters{Block: []string{"com.A"}}
	res := Decide("com.a", "", filters, &config.Learning{}, t0)
	assert.Equal(t, AllowedDefault, res.Decision)

	res = Decide("", "", config.Filters{Allow: []string{""}}, nil, t0)
	assert.Equal(t, AllowedExplicit, res.Decision)
}

func TestFirstShowThenRepeat(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	l := learningOn()

	first := Decide("com.a", "App A", config.Filters{}, l, clock.Now())
	clock.Advance(2 * time.Minute)
	second := Decide("com.a", "App A", config.Filters{}, l, clock.Now())

	assert.Equal(t, []Decision{LearnedFirstShow, LearnedSuppressedRepeat}, []Decision{first.Decision, second.Decision})
	assert.True(t, first.Dirty)
	assert.False(t, second.Dirty)
	assert.Equal(t, "App A", l.Pending["com.a"])
	assert.Equal(t, t0.Format(time.RFC3339), l.ShownSession["com.a"])
	require.NotNil(t, l.LastReset)
	assert.True(t, l.LastReset.Equal(t0))
}

func TestNonEmptyAllowStillLearns(t *testing.T) {
	l := learningOn()
	res := Decide("com.new", "", config.Filters{Allow: []string{"com.a"}}, l, t0)
	assert.Equal(t, LearnedFirstShow, res.Decision)
	assert.Equal(t, "com.new", l.Pending["com.new"])
}

func TestPendingRecordedAgainAfterUserClearsIt(t *testing.T) {
	l := learningOn()
	Decide("com.a", "A", config.Filters{}, l, t0)
	delete(l.Pending, "com.a")

	res := Decide("com.a", "A", config.Filters{}, l, t0.Add(time.Minute))
	assert.Equal(t, LearnedSuppressedRepeat, res.Decision)
	assert.True(t, res.Dirty)
	assert.Equal(t, "A", l.Pending["com.a"])
}

func TestExpiredWindowShowsAgain(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	past := clock.Now().Add(-25 * time.Hour)
	l := learningOn()
	l.LastReset = &past
	l.ShownSession["com.a"] = past.Format(time.RFC3339)
	l.Pending["com.b"] = "B"

	res := Decide("com.a", "", config.Filters{}, l, clock.Now())
	assert.Equal(t, LearnedFirstShow, res.Decision)
	assert.True(t, res.Dirty)
	assert.Equal(t, map[string]string{"com.a": "com.a"}, l.Pending)
	assert.True(t, l.LastReset.Equal(clock.Now()))
}

func TestNilMapsAreCreated(t *testing.T) {
	l := &config.Learning{Enabled: true}
	res := Decide("com.a", "", config.Filters{}, l, t0)
	assert.Equal(t, LearnedFirstShow, res.Decision)
	assert.Len(t, l.ShownSession, 1)
}

func TestReasonsAreStable(t *testing.T) {
	want := map[Decision]string{
		Blocked:                   "blocked",
		AllowedExplicit:           "allowed",
		AllowedDefault:            "default_allow",
		LearnedFirstShow:          "learning_allow",
		LearnedSuppressedRepeat:   "learning_suppress",
		LearnedSuppressedDisabled: "not_in_allow",
	}
	for d, reason := range want {
		assert.Equal(t, reason, d.Reason())
	}
	assert.Equal(t, "unknown", Decision(0).Reason())
}
