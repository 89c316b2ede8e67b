package jsonl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "notifybridge/pkg/logx"
)

func TestReaderYieldsEventsInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"1","app_id":"com.a","display_name":"A","title":"hello","body":["l1","l2"]}`,
		``,
		`not json`,
		`{"id":"2","app_id":"com.b","title":"t","body":"single"}`,
		`{"app_id":"com.c","body":7}`,
		`{"app_id":"com.d"}`,
	}, "\n")

	var logs bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := New(strings.NewReader(input), WithLogger(logx.NewJSON(&logs, "debug")), WithClock(clock))

	first, err := r.Fetch(context.Background())
	require.NoError(t, err)
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}

	rest, err := r.Fetch(context.Background())
	require.NoError(t, err)
	events := append(first, rest...)
	require.Len(t, events, 3)

	assert.Equal(t, "com.a", events[0].AppID)
	assert.Equal(t, "A", events[0].DisplayName)
	assert.Equal(t, []string{"l1", "l2"}, events[0].Body)
	assert.Equal(t, clock.Now(), events[0].ReceivedAt)

	assert.Equal(t, []string{"single"}, events[1].Body)
	assert.Equal(t, "com.d", events[2].AppID)
	assert.Empty(t, events[2].ID)

	assert.Equal(t, 2, strings.Count(logs.String(), "skipping malformed event line"))

	events, err = r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, r.Close())
}

func TestFetchHonorsCancelledContext(t *testing.T) {
	r := New(strings.NewReader(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaderSkipsOversizedLineAndContinues(t *testing.T) {
	huge := `{"app_id":"com.big","title":"` + strings.Repeat("x", maxLineSize) + `"}`
	input := strings.Join([]string{
		`{"id":"1","app_id":"com.before"}`,
		huge,
		`{"id":"2","app_id":"com.after","body":"still here"}`,
	}, "\n")

	var logs bytes.Buffer
	r := New(strings.NewReader(input), WithLogger(logx.NewJSON(&logs, "debug")))

	first, err := r.Fetch(context.Background())
	require.NoError(t, err)
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}

	rest, err := r.Fetch(context.Background())
	require.NoError(t, err)
	events := append(first, rest...)
	var apps []string
	for _, ev := range events {
		apps = append(apps, ev.AppID)
	}
	assert.Contains(t, apps, "com.before")
	assert.Contains(t, apps, "com.after")
	assert.NotContains(t, apps, "com.big")
	assert.Contains(t, logs.String(), "skipping oversized event line")
}
