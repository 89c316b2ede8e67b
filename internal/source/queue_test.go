package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEvictsOldest(t *testing.T) {
	q := NewQueue(2)
	assert.False(t, q.Push(Event{ID: "1"}))
	assert.False(t, q.Push(Event{ID: "2"}))
	assert.True(t, q.Push(Event{ID: "3"}))

	got, dropped := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, 1, dropped)

	got, dropped = q.Drain()
	assert.Empty(t, got)
	assert.Zero(t, dropped)
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "com.a:7", Event{AppID: "com.a", ID: "7"}.Key())
	assert.Empty(t, Event{AppID: "com.a"}.Key())
}
