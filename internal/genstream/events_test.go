package genstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog(t *testing.T) (*miniredis.Miniredis, *EventLog) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewEventLog(rdb)
}

func readAll(t *testing.T, l *EventLog, jobID string) []Event {
	t.Helper()
	events, err := l.Read(context.Background(), jobID, "0-0", 100, time.Millisecond)
	require.NoError(t, err)
	return events
}

func TestAppendAndRead(t *testing.T) {
	_, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendToken(ctx, "j1", "Hel"))
	require.NoError(t, l.AppendToken(ctx, "j1", "lo"))
	require.NoError(t, l.AppendDone(ctx, "j1", map[string]any{"retrieved_chunks": 3}))

	events := readAll(t, l, "j1")
	require.Len(t, events, 3)

	assert.Equal(t, EventToken, events[0].Type)
	assert.Equal(t, "Hel", events[0].Data)
	assert.Equal(t, EventToken, events[1].Type)
	assert.Equal(t, EventDone, events[2].Type)
	assert.JSONEq(t, `{"retrieved_chunks":3}`, events[2].Data)
}

func TestSingleTerminalEvent(t *testing.T) {
	_, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendDone(ctx, "j1", map[string]string{"ok": "yes"}))
	// A second terminal of either kind is silently dropped.
	require.NoError(t, l.AppendError(ctx, "j1", "too late"))
	require.NoError(t, l.AppendDone(ctx, "j1", map[string]string{"ok": "again"}))

	events := readAll(t, l, "j1")
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
	assert.JSONEq(t, `{"ok":"yes"}`, events[0].Data)
}

func TestErrorTerminal(t *testing.T) {
	_, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendError(ctx, "j1", "collection missing"))
	require.NoError(t, l.AppendDone(ctx, "j1", map[string]string{}))

	events := readAll(t, l, "j1")
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.JSONEq(t, `{"error":"collection missing"}`, events[0].Data)
}

func TestStreamsAreIsolatedPerJob(t *testing.T) {
	_, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendToken(ctx, "a", "x"))
	require.NoError(t, l.AppendToken(ctx, "b", "y"))

	assert.Len(t, readAll(t, l, "a"), 1)
	assert.Len(t, readAll(t, l, "b"), 1)
	assert.Equal(t, "x", readAll(t, l, "a")[0].Data)
}

func TestStreamExpires(t *testing.T) {
	mr, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendToken(ctx, "j1", "tok"))
	mr.FastForward(streamTTL + time.Minute)

	assert.Empty(t, readAll(t, l, "j1"))
}

func TestReadAfterLastID(t *testing.T) {
	_, l := testLog(t)
	ctx := context.Background()

	require.NoError(t, l.AppendToken(ctx, "j1", "first"))
	first := readAll(t, l, "j1")
	require.Len(t, first, 1)

	require.NoError(t, l.AppendToken(ctx, "j1", "second"))

	events, err := l.Read(ctx, "j1", first[0].ID, 100, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "second", events[0].Data)
}
