package uploads

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTracker(t *testing.T) (*miniredis.Miniredis, *Tracker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewTracker(rdb)
}

func TestCreateAndGet(t *testing.T) {
	_, tr := testTracker(t)
	ctx := context.Background()

	rec, err := tr.Create(ctx, "d1", "uploads/d1/a.pdf", "a.pdf", 600*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusPresigned, rec.Status)

	got, err := tr.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, rec.S3Key, got.S3Key)
	assert.Equal(t, "a.pdf", got.Filename)
}

func TestGetUnknownRecord(t *testing.T) {
	_, tr := testTracker(t)
	_, err := tr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordExpired)
}

func TestRecordExpiresAfterGrace(t *testing.T) {
	mr, tr := testTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "d1", "uploads/d1/a.pdf", "a.pdf", 600*time.Second)
	require.NoError(t, err)

	// Still readable inside the grace window after URL expiry.
	mr.FastForward(600*time.Second + 60*time.Second)
	_, err = tr.Get(ctx, "d1")
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)
	_, err = tr.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrRecordExpired)
}

func TestMatch(t *testing.T) {
	_, tr := testTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "d1", "uploads/d1/a.pdf", "a.pdf", time.Minute)
	require.NoError(t, err)

	rec, err := tr.Match(ctx, "d1", "uploads/d1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.DocID)

	_, err = tr.Match(ctx, "d1", "uploads/d1/b.pdf")
	assert.ErrorIs(t, err, ErrPairMismatch)

	_, err = tr.Match(ctx, "d2", "uploads/d1/a.pdf")
	assert.ErrorIs(t, err, ErrRecordExpired)
}

func TestSetStatusKeepsTTL(t *testing.T) {
	mr, tr := testTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "d1", "uploads/d1/a.pdf", "a.pdf", time.Minute)
	require.NoError(t, err)

	require.NoError(t, tr.SetStatus(ctx, "d1", StatusPromoted))

	rec, err := tr.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusPromoted, rec.Status)

	// The update must not reset the record to live forever.
	mr.FastForward(time.Minute + recordGrace + time.Second)
	_, err = tr.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrRecordExpired)
}

func TestSetStatusOnExpiredRecord(t *testing.T) {
	_, tr := testTracker(t)
	err := tr.SetStatus(context.Background(), "ghost", StatusFailed)
	assert.ErrorIs(t, err, ErrRecordExpired)
}
