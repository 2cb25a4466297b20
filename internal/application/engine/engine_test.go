package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/application/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter(d time.Duration) time.Duration { return d }

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := engine.NewBackoff(time.Second, 5*time.Second).WithJitter(noJitter)

	assert.Equal(t, 1*time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 1*time.Second, b.Next())
}

func TestBackoff_JitterWithinBounds(t *testing.T) {
	b := engine.NewBackoff(100*time.Millisecond, time.Second)
	for i := 0; i < 50; i++ {
		nominal := b.Delay(b.Attempt())
		got := b.Next()
		assert.GreaterOrEqual(t, got, nominal/2)
		assert.LessOrEqual(t, got, nominal)
	}
}

func TestBackoff_HugeAttemptDoesNotOverflow(t *testing.T) {
	b := engine.NewBackoff(time.Second, time.Minute)
	assert.Equal(t, time.Minute, b.Delay(62))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := engine.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Elapses(t *testing.T) {
	require.NoError(t, engine.Sleep(context.Background(), time.Millisecond))
}

func TestTruncateStr(t *testing.T) {
	assert.Equal(t, "short", engine.TruncateStr("short", 10))
	assert.Equal(t, "abcdefg...", engine.TruncateStr("abcdefghijklmnop", 10))
}
