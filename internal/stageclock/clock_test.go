package stageclock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUnit = 5 * time.Millisecond

type tickLog struct {
	mu    sync.Mutex
	ticks []int
}

func (l *tickLog) add(r int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, r)
}

func (l *tickLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.ticks...)
}

func TestCountdownTicksThenExpiresOnce(t *testing.T) {
	c := New(WithUnit(testUnit))
	var log tickLog
	var expired atomic.Int32

	c.Start(4, log.add, func() { expired.Add(1) })

	require.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * testUnit)
	assert.Equal(t, int32(1), expired.Load())
	assert.False(t, c.Armed())

	ticks := log.snapshot()
	for i, r := range ticks {
		assert.True(t, r >= 1 && r <= 3, "tick %d out of range: %d", i, r)
		if i > 0 {
			assert.LessOrEqual(t, r, ticks[i-1])
		}
	}
}

func TestZeroDurationExpiresOnNextTick(t *testing.T) {
	c := New(WithUnit(testUnit))
	var log tickLog
	expired := make(chan struct{})

	c.Start(0, log.add, func() { close(expired) })

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("zero countdown never expired")
	}
	assert.Empty(t, log.snapshot())
}

func TestCancelSuppressesExpiry(t *testing.T) {
	c := New(WithUnit(testUnit))
	var expired atomic.Bool

	c.Start(2, nil, func() { expired.Store(true) })
	assert.True(t, c.Armed())
	c.Cancel()

	time.Sleep(10 * testUnit)
	assert.False(t, expired.Load())
	assert.False(t, c.Armed())
	assert.Equal(t, 0, c.Remaining())
}

func TestCancelFromTickCallback(t *testing.T) {
	c := New(WithUnit(testUnit))
	var log tickLog
	var expired atomic.Bool

	c.Start(5, func(r int) {
		log.add(r)
		c.Cancel()
	}, func() { expired.Store(true) })

	require.Eventually(t, func() bool { return len(log.snapshot()) > 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * testUnit)
	assert.Len(t, log.snapshot(), 1, "no tick after the callback cancelled")
	assert.False(t, expired.Load())
	assert.False(t, c.Armed())
}

func TestRestartCancelsPriorCountdown(t *testing.T) {
	c := New(WithUnit(testUnit))
	var first, second atomic.Int32

	c.Start(1, nil, func() { first.Add(1) })
	c.Start(3, nil, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * testUnit)
	assert.Equal(t, int32(0), first.Load())
}

func TestRemainingFollowsDeadlineNotTickCount(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	var offset atomic.Int64
	now := func() time.Time { return base.Add(time.Duration(offset.Load())) }

	c := New(WithUnit(testUnit), WithNow(now))
	var log tickLog
	expired := make(chan struct{})
	c.Start(10, log.add, func() { close(expired) })

	assert.Equal(t, 10, c.Remaining())

	// The host stalled for seven and a half seconds.
	offset.Store(int64(7*testUnit + testUnit/2))
	require.Eventually(t, func() bool {
		ticks := log.snapshot()
		return len(ticks) > 0 && ticks[len(ticks)-1] == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, c.Remaining())

	offset.Store(int64(10 * testUnit))
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("countdown did not expire at deadline")
	}
}
