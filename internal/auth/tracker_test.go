package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(delays ...time.Duration) *Tracker {
	return NewTracker(TrackerOptions{
		Delays:       delays,
		IdleEviction: 30 * time.Minute,
	})
}

// TestTracker_FailureCount tests counting across independent keys
func TestTracker_FailureCount(t *testing.T) {
	tr := newTestTracker(time.Millisecond)
	defer tr.Destroy()

	ip := IPKey("10.0.0.1")
	user := UserKey("alice")

	assert.Equal(t, 0, tr.FailureCount(ip, user))

	tr.RecordFailure(ip, user)
	tr.RecordFailure(ip)
	assert.Equal(t, 2, tr.FailureCount(ip))
	assert.Equal(t, 1, tr.FailureCount(user))
	assert.Equal(t, 2, tr.FailureCount(ip, user), "worst key wins")

	// Unrelated keys stay untouched
	assert.Equal(t, 0, tr.FailureCount(IPKey("10.0.0.2")))
}

// TestTracker_DelayEscalation tests that repeated failures pick
// increasing delays and saturate at the last one
func TestTracker_DelayEscalation(t *testing.T) {
	delays := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	tr := newTestTracker(delays...)
	defer tr.Destroy()

	ctx := context.Background()
	key := UserKey("bob")

	assert.Equal(t, time.Duration(0), tr.Delay(ctx, key), "no failures, no wait")

	var prev time.Duration
	for i := 0; i < 5; i++ {
		tr.RecordFailure(key)
		got := tr.Delay(ctx, key)
		assert.GreaterOrEqual(t, got, prev, "delays never decrease")
		prev = got
	}
	assert.Equal(t, delays[len(delays)-1], prev, "delay saturates at the last step")
}

// TestTracker_DelayContextCancel tests that a cancelled context cuts
// the wait short
func TestTracker_DelayContextCancel(t *testing.T) {
	tr := newTestTracker(10 * time.Second)
	defer tr.Destroy()

	key := IPKey("10.0.0.9")
	tr.RecordFailure(key)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	tr.Delay(ctx, key)
	assert.Less(t, time.Since(start), 5*time.Second, "cancelled context must not wait out the full delay")
}

// TestTracker_Clear tests that success resets the counters
func TestTracker_Clear(t *testing.T) {
	tr := newTestTracker(time.Millisecond)
	defer tr.Destroy()

	ip := IPKey("10.0.0.1")
	user := UserKey("carol")
	tr.RecordFailure(ip, user)
	tr.RecordFailure(ip, user)
	require.Equal(t, 2, tr.FailureCount(ip, user))

	tr.Clear(ip, user)
	assert.Equal(t, 0, tr.FailureCount(ip, user))
	assert.Equal(t, time.Duration(0), tr.Delay(context.Background(), ip, user))
}

// TestTracker_IdleEviction tests the janitor dropping stale entries
func TestTracker_IdleEviction(t *testing.T) {
	tr := NewTracker(TrackerOptions{
		Delays:       []time.Duration{time.Millisecond},
		IdleEviction: 10 * time.Minute,
	})
	defer tr.Destroy()

	now := time.Now()
	tr.now = func() time.Time { return now }

	stale := UserKey("stale")
	fresh := UserKey("fresh")
	tr.RecordFailure(stale)

	now = now.Add(11 * time.Minute)
	tr.RecordFailure(fresh)
	require.Equal(t, 2, tr.size())

	tr.evict()
	assert.Equal(t, 1, tr.size())
	assert.Equal(t, 0, tr.FailureCount(stale))
	assert.Equal(t, 1, tr.FailureCount(fresh))
}

// TestTracker_Disabled tests that a disabled tracker never counts or
// waits
func TestTracker_Disabled(t *testing.T) {
	tr := NewTracker(TrackerOptions{
		Delays:   []time.Duration{10 * time.Second},
		Disabled: true,
	})
	defer tr.Destroy()

	key := IPKey("10.0.0.1")
	tr.RecordFailure(key)
	tr.RecordFailure(key)
	assert.Equal(t, 0, tr.FailureCount(key))

	start := time.Now()
	assert.Equal(t, time.Duration(0), tr.Delay(context.Background(), key))
	assert.Less(t, time.Since(start), time.Second)
}

// TestTracker_DestroyIdempotent tests that Destroy can be called twice
func TestTracker_DestroyIdempotent(t *testing.T) {
	tr := newTestTracker(time.Millisecond)
	tr.Destroy()
	tr.Destroy()
}
