package browserpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionhost/logger"
)

func init() {
	logger.InitLogger("error")
}

// fakeLauncher issues instances without spawning any real process, so pool
// tests exercise only the actor's admission/bookkeeping logic.
type fakeLauncher struct {
	fail int32 // launches while >0 fail, decrementing each call
}

func (f *fakeLauncher) Launch(ctx context.Context) (*Instance, error) {
	if atomic.LoadInt32(&f.fail) > 0 {
		atomic.AddInt32(&f.fail, -1)
		return nil, assertError{"launch failed"}
	}
	return &Instance{ID: uuid.NewString(), DebuggerURL: "ws://127.0.0.1:0/devtools/" + uuid.NewString()}, nil
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func testBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 100 },
	})
}

func TestPool_AllocateUpToCapacity(t *testing.T) {
	p := New(2, &fakeLauncher{}, nil, testBreaker())
	ctx := context.Background()

	id1, err := p.Allocate(ctx)
	require.NoError(t, err)
	id2, err := p.Allocate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, 2, stats.InUse)
}

func TestPool_AllocateBeyondCapacityFails(t *testing.T) {
	p := New(1, &fakeLauncher{}, nil, testBreaker())
	ctx := context.Background()

	_, err := p.Allocate(ctx)
	require.NoError(t, err)

	_, err = p.Allocate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
}

func TestPool_FailedLaunchReturnsSlot(t *testing.T) {
	p := New(1, &fakeLauncher{fail: 1}, nil, testBreaker())
	ctx := context.Background()

	_, err := p.Allocate(ctx)
	require.Error(t, err)

	// The slot must have been returned: a second allocate now succeeds.
	id, err := p.Allocate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPool_ReleaseReturnsSlotAndIsIdempotent(t *testing.T) {
	p := New(1, &fakeLauncher{}, nil, testBreaker())
	ctx := context.Background()

	id, err := p.Allocate(ctx)
	require.NoError(t, err)

	p.Release(id)
	assert.Eventually(t, func() bool {
		return p.Stats().Available == 1
	}, time.Second, 10*time.Millisecond)

	// Idempotent: releasing the same (now-unknown) id again changes nothing.
	p.Release(id)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestPool_LookupDebuggerURL(t *testing.T) {
	p := New(1, &fakeLauncher{}, nil, testBreaker())
	ctx := context.Background()

	id, err := p.Allocate(ctx)
	require.NoError(t, err)

	url, ok := p.LookupDebuggerURL(id)
	assert.True(t, ok)
	assert.NotEmpty(t, url)

	_, ok = p.LookupDebuggerURL("unknown-id")
	assert.False(t, ok)
}

func TestPool_ResourceUsageReportsOneEntryPerInstance(t *testing.T) {
	p := New(2, &fakeLauncher{}, nil, testBreaker())
	ctx := context.Background()

	id1, err := p.Allocate(ctx)
	require.NoError(t, err)
	id2, err := p.Allocate(ctx)
	require.NoError(t, err)

	usage := p.ResourceUsage()
	require.Len(t, usage, 2)
	ids := map[string]bool{usage[0].ID: true, usage[1].ID: true}
	assert.True(t, ids[id1])
	assert.True(t, ids[id2])
}

func TestPool_WarmupFillsCapacity(t *testing.T) {
	p := New(3, &fakeLauncher{}, nil, testBreaker())
	err := p.Warmup(context.Background())
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 3, stats.InUse)
	assert.Equal(t, 0, stats.Available)
}

func TestPool_WarmupFailsOnlyIfFirstRoundSpawnsNothing(t *testing.T) {
	p := New(2, &fakeLauncher{fail: 1000}, nil, testBreaker())
	err := p.Warmup(context.Background())
	require.Error(t, err)
}
