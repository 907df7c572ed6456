package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ci/jpansim4r/sim/trace"
)

// collector is a terminal subscriber that records everything it receives.
type collector[T any] struct {
	initial int64

	mu    sync.Mutex
	sub   Subscription
	items []T
	err   error
	done  chan struct{}
}

func newCollector[T any](initial int64) *collector[T] {
	return &collector[T]{initial: initial, done: make(chan struct{})}
}

func (c *collector[T]) OnSubscribe(s Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
	s.Request(c.initial)
}

func (c *collector[T]) OnNext(item T) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
}

func (c *collector[T]) OnError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

func (c *collector[T]) OnComplete() { close(c.done) }

func (c *collector[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *collector[T]) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func multiply(_ context.Context, item, param int) (int, error) { return item * param, nil }

func sorted(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	return out
}

func TestStage_ExpandsUpstreamByParams(t *testing.T) {
	// GIVEN 3 prototypes and 2 parameters
	pool := NewPool("build", 2)
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3), multiply, []int{10, 20}, pool)

	// WHEN everything is requested
	c := newCollector[int](100)
	st.Subscribe(c)

	// THEN every prototype meets every parameter exactly once
	require.NoError(t, c.wait(t))
	assert.Equal(t, []int{10, 20, 20, 30, 40, 60}, sorted(c.Items()))
}

func TestStage_ChainedStagesMultiply(t *testing.T) {
	pool := NewPool("build", 3)
	ctx := context.Background()
	first := NewStage[string, string](ctx, "configure", NewSupplier("a", "b"),
		func(_ context.Context, item, p string) (string, error) { return item + p, nil },
		[]string{"1", "2", "3"}, pool)
	second := NewStage[string, string](ctx, "parameterise", first,
		func(_ context.Context, item, p string) (string, error) { return item + p, nil },
		[]string{"x", "y"}, pool)

	c := newCollector[string](100)
	second.Subscribe(c)

	require.NoError(t, c.wait(t))
	got := c.Items()
	sort.Strings(got)
	want := []string{}
	for _, a := range []string{"a", "b"} {
		for _, b := range []string{"1", "2", "3"} {
			for _, p := range []string{"x", "y"} {
				want = append(want, a+b+p)
			}
		}
	}
	assert.Equal(t, want, got)
}

func TestStage_EmptyParamsCompletesWithNothing(t *testing.T) {
	st := NewStage[int, int](context.Background(), "none", NewSupplier(1, 2, 3), multiply, nil, NewPool("build", 1))
	c := newCollector[int](10)
	st.Subscribe(c)

	require.NoError(t, c.wait(t))
	assert.Empty(t, c.Items())
}

func TestStage_EmptyUpstreamCompletes(t *testing.T) {
	st := NewStage[int, int](context.Background(), "none", NewSupplier[int](), multiply, []int{1}, NewPool("build", 1))
	c := newCollector[int](10)
	st.Subscribe(c)

	require.NoError(t, c.wait(t))
	assert.Empty(t, c.Items())
}

func TestStage_EmitsNoMoreThanRequested(t *testing.T) {
	// GIVEN a stage able to produce 3 items
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3), multiply, []int{1}, NewPool("build", 3))

	// WHEN only one is requested
	c := newCollector[int](1)
	st.Subscribe(c)

	// THEN exactly one arrives
	assert.Eventually(t, func() bool { return len(c.Items()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Items(), 1)

	// AND the rest follow once demanded
	c.sub.Request(5)
	require.NoError(t, c.wait(t))
	assert.Equal(t, []int{1, 2, 3}, sorted(c.Items()))
}

func TestStage_SkipPolicyDropsFailedBranch(t *testing.T) {
	boom := errors.New("boom")
	pt := trace.NewPipelineTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3),
		func(ctx context.Context, item, p int) (int, error) {
			if item == 2 && p == 20 {
				return 0, boom
			}
			return item * p, nil
		}, []int{10, 20}, NewPool("build", 2), WithTrace(pt))

	c := newCollector[int](100)
	st.Subscribe(c)

	require.NoError(t, c.wait(t))
	assert.Equal(t, []int{10, 20, 20, 30, 60}, sorted(c.Items()))

	sum := trace.Summarize(pt)
	assert.Equal(t, 5, sum.StageOutcomes["scale"][trace.OutcomeEmitted])
	assert.Equal(t, 1, sum.StageOutcomes["scale"][trace.OutcomeFailed])
	assert.Equal(t, 1, sum.FailedBranches)
}

func TestStage_SkipPolicyServesReplacementDemand(t *testing.T) {
	// GIVEN the first unit fails and exactly 2 items are requested
	var calls atomic.Int32
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3),
		func(ctx context.Context, item, p int) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("first fails")
			}
			return item, nil
		}, []int{1}, NewPool("build", 1))

	c := newCollector[int](2)
	st.Subscribe(c)

	// THEN 2 items still arrive
	assert.Eventually(t, func() bool { return len(c.Items()) == 2 }, time.Second, time.Millisecond)
}

func TestStage_HaltPolicyFailsDownstream(t *testing.T) {
	boom := errors.New("boom")
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3),
		func(ctx context.Context, item, p int) (int, error) {
			if item == 2 {
				return 0, boom
			}
			return item, nil
		}, []int{1}, NewPool("build", 1), WithErrorPolicy(PolicyHalt))

	c := newCollector[int](100)
	st.Subscribe(c)

	err := c.wait(t)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "stage scale")
}

func TestStage_ContextCancellationFailsDownstream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	st := NewStage[int, int](ctx, "slow", NewSupplier(1), func(ctx context.Context, item, p int) (int, error) {
		started <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	}, []int{1}, NewPool("build", 1))

	c := newCollector[int](1)
	st.Subscribe(c)
	<-started
	cancel()

	assert.ErrorIs(t, c.wait(t), context.Canceled)
	assert.Empty(t, c.Items())
}

func TestStage_DownstreamCancelStopsWork(t *testing.T) {
	var calls atomic.Int32
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1, 2, 3, 4, 5), func(ctx context.Context, item, p int) (int, error) {
		calls.Add(1)
		return item, nil
	}, []int{1}, NewPool("build", 1))

	c := newCollector[int](1)
	st.Subscribe(c)
	assert.Eventually(t, func() bool { return len(c.Items()) == 1 }, time.Second, time.Millisecond)

	c.sub.Cancel()
	c.sub.Request(10)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Items(), 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStage_SecondSubscriberPanics(t *testing.T) {
	st := NewStage[int, int](context.Background(), "scale", NewSupplier(1), multiply, []int{1}, NewPool("build", 1))
	st.Subscribe(newCollector[int](1))
	assert.Panics(t, func() { st.Subscribe(newCollector[int](1)) })
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool("run", 2)
	var running, peak atomic.Int32
	futures := make([]*Future, 10)
	for i := range futures {
		futures[i] = pool.Submit(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	pool.Wait()
	for _, f := range futures {
		assert.NoError(t, f.Wait())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, 2, pool.Idle())
}

func TestPool_CancelledBeforeStartNeverRuns(t *testing.T) {
	pool := NewPool("run", 1)
	started, release := make(chan struct{}), make(chan struct{})
	blocker := pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	var ran atomic.Bool
	queued := pool.Submit(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	queued.Cancel()
	assert.ErrorIs(t, queued.Wait(), context.Canceled)
	close(release)
	require.NoError(t, blocker.Wait())
	assert.False(t, ran.Load())
}

func TestPool_PanicsOnZeroSize(t *testing.T) {
	assert.Panics(t, func() { NewPool("x", 0) })
}

func TestParseErrorPolicy(t *testing.T) {
	assert.Equal(t, PolicySkip, ParseErrorPolicy(""))
	assert.Equal(t, PolicyHalt, ParseErrorPolicy("halt"))
	assert.False(t, IsValidErrorPolicy("retry"))
	assert.Panics(t, func() { ParseErrorPolicy("retry") })
}

func ExampleStage() {
	st := NewStage[string, int](context.Background(), "repeat", NewSupplier("x"),
		func(_ context.Context, s string, n int) (string, error) { return fmt.Sprintf("%s%d", s, n), nil },
		[]int{1}, NewPool("build", 1))
	c := newCollector[string](1)
	st.Subscribe(c)
	<-c.done
	fmt.Println(c.Items())
	// Output: [x1]
}
