package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/event"
)

func TestQueue_PopReturnsHighestPriorityFirst(t *testing.T) {
	q := New()
	low := event.NewRunFunctionEvent(1, event.PriorityInternal, nil)
	high := event.NewRunFunctionEvent(1, event.PriorityInsertService, nil)
	q.Push(low)
	q.Push(high)

	ctx := context.Background()
	got, ok := q.Pop(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, high, got)

	got, ok = q.Pop(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, low, got)
}

func TestQueue_Push_NilPanics(t *testing.T) {
	q := New()
	assert.Panics(t, func() { q.Push(nil) })
}

func TestQueue_Ordered_TiebreaksByInsertionOrder(t *testing.T) {
	q := NewOrdered()
	first := event.NewRunFunctionEvent(1, event.PriorityDependency, nil)
	second := event.NewRunFunctionEvent(1, event.PriorityDependency, nil)
	third := event.NewRunFunctionEvent(1, event.PriorityDependency, nil)
	q.Push(first)
	q.Push(second)
	q.Push(third)

	ctx := context.Background()
	for _, want := range []*event.RunFunctionEvent{first, second, third} {
		got, ok := q.Pop(ctx, 0)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueue_Unordered_DoesNotGuaranteeTiebreakBySeq(t *testing.T) {
	// Not a correctness assertion about order (unordered pop order is
	// unspecified by contract) - this only checks that same-priority events
	// in the unordered queue still drain exactly the pushed set, whatever
	// order they come out in.
	q := New()
	events := make([]*event.RunFunctionEvent, 5)
	want := map[event.Event]bool{}
	for i := range events {
		events[i] = event.NewRunFunctionEvent(1, event.PriorityDependency, nil)
		q.Push(events[i])
		want[events[i]] = true
	}

	ctx := context.Background()
	got := map[event.Event]bool{}
	for range events {
		e, ok := q.Pop(ctx, 0)
		require.True(t, ok)
		got[e] = true
	}
	assert.Equal(t, want, got)
}

func TestQueue_Pop_BlocksUntilPush(t *testing.T) {
	q := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var got event.Event
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = q.Pop(ctx, 0)
	}()

	time.Sleep(20 * time.Millisecond)
	e := event.NewRunFunctionEvent(1, event.PriorityInternal, nil)
	q.Push(e)
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestQueue_Pop_ContextCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx, 0)
	assert.False(t, ok)
}

func TestQueue_Pop_TimeoutWithNoEvent(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok := q.Pop(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestQueue_Size_EmptyAfterDrain(t *testing.T) {
	q := New()
	assert.True(t, q.Empty())
	q.Push(event.NewRunFunctionEvent(1, event.PriorityInternal, nil))
	assert.Equal(t, 1, q.Size())
	_, ok := q.Pop(context.Background(), 0)
	require.True(t, ok)
	assert.True(t, q.Empty())
}

func TestQueue_Run_StopsOnQuitEvent(t *testing.T) {
	q := New()
	q.Push(event.NewRunFunctionEvent(1, event.PriorityInternal, nil))
	q.Push(event.NewQuitEvent(1, event.PriorityInternal))

	var handled int
	err := q.Run(context.Background(), RunConfig{}, func(e event.Event) bool {
		_, isQuit := e.(*event.QuitEvent)
		return isQuit
	}, func(e event.Event) {
		handled++
	})

	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.False(t, q.IsRunning())
}

func TestQueue_Run_RequestQuitElapsesTimeout(t *testing.T) {
	q := New()
	q.RequestQuit()

	err := q.Run(context.Background(), RunConfig{
		QuitTimeout:  20 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}, func(event.Event) bool { return false }, func(event.Event) {})

	assert.ErrorIs(t, err, ErrQuitTimeout)
}

func TestQueue_Run_RequestQuitEnqueuesQuitEvent(t *testing.T) {
	q := New()
	q.RequestQuit()

	var sawQuit bool
	err := q.Run(context.Background(), RunConfig{
		QuitTimeout:  time.Second,
		PollInterval: 2 * time.Millisecond,
	}, func(e event.Event) bool {
		_, ok := e.(*event.QuitEvent)
		if ok {
			sawQuit = true
		}
		return ok
	}, func(event.Event) {})

	require.NoError(t, err)
	assert.True(t, sawQuit)
}

func TestQueue_Run_SigintEnqueuesQuitEvent(t *testing.T) {
	q := New()
	q.sigintHit.Store(true)

	var sawQuit bool
	err := q.Run(context.Background(), RunConfig{
		QuitTimeout:  time.Second,
		PollInterval: 2 * time.Millisecond,
	}, func(e event.Event) bool {
		_, ok := e.(*event.QuitEvent)
		if ok {
			sawQuit = true
		}
		return ok
	}, func(event.Event) {})

	require.NoError(t, err)
	assert.True(t, sawQuit)
}

func TestQueue_Run_ContextCancelledReturnsErr(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Run(ctx, RunConfig{}, func(event.Event) bool { return false }, func(event.Event) {})
	assert.ErrorIs(t, err, context.Canceled)
}
