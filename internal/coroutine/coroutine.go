// Package coroutine renders synapse's C++ coroutine layer (Task<T>,
// AsyncGenerator<T>, AsyncManualResetEvent, AsyncAutoResetEvent,
// AsyncSingleThreadedMutex) the way Go expresses cooperative suspension:
// goroutines and channels instead of compiler-generated coroutine frames
// (spec.md §4.6). A suspension point is any blocking receive from a channel
// returned by this package; resumption is the corresponding send, which the
// depmanager package wraps in a ContinuableEvent pushed back onto the loop
// at PriorityCoroutineContinuation (spec.md §9 open question 1).
package coroutine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is what a Task[T] resolves to: either a value or an error, never
// both, mirroring the source's Result<T, E> used as Task's payload.
type Result[T any] struct {
	Value T
	Err   error
}

// Task is a single-result awaitable, grounded on the source's Task<T>
// promise type. The zero value is not usable; create one with NewTask.
//
// A Task is cancellation-aware: if its owning service stops before the
// producing goroutine resolves it, Cancel marks it so Await returns
// ErrCancelled instead of blocking forever (spec.md §4.6 "Cancellation").
type Task[T any] struct {
	done   chan struct{}
	once   sync.Once
	result Result[T]
	cancel chan struct{}
}

// NewTask constructs an unresolved Task.
func NewTask[T any]() *Task[T] {
	return &Task[T]{
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
}

// Resolve completes the task with r. Only the first call has any effect,
// and none does once Cancel has run; later calls are no-ops, matching a
// promise that may only be satisfied once.
func (t *Task[T]) Resolve(r Result[T]) {
	t.once.Do(func() {
		t.result = r
		close(t.done)
	})
}

// Cancel marks the task as cancelled. If it has not yet resolved, pending
// and future Await calls return the zero value and ErrCancelled. Used when
// the owning service stops while a coroutine is suspended on this task
// (spec.md §4.6).
func (t *Task[T]) Cancel() {
	// Sharing Resolve's once means whichever of Resolve/Cancel runs first
	// decides every Await's outcome; the other becomes a no-op.
	t.once.Do(func() {
		close(t.cancel)
	})
}

// Await suspends the calling goroutine until the task resolves, is
// cancelled, or ctx is done, whichever happens first.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result.Value, t.result.Err
	case <-t.cancel:
		var zero T
		return zero, ErrCancelled
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the task has resolved (ignoring cancellation).
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// WaitAll awaits every task in tasks concurrently and returns their
// resolved values in the same order, or the first error encountered
// (ctx is cancelled for the remaining waiters once one fails), grounded
// on the dependency-aware concurrent fan-out in the worker-pool pattern
// used elsewhere in the pack. This is the concurrent counterpart to
// awaiting tasks one at a time: a service driving several dependents
// through Stop (or several peers through a broadcasted request) can wait
// on the whole batch without serializing on the slowest one first.
func WaitAll[T any](ctx context.Context, tasks []*Task[T]) ([]T, error) {
	results := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			v, err := task.Await(gctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Behaviour is the value an AsyncGenerator[Behaviour] yields from a
// Handler callback, governing whether later handlers observe the event
// (spec.md §4.2 Handler).
type Behaviour int

const (
	// Continue lets subsequent handlers for the same event run.
	Continue Behaviour = iota
	// StopPropagation prevents subsequent handlers from observing the event.
	StopPropagation
)

// AsyncGenerator is a lazy, single-consumer sequence, grounded on the
// source's AsyncGenerator<T>: co_yield suspends the producer and hands a
// value to the consumer; co_return ends the sequence. Handler callbacks
// return one of these so the DependencyManager can treat an in-progress
// handler (one that has yielded but not finished) as still running.
type AsyncGenerator[T any] struct {
	values chan T
	done   chan struct{}
	err    error
	mu     sync.Mutex
}

// NewAsyncGenerator runs produce in its own goroutine. produce yields
// values by calling the yield function it's given and returns when the
// sequence is finished (co_return); a non-nil return value is captured as
// the generator's terminal error.
func NewAsyncGenerator[T any](produce func(yield func(T)) error) *AsyncGenerator[T] {
	g := &AsyncGenerator[T]{
		values: make(chan T),
		done:   make(chan struct{}),
	}
	go func() {
		err := produce(func(v T) { g.values <- v })
		g.mu.Lock()
		g.err = err
		g.mu.Unlock()
		close(g.done)
	}()
	return g
}

// Next suspends until the next yielded value is available, the generator
// finishes, or ctx is cancelled. ok is false once the generator has
// terminated (co_return reached); callers should then consult Err.
func (g *AsyncGenerator[T]) Next(ctx context.Context) (value T, ok bool) {
	select {
	case v, open := <-g.values:
		if !open {
			var zero T
			return zero, false
		}
		return v, true
	case <-g.done:
		select {
		case v, open := <-g.values:
			if open {
				return v, true
			}
		default:
		}
		var zero T
		return zero, false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryNext gives the producer up to grace to yield its next value or
// finish, without blocking the caller indefinitely. ready is false if
// neither happened within grace, meaning the producer is suspended on
// something that will only resolve later (e.g. another goroutine setting
// an AsyncManualResetEvent); callers that must never block longer than
// grace (the DependencyManager's single loop thread, spec.md §5) use this
// instead of Next to detect that case and hand the wait to a background
// goroutine.
func (g *AsyncGenerator[T]) TryNext(grace time.Duration) (value T, ok bool, ready bool) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case v, open := <-g.values:
		if !open {
			var zero T
			return zero, false, true
		}
		return v, true, true
	case <-g.done:
		select {
		case v, open := <-g.values:
			if open {
				return v, true, true
			}
		default:
		}
		var zero T
		return zero, false, true
	case <-timer.C:
		var zero T
		return zero, false, false
	}
}

// Terminated reports whether the generator has reached co_return.
func (g *AsyncGenerator[T]) Terminated() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Err returns the generator's terminal error, valid once Terminated().
func (g *AsyncGenerator[T]) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// AsyncManualResetEvent is a multi-awaiter, set-until-reset gate, grounded
// on the source's AsyncManualResetEvent: Set resumes every current and
// future waiter until Reset is called (spec.md §4.6).
type AsyncManualResetEvent struct {
	mu   sync.Mutex
	set  bool
	gate chan struct{}
}

// NewAsyncManualResetEvent constructs an event in the given initial state.
func NewAsyncManualResetEvent(initiallySet bool) *AsyncManualResetEvent {
	e := &AsyncManualResetEvent{gate: make(chan struct{})}
	if initiallySet {
		close(e.gate)
		e.set = true
	}
	return e
}

// Wait suspends until the event is set or ctx is done.
func (e *AsyncManualResetEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set resumes every current and future waiter until Reset is called.
func (e *AsyncManualResetEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.gate)
	}
}

// Reset puts the event back into the unset state. Waiters already resumed
// by a prior Set are unaffected.
func (e *AsyncManualResetEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.gate = make(chan struct{})
	}
}

// IsSet reports the event's current state.
func (e *AsyncManualResetEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// AsyncAutoResetEvent is a single-waiter gate: each Set wakes exactly one
// waiter (or is remembered for the next Wait if none is currently
// blocked), grounded on the source's AsyncAutoResetEvent (spec.md §4.6).
type AsyncAutoResetEvent struct {
	signal chan struct{}
}

// NewAsyncAutoResetEvent constructs an auto-reset event, initially unset.
func NewAsyncAutoResetEvent() *AsyncAutoResetEvent {
	return &AsyncAutoResetEvent{signal: make(chan struct{}, 1)}
}

// Wait suspends until a pending or future Set is consumed, or ctx is done.
func (e *AsyncAutoResetEvent) Wait(ctx context.Context) error {
	select {
	case <-e.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set wakes exactly one waiter. If no goroutine is currently waiting, the
// signal is held for the next Wait call; further Sets before it is
// consumed are coalesced into the same single pending signal.
func (e *AsyncAutoResetEvent) Set() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// AsyncSingleThreadedMutex is a non-reentrant mutex whose Lock suspends
// the caller instead of blocking an OS thread, grounded on the source's
// AsyncSingleThreadedMutex (spec.md §4.6, §6 Suspension points).
type AsyncSingleThreadedMutex struct {
	ch chan struct{}
}

// NewAsyncSingleThreadedMutex constructs an unlocked mutex.
func NewAsyncSingleThreadedMutex() *AsyncSingleThreadedMutex {
	m := &AsyncSingleThreadedMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock suspends until the mutex is acquired or ctx is done.
func (m *AsyncSingleThreadedMutex) Lock(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the mutex. Unlocking an already-unlocked mutex panics,
// matching the source's precondition-violation contract.
func (m *AsyncSingleThreadedMutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("coroutine: unlock of unlocked AsyncSingleThreadedMutex")
	}
}
