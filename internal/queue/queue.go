// Package queue implements synapse's EventQueue: a thread-safe,
// multi-producer, single-consumer, priority-ordered queue of events
// (spec.md §4.1), grounded on the teacher's sync.Cond-based work queue
// (internal/reconciler/queue.go) but reshaped around a priority heap and the
// SIGINT-capture/quit-timeout contract spec.md requires.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"synapse/internal/event"
)

// ErrQuitTimeout is returned by Run when shutdown exceeded the configured
// quit timeout with events still pending (spec.md §7 QuitTimeout).
var ErrQuitTimeout = errors.New("queue: quit timeout exceeded")

// DefaultQuitTimeout matches the source's 5000ms default.
const DefaultQuitTimeout = 5 * time.Second

// item is one heap slot: the event plus the insertion sequence used to
// tiebreak within a priority level when the queue is in ordered mode.
type item struct {
	evt event.Event
	seq uint64
}

// priorityHeap backs both queue variants. ordered, when true, tiebreaks
// same-priority events by insertion sequence for deterministic pop order;
// when false, same-priority events compare equal and container/heap is free
// to return them in whatever relative order its internal swaps produce,
// matching spec.md §4.1's "not guaranteed by default" unordered behaviour.
type priorityHeap struct {
	items   []item
	ordered bool
}

func (h *priorityHeap) Len() int { return len(h.items) }
func (h *priorityHeap) Less(i, j int) bool {
	pi, pj := h.items[i].evt.Meta().Priority, h.items[j].evt.Meta().Priority
	if pi != pj {
		return pi < pj
	}
	if h.ordered {
		return h.items[i].seq < h.items[j].seq
	}
	return false
}
func (h *priorityHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *priorityHeap) Push(x any)    { h.items = append(h.items, x.(item)) }
func (h *priorityHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// Queue is synapse's EventQueue implementation. The zero value is not
// usable; construct with New or NewOrdered.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	h    priorityHeap

	seq uint64

	quitRequested atomic.Bool
	sigintHit     atomic.Bool
	running       atomic.Bool

	quitAt atomic.Pointer[time.Time]
}

// New constructs an unordered priority queue: events at the same priority
// level pop in unspecified order, matching the source's default
// PriorityQueue backend.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewOrdered constructs a queue that tiebreaks same-priority events by
// insertion order, matching the source's `ordered` queue variant used for
// deterministic tests.
func NewOrdered() *Queue {
	q := New()
	q.h.ordered = true
	return q
}

// Push inserts e at its own Meta().Priority. Pushing a nil event is a
// programmer error and terminates the process, matching spec.md §4.1/§7.
func (q *Queue) Push(e event.Event) {
	if e == nil {
		panic("queue: push of nil event")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(e)
}

func (q *Queue) pushLocked(e event.Event) {
	q.seq++
	seq := q.seq
	// A monotonic seq is assigned unconditionally, but only the ordered mode's
	// Less consults it, to tiebreak same-priority events deterministically in
	// insertion order (spec.md §4.1); in unordered mode same-priority pop
	// order is left unspecified to the caller.
	e.Meta().SetSeq(seq)
	heap.Push(&q.h, item{evt: e, seq: seq})
	q.cond.Signal()
}

// Pop removes and returns the highest-priority pending event. It blocks
// until an event is available, the context is cancelled, or timeout elapses
// (timeout <= 0 means block indefinitely). Per spec.md §4.1 this must only
// be called by the consumer goroutine.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.h.Len() == 0 {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		if !q.waitLocked(ctx, timeout) {
			return nil, false
		}
		if timeout > 0 && q.h.Len() == 0 {
			return nil, false
		}
	}

	it := heap.Pop(&q.h).(item)
	return it.evt, true
}

// waitLocked blocks on cond until woken by Push/ctx cancellation/timeout.
// Mirrors the teacher's race-the-context-cancellation goroutine pattern in
// internal/reconciler/queue.go, generalized with an optional timeout.
func (q *Queue) waitLocked(ctx context.Context, timeout time.Duration) bool {
	done := make(chan struct{})
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
	}
	go func() {
		if timer != nil {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-timer.C:
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		} else {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}
	}()
	q.cond.Wait()
	close(done)
	if timer != nil {
		timer.Stop()
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}
	return true
}

// Size returns the number of pending events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Empty reports whether the queue currently has no pending events.
func (q *Queue) Empty() bool { return q.Size() == 0 }

// IsRunning reports whether Run is currently draining this queue.
func (q *Queue) IsRunning() bool { return q.running.Load() }

// --- process-wide SIGINT capture (spec.md §4.1, §5) ---

var (
	sigintOnce        sync.Once
	sigintSubscribers sync.Map // *Queue -> struct{}
)

func installSigintHandlerOnce() {
	sigintOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		go func() {
			for range ch {
				sigintSubscribers.Range(func(k, _ any) bool {
					k.(*Queue).sigintHit.Store(true)
					return true
				})
			}
		}()
	})
}

// RunConfig configures Run's shutdown behaviour.
type RunConfig struct {
	// CaptureSigint installs the process-wide SIGINT handler (at most once
	// per process) and arms quit on the first interrupt observed.
	CaptureSigint bool
	// QuitTimeout bounds how long Run keeps draining after quit is armed
	// before forcing termination. Defaults to DefaultQuitTimeout.
	QuitTimeout time.Duration
	// PollInterval bounds how long a single Pop() wait blocks, so Run can
	// notice an armed quit/sigint promptly. Defaults to 10ms.
	PollInterval time.Duration
}

// Run consumes the current goroutine, draining events to handle until a
// QuitEvent is processed, the context is cancelled, or (once quit is armed)
// the quit timeout elapses. isQuit identifies which handled events should
// stop the loop (the DependencyManager passes its own quit-event predicate
// so Run stays independent of the event package's concrete types).
func (q *Queue) Run(ctx context.Context, cfg RunConfig, isQuit func(event.Event) bool, handle func(event.Event)) error {
	if cfg.QuitTimeout <= 0 {
		cfg.QuitTimeout = DefaultQuitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.CaptureSigint {
		installSigintHandlerOnce()
		sigintSubscribers.Store(q, struct{}{})
		defer sigintSubscribers.Delete(q)
	}

	q.running.Store(true)
	defer q.running.Store(false)

	quitArmed := false
	for {
		if !quitArmed && (q.sigintHit.Load() || q.quitRequested.Load()) {
			quitArmed = true
			deadline := time.Now().Add(cfg.QuitTimeout)
			q.quitAt.Store(&deadline)
			// spec.md §4.1: "on first observation, enqueues a QuitEvent at
			// INTERNAL priority" so sigint/RequestQuit drive the same
			// graceful dependency-teardown path as an explicitly pushed
			// QuitEvent, rather than only the forced timeout fallback
			// below. A caller that already pushed its own QuitEvent (to
			// preserve a requesting service's origin) just ends up with
			// two; the first one handled still stops the loop.
			q.Push(event.NewQuitEvent(0, event.PriorityInternal))
		}

		if quitArmed {
			deadline := q.quitAt.Load()
			if deadline != nil && time.Now().After(*deadline) {
				return ErrQuitTimeout
			}
		}

		e, ok := q.Pop(ctx, cfg.PollInterval)
		if ok {
			handle(e)
			if isQuit(e) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// RequestQuit arms quit without relying on SIGINT, e.g. for tests or for a
// service that decides to shut the loop down itself.
func (q *Queue) RequestQuit() {
	q.quitRequested.Store(true)
}
