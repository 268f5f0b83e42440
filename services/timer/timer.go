// Package timer is a bundled ITimer provider built on stdlib time.Timer:
// the pack carries no third-party scheduling library, so this is one of
// the few bundled services that stays on the standard library (see
// DESIGN.md). It is grounded on the source's TimerService.h/yielding timer
// example: a timer fires by pushing a user-chosen event back onto the
// owning runtime rather than invoking a callback directly, keeping all
// timer-driven mutation on the loop thread (spec.md §5 "Scheduling model").
package timer

import (
	"context"
	"sync"
	"time"

	"synapse/internal/event"
	"synapse/pkg/ids"
)

// ITimer is the interface dependents register against to schedule
// recurring or one-shot callbacks without touching *time.Timer directly.
type ITimer interface {
	// Start pushes makeEvent()'s event via push every interval (or once,
	// if repeat is false) until the returned handle's Stop is called.
	Start(interval time.Duration, repeat bool, push func(event.Event), makeEvent func() event.Event) TimerHandle
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[ITimer]()

// TimerHandle cancels a single scheduled timer.
type TimerHandle interface {
	Stop()
}

// Service is the bundled ITimer implementation.
type Service struct {
	mu      sync.Mutex
	handles map[*handle]struct{}
}

// New constructs an empty timer service.
func New() *Service {
	return &Service{handles: make(map[*handle]struct{})}
}

type handle struct {
	svc    *Service
	ticker *time.Ticker
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

func (h *handle) Stop() {
	h.once.Do(func() {
		close(h.stopCh)
		if h.ticker != nil {
			h.ticker.Stop()
		}
		if h.timer != nil {
			h.timer.Stop()
		}
		h.svc.mu.Lock()
		delete(h.svc.handles, h)
		h.svc.mu.Unlock()
	})
}

// Start schedules makeEvent() to be pushed via push every interval
// (repeat=true) or once after interval elapses (repeat=false).
func (s *Service) Start(interval time.Duration, repeat bool, push func(event.Event), makeEvent func() event.Event) TimerHandle {
	h := &handle{svc: s, stopCh: make(chan struct{})}
	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	if repeat {
		h.ticker = time.NewTicker(interval)
		go func() {
			for {
				select {
				case <-h.stopCh:
					return
				case <-h.ticker.C:
					push(makeEvent())
				}
			}
		}()
	} else {
		h.timer = time.NewTimer(interval)
		go func() {
			select {
			case <-h.stopCh:
				return
			case <-h.timer.C:
				push(makeEvent())
			}
		}()
	}
	return h
}

// StopAll cancels every outstanding timer, used when the owning service
// stops (spec.md §7 "coroutine continuation events scheduled for a
// stopped service must be observable as discarded").
func (s *Service) StopAll() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// Sleep is a convenience coroutine-style helper: it suspends the calling
// goroutine for d or until ctx is cancelled, for code that wants a plain
// delay without scheduling a full event round-trip.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
