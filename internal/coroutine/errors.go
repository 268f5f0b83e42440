package coroutine

import "errors"

// ErrCancelled is returned by Task.Await when the owning service stopped
// before the task resolved (spec.md §4.6 "Cancellation").
var ErrCancelled = errors.New("coroutine: task cancelled")
