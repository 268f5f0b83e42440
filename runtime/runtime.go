// Package runtime is synapse's public entry point: it wires an
// EventQueue to a DependencyManager and exposes the programmer-facing API
// spec.md §6 lists (push_event, create_service_manager,
// register_event_handler/interceptor/dependency_tracker, the thread-local
// accessors). Everything underneath is internal; this package is the only
// one user code is expected to import directly.
package runtime

import (
	"context"
	"errors"

	"synapse/internal/coroutine"
	"synapse/internal/depmanager"
	"synapse/internal/event"
	"synapse/internal/queue"
	"synapse/internal/service"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// Runtime bundles one event loop's Queue and Manager, the unit of
// isolation spec.md §5 describes: "each owns its own DM."
type Runtime struct {
	Queue   *queue.Queue
	Manager *depmanager.Manager
}

// New constructs a Runtime with an unordered queue, matching the source's
// default PriorityQueue backend.
func New(logger logging.Logger) *Runtime {
	q := queue.New()
	return &Runtime{Queue: q, Manager: depmanager.New(q, logger)}
}

// NewOrdered constructs a Runtime whose queue tiebreaks same-priority
// events by insertion order, for deterministic tests (spec.md §4.1
// "ordered variant").
func NewOrdered(logger logging.Logger) *Runtime {
	q := queue.NewOrdered()
	return &Runtime{Queue: q, Manager: depmanager.New(q, logger)}
}

// RunConfig mirrors queue.RunConfig for callers that don't want to import
// the internal package directly.
type RunConfig = queue.RunConfig

// Start consumes the current goroutine, draining and dispatching events
// until quit (spec.md §4.1 "start(capture_sigint)", §6 CLI surface: "The
// start(capture_sigint) entry point is called from user main").
func (rt *Runtime) Start(ctx context.Context, cfg RunConfig) error {
	ctx = WithRuntime(ctx, rt)
	return rt.Queue.Run(ctx, cfg, isQuitEvent, func(e event.Event) {
		rt.Manager.Dispatch(ctx, e)
	})
}

func isQuitEvent(e event.Event) bool {
	_, ok := e.(*event.QuitEvent)
	return ok
}

// Quit arms shutdown on this runtime's queue without waiting for SIGINT.
func (rt *Runtime) Quit(origin ids.ServiceID) {
	rt.Manager.PushEvent(event.NewQuitEvent(origin, event.PriorityInternal))
	rt.Queue.RequestQuit()
}

// PushEvent pushes e at its own declared priority (spec.md §6
// push_event/push_prioritised_event — priority lives on the event itself
// in this rendering rather than as a separate call parameter, since Go
// constructors can bake in a sensible default the way the source's
// template defaults do).
func (rt *Runtime) PushEvent(e event.Event) { rt.Manager.PushEvent(e) }

// PushEventAsync pushes e and returns a Task that resolves once Dispatch of e
// has returned on the loop thread (spec.md §6
// "push_prioritised_event_async<Evt>(…) → Awaitable"). A handler that
// suspended during that dispatch may still be running when the Task
// resolves; the Task does not wait for it.
func (rt *Runtime) PushEventAsync(e event.Event) *coroutine.Task[struct{}] {
	task := coroutine.NewTask[struct{}]()
	wrapped := event.NewRunFunctionEvent(e.Meta().Origin, e.Meta().Priority, func(ctx context.Context) error {
		rt.Manager.Dispatch(ctx, e)
		task.Resolve(coroutine.Result[struct{}]{})
		return nil
	})
	rt.Manager.PushEvent(wrapped)
	return task
}

// CreateServiceManager installs impl under name, providing the listed
// interfaces, and schedules it for dependency evaluation (spec.md §6
// create_service_manager). The returned id is the only part of the
// resulting proxy that is safe to retain past the calling scope.
func (rt *Runtime) CreateServiceManager(impl any, name string, provides []ids.InterfaceHash, props service.Properties, priority uint64) ids.ServiceID {
	return rt.Manager.CreateServiceManager(impl, name, provides, props, priority)
}

// DeclareDependency registers d as a required or optional dependency edge
// for requester, rejecting it with a *service.DependencyCycleError if it
// would close a required-dependency cycle (spec.md §7, SPEC_FULL.md §3).
func (rt *Runtime) DeclareDependency(requester ids.ServiceID, d *service.Dependency) error {
	return rt.Manager.DeclareDependency(requester, d)
}

// GetServiceByID returns the installed service record for id, if any
// (spec.md §6 get_service_by_id).
func (rt *Runtime) GetServiceByID(id ids.ServiceID) (*service.Record, bool) {
	return rt.Manager.GetServiceByID(id)
}

// Services returns a sorted snapshot of every installed service's id, name
// and state. Only safe to call from the loop thread itself (e.g. from
// inside a RunFunctionEvent) or once Start has returned; a concurrently
// running loop is still mutating the same records. Callers outside the
// loop while it's running should use ServicesAsync instead.
func (rt *Runtime) Services() []depmanager.ServiceSummary {
	return rt.Manager.Services()
}

// Introspect returns a snapshot of the full dependency graph and queue
// backlog (SPEC_FULL.md §5 "Introspection"). Same thread caveat as Services.
func (rt *Runtime) Introspect() depmanager.Snapshot {
	return rt.Manager.Introspect()
}

// ServicesAsync round-trips through a RunFunctionEvent to read the service
// snapshot on the loop thread, then hands it back to the caller - the safe
// way for a goroutine other than the one running Start (e.g. an
// interactive shell reading commands while the loop runs in the
// background) to read Services without racing Dispatch's mutation of the
// same records (spec.md §4.2 "sole mutator").
func (rt *Runtime) ServicesAsync() []depmanager.ServiceSummary {
	resultCh := make(chan []depmanager.ServiceSummary, 1)
	rt.Manager.PushEvent(event.NewRunFunctionEvent(0, event.PriorityInternal, func(ctx context.Context) error {
		resultCh <- rt.Manager.Services()
		return nil
	}))
	return <-resultCh
}

// IntrospectAsync is Introspect's Snapshot counterpart to ServicesAsync,
// for the same cross-goroutine reason.
func (rt *Runtime) IntrospectAsync() depmanager.Snapshot {
	resultCh := make(chan depmanager.Snapshot, 1)
	rt.Manager.PushEvent(event.NewRunFunctionEvent(0, event.PriorityInternal, func(ctx context.Context) error {
		resultCh <- rt.Manager.Introspect()
		return nil
	}))
	return <-resultCh
}

// RequestStopAsync schedules a graceful stop of id on the loop thread. Safe
// to call from outside it, unlike Manager.RequestStop directly.
func (rt *Runtime) RequestStopAsync(id ids.ServiceID) {
	rt.Manager.PushEvent(event.NewRunFunctionEvent(id, event.PriorityInternal, func(ctx context.Context) error {
		rt.Manager.RequestStop(ctx, id)
		return nil
	}))
}

// RegisterEventHandler registers fn for every event of type T, optionally
// filtered to events originating from filterSvc (spec.md §6
// register_event_handler). The returned registration id, passed to
// UnregisterHandler, is this binding's RAII-equivalent release mechanism.
func RegisterEventHandler[T event.Event](rt *Runtime, owner ids.ServiceID, filterSvc *ids.ServiceID, fn func(ctx context.Context, e T) coroutine.Behaviour) uint64 {
	typeHash := event.EventTypeOf[T]()
	return rt.Manager.RegisterEventHandler(owner, typeHash, filterSvc, depmanager.NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		return fn(ctx, e.(T))
	}))
}

// UnregisterHandler releases a handler registration returned by
// RegisterEventHandler.
func (rt *Runtime) UnregisterHandler(id uint64) { rt.Manager.RemoveHandler(id) }

// RegisterEventInterceptor registers fn for every event of type T
// (spec.md §6 register_event_interceptor).
func RegisterEventInterceptor[T event.Event](rt *Runtime, owner ids.ServiceID, fn depmanager.InterceptorFunc) uint64 {
	typeHash := event.EventTypeOf[T]()
	return rt.Manager.RegisterEventInterceptor(owner, typeHash, fn)
}

// RegisterGlobalInterceptor registers fn for every event regardless of
// type.
func (rt *Runtime) RegisterGlobalInterceptor(owner ids.ServiceID, fn depmanager.InterceptorFunc) uint64 {
	return rt.Manager.RegisterEventInterceptor(owner, 0, fn)
}

// UnregisterInterceptor releases an interceptor registration.
func (rt *Runtime) UnregisterInterceptor(id uint64) { rt.Manager.RemoveInterceptor(id) }

// RegisterDependencyTracker registers fn as the on-demand provider for
// iface (spec.md §6 register_dependency_tracker).
func (rt *Runtime) RegisterDependencyTracker(owner ids.ServiceID, iface ids.InterfaceHash, fn depmanager.TrackerFuncs) uint64 {
	return rt.Manager.RegisterDependencyTracker(owner, iface, fn)
}

// UnregisterTracker releases a tracker registration.
func (rt *Runtime) UnregisterTracker(id uint64) { rt.Manager.RemoveTracker(id) }

// ErrNoRuntimeInContext is returned by FromContext when ctx was never
// derived from a Runtime's Start call.
var ErrNoRuntimeInContext = errors.New("runtime: no runtime bound to this context")

type contextKey struct{}

// WithRuntime returns a copy of ctx carrying rt, the Go analogue of the
// source's get_thread_local_manager()/get_thread_local_event_queue(): an
// explicit value threaded through the call chain instead of a hidden
// thread-local, since every suspension point here is already an explicit
// context.Context argument (spec.md §6, §9 open question 4).
func WithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, contextKey{}, rt)
}

// FromContext returns the Runtime bound to ctx by an enclosing Start call.
func FromContext(ctx context.Context) (*Runtime, error) {
	rt, ok := ctx.Value(contextKey{}).(*Runtime)
	if !ok {
		return nil, ErrNoRuntimeInContext
	}
	return rt, nil
}

// DefaultQuitTimeout re-exports the queue package's default so callers
// don't need to import it separately.
const DefaultQuitTimeout = queue.DefaultQuitTimeout
