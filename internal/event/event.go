// Package event defines synapse's base event model: the common envelope every
// event carries (id, origin, priority, type hash, name) plus the built-in
// event variants the DependencyManager dispatches internally (spec.md §3,
// §4.2, §4.8). User events are ordinary structs that embed Base the same way.
package event

import (
	"context"
	"reflect"

	"synapse/pkg/ids"
)

// Priority orders events in the EventQueue; lower fires earlier.
type Priority uint32

// Reserved priority levels (spec.md §4.1).
const (
	PriorityInsertService        Priority = 50
	PriorityCoroutineContinuation Priority = 98
	PriorityDependency           Priority = 100
	PriorityInternal             Priority = 1000

	// PriorityStopElevation (PriorityInternal + 11) is the priority a stop
	// event is re-pushed at (spec.md §4.3, §9 open question 2).
	PriorityStopElevation Priority = PriorityInternal + 11
)

// Event is satisfied by every value pushed onto the EventQueue. Base gives
// concrete event types this method for free.
type Event interface {
	Meta() *Meta
}

// Meta is the immutable envelope spec.md §3 requires: id, origin service,
// priority and a type hash identical across compilation units.
type Meta struct {
	ID       ids.EventID
	Origin   ids.ServiceID
	Priority Priority
	TypeHash ids.EventTypeHash
	Name     string

	// seq is assigned by the queue at push time and used only to break ties
	// deterministically in the `ordered` queue variant (spec.md §4.1).
	seq uint64
}

// Seq returns the queue-assigned insertion sequence, 0 before the event has
// been pushed.
func (m *Meta) Seq() uint64 { return m.seq }

// SetSeq is called exactly once by the queue when accepting the event.
func (m *Meta) SetSeq(seq uint64) { m.seq = seq }

// Base is embedded by every concrete event type to satisfy Event.
type Base struct {
	meta Meta
}

// Meta returns the event's envelope.
func (b *Base) Meta() *Meta { return &b.meta }

// newBase builds a Base for a freshly constructed event. ids and name are
// supplied by helpers in this package so every built-in event stays
// consistent; user events should use event.NewUserBase instead.
func newBase(name string, typeHash ids.EventTypeHash, origin ids.ServiceID, priority Priority) Base {
	return Base{meta: Meta{Origin: origin, Priority: priority, TypeHash: typeHash, Name: name}}
}

// TypeHashOf returns the stable type hash for an event's concrete Go type.
// It is identical across compilation units because it hashes the type's
// fully qualified name rather than relying on runtime type identity.
func TypeHashOf(e Event) ids.EventTypeHash {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if t.PkgPath() != "" {
		name = t.PkgPath() + "." + name
	}
	return ids.HashEventTypeName(name)
}

// EventTypeOf returns the type hash for event type T, computed the same way
// as TypeHashOf: pointers are unwrapped, so EventTypeOf[*MyEvent]() and
// EventTypeOf[MyEvent]() both equal TypeHashOf of a *MyEvent value.
func EventTypeOf[T any]() ids.EventTypeHash {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if t.PkgPath() != "" {
		name = t.PkgPath() + "." + name
	}
	return ids.HashEventTypeName(name)
}

// NewUserBase builds the embeddable Base for a user-defined event type.
// Call it from the event's constructor: `event.NewUserBase(e, origin, priority)`,
// passing the event's own pointer so the type hash is computed correctly.
func NewUserBase[T Event](self T, origin ids.ServiceID, priority Priority) Base {
	return newBase(reflectName(self), TypeHashOf(self), origin, priority)
}

func reflectName(e Event) string {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// --- Built-in event variants (spec.md §2, §4.8, §9) ---

// InsertServiceEvent is pushed at PriorityInsertService when a new service
// manager is created; the DM inserts it into the registry and evaluates its
// declared dependency edges.
type InsertServiceEvent struct {
	Base
	ServiceID ids.ServiceID
}

func NewInsertServiceEvent(origin, svc ids.ServiceID) *InsertServiceEvent {
	e := &InsertServiceEvent{ServiceID: svc}
	e.Base = newBase("InsertServiceEvent", TypeHashOf(e), origin, PriorityInsertService)
	return e
}

// StartServiceEvent requests that a service's LifecycleManager attempt to
// move it from installed toward active.
type StartServiceEvent struct {
	Base
	ServiceID ids.ServiceID
}

func NewStartServiceEvent(origin, svc ids.ServiceID, priority Priority) *StartServiceEvent {
	e := &StartServiceEvent{ServiceID: svc}
	e.Base = newBase("StartServiceEvent", TypeHashOf(e), origin, priority)
	return e
}

// StopServiceEvent requests that a service's LifecycleManager tear it down.
type StopServiceEvent struct {
	Base
	ServiceID ids.ServiceID
}

func NewStopServiceEvent(origin, svc ids.ServiceID, priority Priority) *StopServiceEvent {
	e := &StopServiceEvent{ServiceID: svc}
	e.Base = newBase("StopServiceEvent", TypeHashOf(e), origin, priority)
	return e
}

// RemoveServiceEvent fully removes an installed/uninstalled service from the
// registry.
type RemoveServiceEvent struct {
	Base
	ServiceID ids.ServiceID
}

func NewRemoveServiceEvent(origin, svc ids.ServiceID, priority Priority) *RemoveServiceEvent {
	e := &RemoveServiceEvent{ServiceID: svc}
	e.Base = newBase("RemoveServiceEvent", TypeHashOf(e), origin, priority)
	return e
}

// DependencyRequestEvent announces that origin needs a provider of Interface;
// trackers for that interface observe it via on_request.
type DependencyRequestEvent struct {
	Base
	Interface ids.InterfaceHash
}

func NewDependencyRequestEvent(origin ids.ServiceID, iface ids.InterfaceHash) *DependencyRequestEvent {
	e := &DependencyRequestEvent{Interface: iface}
	e.Base = newBase("DependencyRequestEvent", TypeHashOf(e), origin, PriorityDependency)
	return e
}

// DependencyUndoRequestEvent is the symmetric teardown notice for trackers'
// on_undo.
type DependencyUndoRequestEvent struct {
	Base
	Interface ids.InterfaceHash
}

func NewDependencyUndoRequestEvent(origin ids.ServiceID, iface ids.InterfaceHash) *DependencyUndoRequestEvent {
	e := &DependencyUndoRequestEvent{Interface: iface}
	e.Base = newBase("DependencyUndoRequestEvent", TypeHashOf(e), origin, PriorityDependency)
	return e
}

// DependencyOnlineEvent is published by a service for each interface it
// provides once it transitions to active, letting dependents re-evaluate
// satisfaction.
type DependencyOnlineEvent struct {
	Base
	Interface ids.InterfaceHash
	Provider  ids.ServiceID
}

func NewDependencyOnlineEvent(origin ids.ServiceID, iface ids.InterfaceHash, provider ids.ServiceID) *DependencyOnlineEvent {
	e := &DependencyOnlineEvent{Interface: iface, Provider: provider}
	e.Base = newBase("DependencyOnlineEvent", TypeHashOf(e), origin, PriorityDependency)
	return e
}

// DependencyOfflineEvent is published for each provided interface before a
// service's user stop() is invoked, giving dependents the chance to
// re-satisfy from an alternative provider or begin stopping themselves.
type DependencyOfflineEvent struct {
	Base
	Interface ids.InterfaceHash
	Provider  ids.ServiceID
}

func NewDependencyOfflineEvent(origin ids.ServiceID, iface ids.InterfaceHash, provider ids.ServiceID) *DependencyOfflineEvent {
	e := &DependencyOfflineEvent{Interface: iface, Provider: provider}
	e.Base = newBase("DependencyOfflineEvent", TypeHashOf(e), origin, PriorityDependency)
	return e
}

// ContinuableDependencyOfflineEvent is DependencyOfflineEvent's continuation
// variant carrying a RemoveOriginatingOfflineServiceAfterStop flag (spec.md
// §9 open question 3). The DependencyManager handles it exactly like a
// DependencyOfflineEvent: the flag is carried but not acted on, and no
// RemoveServiceEvent is pushed for origin when it is true.
type ContinuableDependencyOfflineEvent struct {
	DependencyOfflineEvent
	RemoveOriginatingOfflineServiceAfterStop bool
}

func NewContinuableDependencyOfflineEvent(origin ids.ServiceID, iface ids.InterfaceHash, provider ids.ServiceID, removeAfterStop bool) *ContinuableDependencyOfflineEvent {
	e := &ContinuableDependencyOfflineEvent{RemoveOriginatingOfflineServiceAfterStop: removeAfterStop}
	e.Interface = iface
	e.Provider = provider
	e.Base = newBase("ContinuableDependencyOfflineEvent", TypeHashOf(e), origin, PriorityDependency)
	return e
}

// ContinuableEvent resumes a suspended coroutine identified by PromiseID. It
// is always pushed at PriorityCoroutineContinuation.
type ContinuableEvent struct {
	Base
	PromiseID ids.PromiseID
}

func NewContinuableEvent(origin ids.ServiceID, promise ids.PromiseID) *ContinuableEvent {
	e := &ContinuableEvent{PromiseID: promise}
	e.Base = newBase("ContinuableEvent", TypeHashOf(e), origin, PriorityCoroutineContinuation)
	return e
}

// ContinuableStartEvent resumes a service's suspended start() coroutine.
type ContinuableStartEvent struct {
	Base
	ServiceID ids.ServiceID
	PromiseID ids.PromiseID
}

func NewContinuableStartEvent(origin, svc ids.ServiceID, promise ids.PromiseID) *ContinuableStartEvent {
	e := &ContinuableStartEvent{ServiceID: svc, PromiseID: promise}
	e.Base = newBase("ContinuableStartEvent", TypeHashOf(e), origin, PriorityCoroutineContinuation)
	return e
}

// RunFunctionEvent executes an arbitrary synchronous function on the loop
// thread; used to marshal work from other goroutines back onto the DM.
type RunFunctionEvent struct {
	Base
	Fn func(ctx context.Context) error
}

func NewRunFunctionEvent(origin ids.ServiceID, priority Priority, fn func(ctx context.Context) error) *RunFunctionEvent {
	e := &RunFunctionEvent{Fn: fn}
	e.Base = newBase("RunFunctionEvent", TypeHashOf(e), origin, priority)
	return e
}

// QuitEvent requests orderly shutdown of the event loop.
type QuitEvent struct {
	Base
}

func NewQuitEvent(origin ids.ServiceID, priority Priority) *QuitEvent {
	e := &QuitEvent{}
	e.Base = newBase("QuitEvent", TypeHashOf(e), origin, priority)
	return e
}

// RemoveHandlerEvent, RemoveInterceptorEvent and RemoveTrackerEvent implement
// the de-registration side of handler, interceptor and tracker
// registrations (spec.md §9): dispatching one removes the registration with
// that id. runtime's Unregister* methods remove registrations directly and
// do not push these events.
type RemoveHandlerEvent struct {
	Base
	RegistrationID uint64
}

func NewRemoveHandlerEvent(origin ids.ServiceID, priority Priority, registrationID uint64) *RemoveHandlerEvent {
	e := &RemoveHandlerEvent{RegistrationID: registrationID}
	e.Base = newBase("RemoveHandlerEvent", TypeHashOf(e), origin, priority)
	return e
}

type RemoveInterceptorEvent struct {
	Base
	RegistrationID uint64
}

func NewRemoveInterceptorEvent(origin ids.ServiceID, priority Priority, registrationID uint64) *RemoveInterceptorEvent {
	e := &RemoveInterceptorEvent{RegistrationID: registrationID}
	e.Base = newBase("RemoveInterceptorEvent", TypeHashOf(e), origin, priority)
	return e
}

type RemoveTrackerEvent struct {
	Base
	RegistrationID uint64
}

func NewRemoveTrackerEvent(origin ids.ServiceID, priority Priority, registrationID uint64) *RemoveTrackerEvent {
	e := &RemoveTrackerEvent{RegistrationID: registrationID}
	e.Base = newBase("RemoveTrackerEvent", TypeHashOf(e), origin, priority)
	return e
}

// ManifestChangedEvent is pushed by the ambient config watcher (fsnotify)
// when a static service manifest file changes on disk. The DM has no
// built-in case for it; the handler manifest.Installer.WatchAndReconcile
// registers turns it into create/stop service calls (SPEC_FULL.md §3).
type ManifestChangedEvent struct {
	Base
	Path string
}

func NewManifestChangedEvent(origin ids.ServiceID, path string) *ManifestChangedEvent {
	e := &ManifestChangedEvent{Path: path}
	e.Base = newBase("ManifestChangedEvent", TypeHashOf(e), origin, PriorityInternal)
	return e
}
