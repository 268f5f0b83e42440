// Package ids allocates the process-local identifiers synapse's core uses to
// name services, interfaces and events (spec.md §3).
package ids

import (
	"reflect"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ServiceID is a process-local 64-bit identifier allocated from a monotonic
// counter starting at 1. It is never reused within a run.
type ServiceID uint64

// ServiceIDAllocator hands out ServiceIDs starting at 1.
type ServiceIDAllocator struct {
	counter atomic.Uint64
}

// Next returns the next unused ServiceID.
func (a *ServiceIDAllocator) Next() ServiceID {
	return ServiceID(a.counter.Add(1))
}

// EventID is a DM-local 64-bit identifier allocated from a monotonic counter.
type EventID uint64

// EventIDAllocator hands out EventIDs starting at 1.
type EventIDAllocator struct {
	counter atomic.Uint64
}

// Next returns the next unused EventID.
func (a *EventIDAllocator) Next() EventID {
	return EventID(a.counter.Add(1))
}

// PromiseID identifies a suspended coroutine's continuation slot.
type PromiseID uint64

// PromiseIDAllocator hands out PromiseIDs starting at 1.
type PromiseIDAllocator struct {
	counter atomic.Uint64
}

// Next returns the next unused PromiseID.
func (a *PromiseIDAllocator) Next() PromiseID {
	return PromiseID(a.counter.Add(1))
}

// GID is a 128-bit globally unique identifier assigned to every service
// instance, independent of the process-local ServiceID.
type GID = uuid.UUID

// NewGID generates a fresh random GID.
func NewGID() GID {
	return uuid.New()
}

// InterfaceHash is the stable 64-bit hash of an interface type's name, used
// as the universal key for dependency matching, interceptor keying and
// tracker keying (spec.md §3). It must be identical across compilation
// units, which rules out Go's randomized map/string hash and anything tied
// to reflect.Type identity; xxhash over the interface's qualified name gives
// a stable, fast, collision-resistant 64-bit value instead.
type InterfaceHash uint64

// HashInterfaceName computes the InterfaceHash for a given interface name.
// Callers should pass a fully qualified name (package path + type name) to
// avoid collisions between identically-named interfaces in different
// packages.
func HashInterfaceName(name string) InterfaceHash {
	return InterfaceHash(xxhash.Sum64String(name))
}

// InterfaceOf returns the InterfaceHash for a Go interface type, keyed by
// its generic type parameter. Usage: ids.InterfaceOf[ILog]().
func InterfaceOf[T any]() InterfaceHash {
	return HashInterfaceName(typeName[T]())
}

// EventTypeHash identifies an event's concrete Go type the same way
// InterfaceHash identifies a provided interface.
type EventTypeHash uint64

// HashEventTypeName computes the EventTypeHash for a given event type name.
func HashEventTypeName(name string) EventTypeHash {
	return EventTypeHash(xxhash.Sum64String(name))
}

// EventTypeOf returns the EventTypeHash for a Go event struct type, keyed by
// its generic type parameter. Usage: ids.EventTypeOf[MyEvent]().
func EventTypeOf[T any]() EventTypeHash {
	return HashEventTypeName(typeName[T]())
}

func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
