// Package service defines the runtime-owned Service record and the
// interfaces user code implements to participate in it, grounded on the
// teacher's services.Service/ServiceState contract (internal/services in
// the muster source this package replaces) but reshaped around spec.md
// §3's Service data model and §4.3's state machine instead of the
// teacher's health-checked process supervisor model.
package service

import (
	"context"
	"fmt"

	"synapse/internal/coroutine"
	"synapse/pkg/ids"
)

// State is one node of the LifecycleManager state machine (spec.md §4.3).
type State int

const (
	StateInstalled State = iota
	StateInjecting
	StateStarting
	StateActive
	StateStopping
	StateUninjecting
	StateUninstalling
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateInjecting:
		return "injecting"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateUninjecting:
		return "uninjecting"
	case StateUninstalling:
		return "uninstalling"
	case StateUninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// DependencyFlag marks how a declared dependency edge may be satisfied
// (spec.md §3 Dependency).
type DependencyFlag int

const (
	// Required means the service cannot reach active until this edge has
	// satisfied_count >= 1.
	Required DependencyFlag = 1 << iota
	// AllowMultiple means the edge accepts more than one simultaneous
	// provider (satisfied_count may exceed 1).
	AllowMultiple
)

// PropertiesFilter is evaluated against a candidate provider's Properties
// before it is allowed to satisfy a dependency edge (spec.md §4.4 step 1).
type PropertiesFilter func(Properties) bool

// Dependency is one declared edge from a service to an interface it needs
// (spec.md §3 Dependency, §4.4 DependencyRegister).
type Dependency struct {
	Interface ids.InterfaceHash
	Flags     DependencyFlag
	// SatisfiedCount is mutated only by the owning DependencyManager on its
	// loop thread (spec.md §4.3 "state field is never touched from other
	// threads").
	SatisfiedCount int
	Filter         PropertiesFilter

	// AddCallback/RemoveCallback are invoked by the DM when a candidate
	// provider is accepted or withdrawn (spec.md §4.4 steps 2/remove).
	AddCallback    func(ctx context.Context, provider ids.ServiceID, providerIface any) error
	RemoveCallback func(ctx context.Context, provider ids.ServiceID) error

	// Providers is the set of services currently satisfying this edge:
	// exactly one for a non-AllowMultiple edge, possibly more otherwise.
	// Tracked so a provider going offline only un-satisfies and
	// un-dependents the requesters it actually satisfied.
	Providers map[ids.ServiceID]struct{}
}

// Required reports whether this edge must be satisfied for the owning
// service to become active.
func (d *Dependency) Required() bool { return d.Flags&Required != 0 }

// AddProvider records provider as currently satisfying this edge.
func (d *Dependency) AddProvider(provider ids.ServiceID) {
	if d.Providers == nil {
		d.Providers = make(map[ids.ServiceID]struct{})
	}
	d.Providers[provider] = struct{}{}
}

// RemoveProvider drops provider from this edge's satisfying set, reporting
// whether it had been present.
func (d *Dependency) RemoveProvider(provider ids.ServiceID) bool {
	if _, ok := d.Providers[provider]; !ok {
		return false
	}
	delete(d.Providers, provider)
	return true
}

// DependencyInfo is a service's full declared or satisfied dependency set,
// keyed by interface (spec.md §3 declared_dependencies/satisfied_dependencies).
type DependencyInfo struct {
	edges map[ids.InterfaceHash]*Dependency
}

// NewDependencyInfo constructs an empty dependency set.
func NewDependencyInfo() *DependencyInfo {
	return &DependencyInfo{edges: make(map[ids.InterfaceHash]*Dependency)}
}

// Add inserts or replaces the edge for d.Interface.
func (di *DependencyInfo) Add(d *Dependency) { di.edges[d.Interface] = d }

// Get returns the edge for iface, if declared.
func (di *DependencyInfo) Get(iface ids.InterfaceHash) (*Dependency, bool) {
	d, ok := di.edges[iface]
	return d, ok
}

// Remove drops the edge for iface.
func (di *DependencyInfo) Remove(iface ids.InterfaceHash) { delete(di.edges, iface) }

// All returns every declared edge. Iteration order is unspecified.
func (di *DependencyInfo) All() []*Dependency {
	out := make([]*Dependency, 0, len(di.edges))
	for _, d := range di.edges {
		out = append(out, d)
	}
	return out
}

// AllRequiredSatisfied reports whether every Required edge currently has
// SatisfiedCount >= 1 (spec.md §4.3 "Satisfaction rule").
func (di *DependencyInfo) AllRequiredSatisfied() bool {
	for _, d := range di.edges {
		if d.Required() && d.SatisfiedCount < 1 {
			return false
		}
	}
	return true
}

// Properties is a service's per-instance property bag (spec.md §3
// properties: map<string, any>). Keys are unique; insertion order is
// irrelevant.
type Properties map[string]any

// Clone returns a shallow copy, used when handing properties to a tracker
// deriving a child service's properties (spec.md §4.5).
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// StartError is the error type returned by a service's coroutine-style
// start routine (spec.md §4.3 "Task<Result<void, StartError>>").
type StartError struct {
	Reason string
	Cause  error
}

func (e *StartError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

func (e *StartError) Unwrap() error { return e.Cause }

// DependencyCycleError is returned when registering a required dependency
// edge would close a cycle of required dependencies among already-known
// services (spec.md §7 "fatal, service creation is rejected"). Go favors
// an explicit returned error over the source's fatal abort; see
// SPEC_FULL.md §3.
type DependencyCycleError struct {
	Requester ids.ServiceID
	Provider  ids.ServiceID
	Interface ids.InterfaceHash
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("service %d requiring interface %d would close a required-dependency cycle through service %d",
		e.Requester, e.Interface, e.Provider)
}

// AdvancedService is implemented by services that declare dependencies
// explicitly and drive their own asynchronous start/stop (spec.md §3
// "advanced" flavor).
type AdvancedService interface {
	// Start is invoked once every required dependency is satisfied. It
	// runs as a coroutine and receives the context of the dispatch that
	// started it; the DependencyManager does not cancel that context when
	// the owning service stops before the returned Task resolves.
	Start(ctx context.Context) *coroutine.Task[struct{}]
	// Stop is invoked once every dependent has been driven to uninject
	// (spec.md §4.3 "Teardown rule").
	Stop(ctx context.Context) *coroutine.Task[struct{}]
}

// ConstructorInjectedService is implemented by services that receive
// their dependencies positionally rather than via register/add-callbacks
// (spec.md §3 "constructor-injected" flavor, §4.4).
type ConstructorInjectedService interface {
	// Dependencies lists the interfaces this service's constructor needs,
	// in positional order. A nil or empty slice means no dependencies.
	Dependencies() []ids.InterfaceHash
	// Construct is called once every entry in Dependencies() has a
	// resolved provider instance, supplied positionally in params.
	Construct(ctx context.Context, params []any) error
}

// Record is the runtime-owned record of one installed service instance:
// the data model spec.md §3 describes. User code never sees a Record
// directly; it interacts through AdvancedService/ConstructorInjectedService
// and the DependencyManager's registration APIs.
type Record struct {
	ID       ids.ServiceID
	GID      ids.GID
	Name     string
	Priority uint64

	State State

	Properties Properties

	ProvidedInterfaces map[ids.InterfaceHash]struct{}

	Declared  *DependencyInfo
	Satisfied *DependencyInfo

	Dependents map[ids.ServiceID]struct{}

	Impl any
}

// NewRecord constructs a freshly installed service record. priority
// defaults to 1000 (spec.md §3 "default INTERNAL_EVENT_PRIORITY = 1000")
// when 0 is passed.
func NewRecord(id ids.ServiceID, name string, impl any, props Properties, priority uint64) *Record {
	if priority == 0 {
		priority = 1000
	}
	if props == nil {
		props = Properties{}
	}
	return &Record{
		ID:                 id,
		GID:                ids.NewGID(),
		Name:               name,
		Priority:           priority,
		State:              StateInstalled,
		Properties:         props,
		ProvidedInterfaces: make(map[ids.InterfaceHash]struct{}),
		Declared:           NewDependencyInfo(),
		Satisfied:          NewDependencyInfo(),
		Dependents:         make(map[ids.ServiceID]struct{}),
		Impl:               impl,
	}
}

// Provides marks iface as one of this service's provided interfaces.
func (r *Record) Provides(iface ids.InterfaceHash) { r.ProvidedInterfaces[iface] = struct{}{} }

// ProvidesInterface reports whether this service provides iface.
func (r *Record) ProvidesInterface(iface ids.InterfaceHash) bool {
	_, ok := r.ProvidedInterfaces[iface]
	return ok
}

// AddDependent records that dependent consumes one of this service's
// provided interfaces (spec.md §3 "dependents[A] ∋ B iff...").
func (r *Record) AddDependent(dependent ids.ServiceID) { r.Dependents[dependent] = struct{}{} }

// RemoveDependent drops dependent from this service's dependent set.
func (r *Record) RemoveDependent(dependent ids.ServiceID) { delete(r.Dependents, dependent) }

// IsActive reports whether the service is currently in StateActive.
func (r *Record) IsActive() bool { return r.State == StateActive }
