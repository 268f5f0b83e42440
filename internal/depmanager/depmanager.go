// Package depmanager implements the DependencyManager: the single owner of
// every service record on one event loop, the dispatcher of every event
// that loop's queue hands it, and the only code path allowed to mutate
// service registry state (spec.md §4.2). It is grounded on the teacher's
// internal/dependency graph (cycle detection) and internal/orchestrator
// (lifecycle driving), reshaped around spec.md's event-driven, single
// consumer-thread model instead of the teacher's direct goroutine-per-
// service supervisor.
package depmanager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"synapse/internal/coroutine"
	"synapse/internal/event"
	"synapse/internal/queue"
	"synapse/internal/service"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// HandlerFunc is a user callback registered for one event type. It returns
// an AsyncGenerator[Behaviour] the same way the source's handlers do
// (spec.md §3 Handler); most handlers yield once and return, which
// NewSyncGenerator below makes convenient to write without an explicit
// goroutine.
type HandlerFunc func(ctx context.Context, e event.Event) *coroutine.AsyncGenerator[coroutine.Behaviour]

// NewSyncGenerator wraps a plain non-suspending callback as a
// single-result AsyncGenerator, for handlers that never need to suspend.
func NewSyncGenerator(fn func(ctx context.Context, e event.Event) coroutine.Behaviour) HandlerFunc {
	return func(ctx context.Context, e event.Event) *coroutine.AsyncGenerator[coroutine.Behaviour] {
		return coroutine.NewAsyncGenerator(func(yield func(coroutine.Behaviour)) error {
			yield(fn(ctx, e))
			return nil
		})
	}
}

type handlerReg struct {
	id        uint64
	owner     ids.ServiceID
	filterSvc *ids.ServiceID
	fn        HandlerFunc
}

// InterceptorFunc pairs pre/post callbacks for one event type or, when
// registered globally, every event (spec.md §3 Interceptor).
type InterceptorFunc struct {
	Pre  func(ctx context.Context, e event.Event) bool
	Post func(ctx context.Context, e event.Event, processed bool)
}

type interceptorReg struct {
	id    uint64
	owner ids.ServiceID
	fn    InterceptorFunc
}

// TrackerFuncs are the callbacks a service registers to satisfy requests
// for an interface it can construct on demand (spec.md §4.5).
type TrackerFuncs struct {
	OnRequest func(ctx context.Context, requester ids.ServiceID, props service.Properties) error
	OnUndo    func(ctx context.Context, requester ids.ServiceID) error
}

type trackerReg struct {
	id    uint64
	owner ids.ServiceID
	fn    TrackerFuncs
}

// continuationReg is a pending handler-generator suspension: resume runs
// on the loop thread once its ContinuableEvent is dispatched; cancel tells
// the background goroutine still waiting on the generator to give up if
// the owning service stops first (spec.md §4.2 step 2, §7
// CoroutineOrphaned).
type continuationReg struct {
	resume func(ctx context.Context)
	cancel context.CancelFunc
}

// Manager is one DependencyManager: it owns every service on its loop and
// is the sole mutator of their state (spec.md §4.2).
type Manager struct {
	queue  *queue.Queue
	logger logging.Logger

	eventIDs    ids.EventIDAllocator
	serviceIDs  ids.ServiceIDAllocator
	promiseIDs  ids.PromiseIDAllocator
	regIDSource uint64

	records map[ids.ServiceID]*service.Record
	// interfaceIndex maps a provided interface to every service currently
	// providing it and active, for O(1)-ish candidate lookup.
	interfaceIndex map[ids.InterfaceHash]map[ids.ServiceID]struct{}

	handlers     map[ids.EventTypeHash][]*handlerReg
	interceptors map[ids.EventTypeHash][]*interceptorReg
	globalIcpt   []*interceptorReg
	trackers     map[ids.InterfaceHash][]*trackerReg

	// continuations maps a promise id to the callback that resumes
	// whatever suspended on it, invoked once its ContinuableEvent arrives
	// (spec.md §4.2 step 2, §4.6).
	continuations map[ids.PromiseID]*continuationReg
	// continuationOwner tracks which service owns each pending
	// continuation, so stopping a service can drop its orphaned entries
	// (spec.md §7 CoroutineOrphaned).
	continuationOwner map[ids.PromiseID]ids.ServiceID

	// peers are sibling DMs reachable via CommunicationChannel broadcast
	// (spec.md §4.7); nil until JoinChannel is called.
	channel *Channel
}

// New constructs a Manager bound to q, the queue it drains events from.
func New(q *queue.Queue, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		queue:             q,
		logger:            logger,
		records:           make(map[ids.ServiceID]*service.Record),
		interfaceIndex:    make(map[ids.InterfaceHash]map[ids.ServiceID]struct{}),
		handlers:          make(map[ids.EventTypeHash][]*handlerReg),
		interceptors:      make(map[ids.EventTypeHash][]*interceptorReg),
		trackers:          make(map[ids.InterfaceHash][]*trackerReg),
		continuations:     make(map[ids.PromiseID]*continuationReg),
		continuationOwner: make(map[ids.PromiseID]ids.ServiceID),
	}
}

func (m *Manager) nextRegID() uint64 {
	m.regIDSource++
	return m.regIDSource
}

// PushEvent assigns e an id and pushes it onto the owning queue, matching
// EventQueue::push_event (spec.md §6).
func (m *Manager) PushEvent(e event.Event) {
	meta := e.Meta()
	if meta.ID == 0 {
		meta.ID = m.eventIDs.Next()
	}
	m.queue.Push(e)
}

// CreateServiceManager allocates a service id, builds its Record, and
// schedules INSERT_SERVICE at priority 50 (spec.md §4.2 Registration APIs,
// §4.8 Service creation pipeline).
func (m *Manager) CreateServiceManager(impl any, name string, provides []ids.InterfaceHash, props service.Properties, priority uint64) ids.ServiceID {
	id := m.serviceIDs.Next()
	rec := service.NewRecord(id, name, impl, props, priority)
	for _, iface := range provides {
		rec.Provides(iface)
	}
	m.records[id] = rec

	ins := event.NewInsertServiceEvent(0, id)
	m.PushEvent(ins)
	return id
}

// GetServiceByID returns the service record for id, if installed.
func (m *Manager) GetServiceByID(id ids.ServiceID) (*service.Record, bool) {
	r, ok := m.records[id]
	return r, ok
}

// RegisterEventHandler registers fn for every event whose type hash is
// typeHash, optionally filtered to events originating from filterSvc
// (spec.md §6 register_event_handler). Returns a registration id usable
// with RemoveHandler.
func (m *Manager) RegisterEventHandler(owner ids.ServiceID, typeHash ids.EventTypeHash, filterSvc *ids.ServiceID, fn HandlerFunc) uint64 {
	h := &handlerReg{id: m.nextRegID(), owner: owner, filterSvc: filterSvc, fn: fn}
	m.handlers[typeHash] = append(m.handlers[typeHash], h)
	return h.id
}

// RemoveHandler removes a single previously registered handler by id.
func (m *Manager) RemoveHandler(id uint64) {
	for t, list := range m.handlers {
		m.handlers[t] = removeByID(list, id)
	}
}

func removeByID[T interface{ getID() uint64 }](list []T, id uint64) []T {
	out := list[:0]
	for _, h := range list {
		if h.getID() != id {
			out = append(out, h)
		}
	}
	return out
}

func (h *handlerReg) getID() uint64     { return h.id }
func (i *interceptorReg) getID() uint64 { return i.id }
func (t *trackerReg) getID() uint64     { return t.id }

// RegisterEventInterceptor registers fn for typeHash, or for every event
// when typeHash is the zero value (spec.md §6 register_event_interceptor).
func (m *Manager) RegisterEventInterceptor(owner ids.ServiceID, typeHash ids.EventTypeHash, fn InterceptorFunc) uint64 {
	r := &interceptorReg{id: m.nextRegID(), owner: owner, fn: fn}
	if typeHash == 0 {
		m.globalIcpt = append(m.globalIcpt, r)
	} else {
		m.interceptors[typeHash] = append(m.interceptors[typeHash], r)
	}
	return r.id
}

// RemoveInterceptor removes a single previously registered interceptor.
func (m *Manager) RemoveInterceptor(id uint64) {
	m.globalIcpt = removeByID(m.globalIcpt, id)
	for t, list := range m.interceptors {
		m.interceptors[t] = removeByID(list, id)
	}
}

// RegisterDependencyTracker registers fn as the provider-on-demand tracker
// for iface (spec.md §4.5 Trackers).
func (m *Manager) RegisterDependencyTracker(owner ids.ServiceID, iface ids.InterfaceHash, fn TrackerFuncs) uint64 {
	r := &trackerReg{id: m.nextRegID(), owner: owner, fn: fn}
	m.trackers[iface] = append(m.trackers[iface], r)
	return r.id
}

// RemoveTracker removes a single previously registered tracker.
func (m *Manager) RemoveTracker(id uint64) {
	for i, list := range m.trackers {
		m.trackers[i] = removeByID(list, id)
	}
}

// removeServiceRegistrations drops every handler/interceptor/tracker owned
// by svc, matching spec.md §3 "removal is automatic when that service
// uninstalls."
func (m *Manager) removeServiceRegistrations(svc ids.ServiceID) {
	for t, list := range m.handlers {
		kept := list[:0]
		for _, h := range list {
			if h.owner != svc {
				kept = append(kept, h)
			}
		}
		m.handlers[t] = kept
	}
	for t, list := range m.interceptors {
		kept := list[:0]
		for _, ic := range list {
			if ic.owner != svc {
				kept = append(kept, ic)
			}
		}
		m.interceptors[t] = kept
	}
	{
		kept := m.globalIcpt[:0]
		for _, ic := range m.globalIcpt {
			if ic.owner != svc {
				kept = append(kept, ic)
			}
		}
		m.globalIcpt = kept
	}
	for i, list := range m.trackers {
		kept := list[:0]
		for _, tr := range list {
			if tr.owner != svc {
				kept = append(kept, tr)
			}
		}
		m.trackers[i] = kept
	}
	for pid, owner := range m.continuationOwner {
		if owner == svc {
			if reg, ok := m.continuations[pid]; ok {
				reg.cancel()
			}
			delete(m.continuations, pid)
			delete(m.continuationOwner, pid)
		}
	}
}

// Dispatch processes a single event per spec.md §4.2 "Per-event
// processing". It is invoked by the owning Queue's Run loop on the
// consumer goroutine only.
func (m *Manager) Dispatch(ctx context.Context, e event.Event) {
	typeHash := event.TypeHashOf(e)

	suppressed := false
	var ran []*interceptorReg
	for _, ic := range m.globalIcpt {
		if !ic.fn.Pre(ctx, e) {
			suppressed = true
		}
		ran = append(ran, ic)
	}
	for _, ic := range m.interceptors[typeHash] {
		if !ic.fn.Pre(ctx, e) {
			suppressed = true
		}
		ran = append(ran, ic)
	}

	processed := false
	if !suppressed {
		processed = m.dispatchBuiltin(ctx, e)
		processed = m.dispatchHandlers(ctx, e, typeHash) || processed
	}

	for _, ic := range ran {
		ic.fn.Post(ctx, e, processed)
	}
}

// handlerSuspendGrace bounds how long the loop thread waits for a
// handler's AsyncGenerator to yield before treating it as suspended and
// handing the rest of its wait to a background goroutine, resuming later
// via a ContinuableEvent at PriorityCoroutineContinuation instead of
// blocking here (spec.md §4.2 step 2, §5 "no operation... synchronously
// blocks the loop thread except the queue's wait call"). A handler built
// with NewSyncGenerator yields in microseconds, far under this; anything
// slower is — by construction — waiting on something only a later event
// delivers, so it must give the thread back rather than risk it.
const handlerSuspendGrace = 2 * time.Millisecond

// dispatchHandlers runs every handler registered for typeHash in
// registration order, honoring StopPropagation and per-handler origin
// filters (spec.md §4.2 step 2). It never blocks the loop thread past
// handlerSuspendGrace: a handler whose generator doesn't yield by then is
// suspended and resumes the rest of the chain asynchronously.
func (m *Manager) dispatchHandlers(ctx context.Context, e event.Event, typeHash ids.EventTypeHash) bool {
	list := m.handlers[typeHash]
	if len(list) == 0 {
		return false
	}
	ran := false
	for _, h := range list {
		if h.filterSvc == nil || *h.filterSvc == e.Meta().Origin {
			ran = true
			break
		}
	}
	if ran {
		m.runHandlerChain(ctx, e, typeHash, list, 0)
	}
	return ran
}

// runHandlerChain runs list[idx:] in order until one suspends, stops
// propagation, or the list is exhausted. A suspending handler hands the
// rest of the chain (idx+1:) to its own resumption; this function never
// continues past it synchronously.
func (m *Manager) runHandlerChain(ctx context.Context, e event.Event, typeHash ids.EventTypeHash, list []*handlerReg, idx int) {
	for ; idx < len(list); idx++ {
		h := list[idx]
		if h.filterSvc != nil && *h.filterSvc != e.Meta().Origin {
			continue
		}
		gen := h.fn(ctx, e)
		m.pumpGenerator(ctx, h.owner, gen, typeHash, e, list, idx+1)
		return
	}
}

// pumpGenerator drains one handler's AsyncGenerator without blocking the
// loop thread past handlerSuspendGrace. On a normal finish it continues
// list[nextIdx:] itself; on StopPropagation it stops the chain; on
// suspension it registers a continuation and returns, letting a
// background goroutine carry the wait the rest of the way.
func (m *Manager) pumpGenerator(ctx context.Context, owner ids.ServiceID, gen *coroutine.AsyncGenerator[coroutine.Behaviour], typeHash ids.EventTypeHash, e event.Event, list []*handlerReg, nextIdx int) {
	for {
		b, ok, ready := gen.TryNext(handlerSuspendGrace)
		if !ready {
			m.suspendGenerator(ctx, owner, gen, typeHash, e, list, nextIdx)
			return
		}
		if !ok {
			m.runHandlerChain(ctx, e, typeHash, list, nextIdx)
			return
		}
		if b == coroutine.StopPropagation {
			return
		}
	}
}

// suspendGenerator registers a continuation for gen's still-pending next
// value: a background goroutine blocks on it (off the loop thread, for as
// long as it takes), then pushes a ContinuableEvent so resumption runs
// back on the loop thread via handleContinuable (spec.md §4.2 step 2,
// §4.6). Cancelling the continuation (owner stopping first) unblocks the
// background wait via ctx without ever resuming the chain.
func (m *Manager) suspendGenerator(ctx context.Context, owner ids.ServiceID, gen *coroutine.AsyncGenerator[coroutine.Behaviour], typeHash ids.EventTypeHash, e event.Event, list []*handlerReg, nextIdx int) {
	promise := m.NewPromiseID()
	waitCtx, cancel := context.WithCancel(ctx)

	type yielded struct {
		b  coroutine.Behaviour
		ok bool
	}
	resultCh := make(chan yielded, 1)

	m.RegisterContinuation(owner, promise, func(resumeCtx context.Context) {
		r := <-resultCh
		switch {
		case !r.ok:
			m.runHandlerChain(resumeCtx, e, typeHash, list, nextIdx)
		case r.b == coroutine.StopPropagation:
			// Chain stops here; nothing further to run.
		default:
			m.pumpGenerator(resumeCtx, owner, gen, typeHash, e, list, nextIdx)
		}
	}, cancel)

	go func() {
		b, ok := gen.Next(waitCtx)
		resultCh <- yielded{b, ok}
		m.PushEvent(event.NewContinuableEvent(owner, promise))
	}()
}

// dispatchBuiltin handles the ~dozen internal event variants the DM itself
// understands (spec.md §4.2 step 3).
func (m *Manager) dispatchBuiltin(ctx context.Context, e event.Event) bool {
	switch evt := e.(type) {
	case *event.InsertServiceEvent:
		m.handleInsertService(ctx, evt)
	case *event.StartServiceEvent:
		m.handleStartService(ctx, evt)
	case *event.StopServiceEvent:
		m.handleStopService(ctx, evt)
	case *event.RemoveServiceEvent:
		m.handleRemoveService(ctx, evt)
	case *event.DependencyRequestEvent:
		m.handleDependencyRequest(ctx, evt)
	case *event.DependencyUndoRequestEvent:
		m.handleDependencyUndoRequest(ctx, evt)
	case *event.DependencyOnlineEvent:
		m.handleDependencyOnline(ctx, evt)
	case *event.DependencyOfflineEvent:
		m.handleDependencyOffline(ctx, evt)
	case *event.ContinuableDependencyOfflineEvent:
		m.handleDependencyOffline(ctx, &evt.DependencyOfflineEvent)
	case *event.RunFunctionEvent:
		if evt.Fn != nil {
			if err := evt.Fn(ctx); err != nil {
				m.logger.Error("depmanager", 0, "dispatchBuiltin", "run-function event failed: %v", err)
			}
		}
	case *event.ContinuableEvent:
		m.handleContinuable(ctx, evt)
	case *event.RemoveHandlerEvent:
		m.RemoveHandler(evt.RegistrationID)
	case *event.RemoveInterceptorEvent:
		m.RemoveInterceptor(evt.RegistrationID)
	case *event.RemoveTrackerEvent:
		m.RemoveTracker(evt.RegistrationID)
	default:
		return false
	}
	return true
}

func (m *Manager) handleInsertService(ctx context.Context, evt *event.InsertServiceEvent) {
	rec, ok := m.records[evt.ServiceID]
	if !ok {
		return
	}
	for iface := range rec.ProvidedInterfaces {
		if m.interfaceIndex[iface] == nil {
			m.interfaceIndex[iface] = make(map[ids.ServiceID]struct{})
		}
	}
	// Requesting a start immediately evaluates whatever dependencies are
	// already declared; advanced services typically declare theirs in
	// their constructor before CreateServiceManager is called.
	m.evaluateService(ctx, rec)
}

// RequestStart is the public entry point mirroring spec.md's implicit
// "start request" transition out of installed (spec.md §4.3 diagram); it
// re-evaluates dependencies and, if already satisfied, invokes start.
func (m *Manager) RequestStart(ctx context.Context, id ids.ServiceID) {
	rec, ok := m.records[id]
	if !ok || rec.State != service.StateInstalled {
		return
	}
	rec.State = service.StateInjecting
	m.evaluateService(ctx, rec)
}

func (m *Manager) handleStartService(ctx context.Context, evt *event.StartServiceEvent) {
	m.RequestStart(ctx, evt.ServiceID)
}

// RequestStop begins tearing down id, the public counterpart to
// RequestStart for the other half of the implicit lifecycle transition
// (spec.md §4.3 diagram). Must be called from the loop thread; callers
// outside it should route through a RunFunctionEvent instead.
func (m *Manager) RequestStop(ctx context.Context, id ids.ServiceID) {
	m.requestStop(ctx, id)
}

// evaluateService re-checks whether rec's required edges are all
// satisfied and, if so and it isn't already starting/active, invokes the
// user start coroutine (spec.md §4.3 "Satisfaction rule").
func (m *Manager) evaluateService(ctx context.Context, rec *service.Record) {
	if rec.State != service.StateInjecting && rec.State != service.StateInstalled {
		return
	}
	for _, d := range rec.Declared.All() {
		if _, satisfied := rec.Satisfied.Get(d.Interface); !satisfied {
			m.requestDependency(ctx, rec.ID, d)
		}
	}
	if !rec.Declared.AllRequiredSatisfied() {
		return
	}

	adv, ok := rec.Impl.(service.AdvancedService)
	if !ok {
		// Constructor-injected services resolve at construction time
		// instead (spec.md §4.4); nothing further to do here.
		rec.State = service.StateActive
		m.publishOnline(ctx, rec)
		return
	}

	rec.State = service.StateStarting
	task := adv.Start(ctx)
	go func() {
		_, err := task.Await(ctx)
		m.PushEvent(event.NewRunFunctionEvent(rec.ID, event.PriorityInternal, func(ctx context.Context) error {
			if err != nil {
				rec.State = service.StateInstalled
				m.logger.Warn("depmanager", 0, "evaluateService", "service %d start failed: %v", rec.ID, err)
				return nil
			}
			rec.State = service.StateActive
			m.publishOnline(ctx, rec)
			return nil
		}))
	}()
}

func (m *Manager) publishOnline(ctx context.Context, rec *service.Record) {
	for iface := range rec.ProvidedInterfaces {
		m.PushEvent(event.NewDependencyOnlineEvent(rec.ID, iface, rec.ID))
	}
}

// DeclareDependency registers d on requester's declared dependency set,
// rejecting it outright if it would close a required-dependency cycle
// among currently known services (spec.md §7 "fatal, service creation is
// rejected" — here surfaced as an error from the registration call that
// requested it eagerly, per SPEC_FULL.md §3's REDESIGN of the source's
// fatal abort). Non-required edges are never cyclic by this definition
// and always succeed.
func (m *Manager) DeclareDependency(requester ids.ServiceID, d *service.Dependency) error {
	rec, ok := m.records[requester]
	if !ok {
		return fmt.Errorf("depmanager: unknown service %d", requester)
	}
	if d.Required() {
		if provider, cyclic := m.detectRequiredCycle(requester, d.Interface); cyclic {
			return &service.DependencyCycleError{Requester: requester, Provider: provider, Interface: d.Interface}
		}
	}
	rec.Declared.Add(d)
	return nil
}

// detectRequiredCycle reports whether some service that (statically)
// provides iface already has a required-dependency chain leading back to
// requester. Providership is checked against every known record's fixed
// ProvidedInterfaces rather than the active-only interfaceIndex, because
// a genuine cycle deadlocks before either side ever reaches active — the
// interfaceIndex membership this would otherwise rely on never arrives.
func (m *Manager) detectRequiredCycle(requester ids.ServiceID, iface ids.InterfaceHash) (ids.ServiceID, bool) {
	for _, candidate := range m.records {
		if candidate.ID == requester || !candidate.ProvidesInterface(iface) {
			continue
		}
		if m.requiresTransitively(candidate.ID, requester, make(map[ids.ServiceID]bool)) {
			return candidate.ID, true
		}
	}
	return 0, false
}

// requiresTransitively reports whether from has a chain of Required
// declared edges (through whichever services currently provide them) that
// reaches target.
func (m *Manager) requiresTransitively(from, target ids.ServiceID, seen map[ids.ServiceID]bool) bool {
	if seen[from] {
		return false
	}
	seen[from] = true
	rec, ok := m.records[from]
	if !ok {
		return false
	}
	for _, d := range rec.Declared.All() {
		if !d.Required() {
			continue
		}
		for _, provider := range m.records {
			if !provider.ProvidesInterface(d.Interface) {
				continue
			}
			if provider.ID == target || m.requiresTransitively(provider.ID, target, seen) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) requestDependency(ctx context.Context, requester ids.ServiceID, d *service.Dependency) {
	for candidateID := range m.interfaceIndex[d.Interface] {
		candidate := m.records[candidateID]
		if candidate == nil || !candidate.IsActive() {
			continue
		}
		if d.Filter != nil && !d.Filter(candidate.Properties) {
			continue
		}
		m.satisfy(ctx, requester, d, candidate)
		return
	}
	m.PushEvent(event.NewDependencyRequestEvent(requester, d.Interface))
}

func (m *Manager) satisfy(ctx context.Context, requester ids.ServiceID, d *service.Dependency, provider *service.Record) {
	if d.AddCallback != nil {
		if err := d.AddCallback(ctx, provider.ID, provider.Impl); err != nil {
			m.logger.Error("depmanager", 0, "satisfy", "add callback for dependency failed: %v", err)
			return
		}
	}
	d.SatisfiedCount++
	d.AddProvider(provider.ID)
	req := m.records[requester]
	if req != nil {
		satisfied, ok := req.Satisfied.Get(d.Interface)
		if !ok {
			satisfied = &service.Dependency{Interface: d.Interface, Flags: d.Flags}
			req.Satisfied.Add(satisfied)
		}
		satisfied.SatisfiedCount++
		satisfied.AddProvider(provider.ID)
	}
	provider.AddDependent(requester)
	m.evaluateService(ctx, req)
}

func (m *Manager) handleDependencyRequest(ctx context.Context, evt *event.DependencyRequestEvent) {
	regs := m.trackers[evt.Interface]
	for _, tr := range regs {
		if tr.fn.OnRequest != nil {
			if err := tr.fn.OnRequest(ctx, evt.Origin, m.propsOf(evt.Origin)); err != nil {
				m.logger.Error("depmanager", 0, "handleDependencyRequest", "tracker OnRequest failed: %v", err)
			}
		}
	}
}

func (m *Manager) propsOf(id ids.ServiceID) service.Properties {
	if r, ok := m.records[id]; ok {
		return r.Properties
	}
	return nil
}

func (m *Manager) handleDependencyUndoRequest(ctx context.Context, evt *event.DependencyUndoRequestEvent) {
	for _, tr := range m.trackers[evt.Interface] {
		if tr.fn.OnUndo != nil {
			if err := tr.fn.OnUndo(ctx, evt.Origin); err != nil {
				m.logger.Error("depmanager", 0, "handleDependencyUndoRequest", "tracker OnUndo failed: %v", err)
			}
		}
	}
}

func (m *Manager) handleDependencyOnline(ctx context.Context, evt *event.DependencyOnlineEvent) {
	if m.interfaceIndex[evt.Interface] == nil {
		m.interfaceIndex[evt.Interface] = make(map[ids.ServiceID]struct{})
	}
	m.interfaceIndex[evt.Interface][evt.Provider] = struct{}{}

	for _, rec := range m.records {
		if rec.ID == evt.Provider {
			continue
		}
		if d, ok := rec.Declared.Get(evt.Interface); ok {
			if _, satisfied := rec.Satisfied.Get(evt.Interface); !satisfied || d.Flags&service.AllowMultiple != 0 {
				provider := m.records[evt.Provider]
				if provider != nil {
					m.satisfy(ctx, rec.ID, d, provider)
				}
			}
		}
	}
}

func (m *Manager) handleDependencyOffline(ctx context.Context, evt *event.DependencyOfflineEvent) {
	delete(m.interfaceIndex[evt.Interface], evt.Provider)
	provider := m.records[evt.Provider]

	for _, rec := range m.records {
		d, ok := rec.Satisfied.Get(evt.Interface)
		if !ok || !d.RemoveProvider(evt.Provider) {
			// rec declares/satisfies this interface, but not via this
			// specific provider (relevant for AllowMultiple edges with
			// more than one simultaneous provider) — nothing to undo here.
			continue
		}
		if declared, _ := rec.Declared.Get(evt.Interface); declared != nil {
			declared.RemoveProvider(evt.Provider)
			if declared.RemoveCallback != nil {
				if err := declared.RemoveCallback(ctx, evt.Provider); err != nil {
					m.logger.Error("depmanager", 0, "handleDependencyOffline", "remove callback failed: %v", err)
				}
			}
		}
		if provider != nil {
			// rec no longer consumes provider's interface: clear it from
			// provider's dependent set so provider's own teardown (if any
			// is pending) can eventually proceed (spec.md §4.3 "Teardown
			// rule").
			provider.RemoveDependent(rec.ID)
		}
		d.SatisfiedCount--
		if d.SatisfiedCount <= 0 {
			rec.Satisfied.Remove(evt.Interface)
			if declared, ok := rec.Declared.Get(evt.Interface); ok && declared.Required() && rec.IsActive() {
				m.requestStop(ctx, rec.ID)
			}
		}
	}
}

// requestStop begins tearing down rec: it publishes DependencyOffline for
// everything it provides and DependencyUndoRequest for everything it
// itself required, then re-pushes its own stop at elevated priority so
// dependents unwind before it invokes user Stop (spec.md §4.3 "Teardown
// rule", "Priority elevation", §4.5 "on the requester stopping, on_undo
// fires").
func (m *Manager) requestStop(ctx context.Context, id ids.ServiceID) {
	rec, ok := m.records[id]
	if !ok || rec.State == service.StateStopping || rec.State == service.StateUninstalled {
		return
	}
	rec.State = service.StateStopping
	for iface := range rec.ProvidedInterfaces {
		m.PushEvent(event.NewDependencyOfflineEvent(rec.ID, iface, rec.ID))
	}
	for _, d := range rec.Declared.All() {
		m.PushEvent(event.NewDependencyUndoRequestEvent(rec.ID, d.Interface))
	}
	m.PushEvent(event.NewStopServiceEvent(rec.ID, rec.ID, event.PriorityInternal+11))
}

func (m *Manager) handleStopService(ctx context.Context, evt *event.StopServiceEvent) {
	rec, ok := m.records[evt.ServiceID]
	if !ok {
		return
	}
	if len(rec.Dependents) > 0 {
		// Still waiting for dependents to uninject; this event will be
		// re-observed once the last dependent's offline handling clears
		// itself from rec.Dependents.
		m.PushEvent(event.NewStopServiceEvent(rec.ID, rec.ID, event.PriorityInternal+11))
		return
	}

	m.removeServiceRegistrations(rec.ID)

	adv, ok := rec.Impl.(service.AdvancedService)
	if !ok {
		rec.State = service.StateInstalled
		return
	}
	task := adv.Stop(ctx)
	go func() {
		_, _ = task.Await(ctx)
		m.PushEvent(event.NewRunFunctionEvent(rec.ID, event.PriorityInternal, func(ctx context.Context) error {
			rec.State = service.StateUninjecting
			rec.State = service.StateInstalled
			return nil
		}))
	}()
}

func (m *Manager) handleRemoveService(ctx context.Context, evt *event.RemoveServiceEvent) {
	rec, ok := m.records[evt.ServiceID]
	if !ok {
		return
	}
	rec.State = service.StateUninstalling
	m.removeServiceRegistrations(rec.ID)
	for iface := range rec.ProvidedInterfaces {
		delete(m.interfaceIndex[iface], rec.ID)
	}
	rec.State = service.StateUninstalled
	delete(m.records, rec.ID)
}

// handleContinuable resumes whatever registered promise suspended,
// invoking its stored resume callback on the loop thread (spec.md §4.2
// step 2, §4.6). A promise with no registration left (the owning service
// stopped first) is silently dropped: that is an orphaned continuation,
// not an error.
func (m *Manager) handleContinuable(ctx context.Context, evt *event.ContinuableEvent) {
	reg, ok := m.continuations[evt.PromiseID]
	if !ok {
		return
	}
	delete(m.continuations, evt.PromiseID)
	delete(m.continuationOwner, evt.PromiseID)
	reg.resume(ctx)
}

// RegisterContinuation records that resume should run on the loop thread
// once a ContinuableEvent for promise is dispatched, owned by svc so a
// later stop can orphan it via cancel (spec.md §4.6, §9 open question 1).
func (m *Manager) RegisterContinuation(svc ids.ServiceID, promise ids.PromiseID, resume func(ctx context.Context), cancel context.CancelFunc) {
	m.continuations[promise] = &continuationReg{resume: resume, cancel: cancel}
	m.continuationOwner[promise] = svc
}

// NewPromiseID allocates the next promise id for a suspending coroutine.
func (m *Manager) NewPromiseID() ids.PromiseID { return m.promiseIDs.Next() }

// JoinChannel attaches m to a CommunicationChannel so other DMs' broadcasts
// reach it (spec.md §4.7).
func (m *Manager) JoinChannel(ch *Channel) {
	m.channel = ch
	ch.Join(m)
}

// Broadcast sends e to every sibling DM on m's channel except m itself.
func (m *Manager) Broadcast(e event.Event) {
	if m.channel != nil {
		m.channel.Broadcast(m, e)
	}
}

// deliver is the CommunicationChannel's entry point into this DM from a
// peer's broadcast: it pushes directly onto the local queue.
func (m *Manager) deliver(e event.Event) {
	m.queue.Push(e)
}

// Services returns a stable-ordered snapshot of every installed service's
// id and name, used by introspection tooling (SPEC_FULL.md §5).
func (m *Manager) Services() []ServiceSummary {
	out := make([]ServiceSummary, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, ServiceSummary{ID: r.ID, Name: r.Name, State: r.State.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServiceSummary is a read-only snapshot of one service's identity and
// state, safe to hand outside the loop thread.
type ServiceSummary struct {
	ID    ids.ServiceID
	Name  string
	State string
}

func (s ServiceSummary) String() string {
	return fmt.Sprintf("%d:%s(%s)", s.ID, s.Name, s.State)
}

// DependencyEdge is one service's declared edge onto an interface, with
// whatever satisfaction count the DM currently has recorded for it.
type DependencyEdge struct {
	Interface      ids.InterfaceHash
	Required       bool
	AllowMultiple  bool
	SatisfiedCount int
}

// Snapshot is a point-in-time view of the whole dependency graph plus
// backlog depth, the data an introspection tool or test assertion reads
// (SPEC_FULL.md §5 "Introspection").
type Snapshot struct {
	Services   []ServiceSummary
	Edges      map[ids.ServiceID][]DependencyEdge
	QueueDepth int
}

// Introspect returns a Snapshot of every installed service, its declared
// dependency edges, and the current queue backlog. Like Services, it is
// safe to call from outside the loop goroutine only once the caller knows
// no concurrent Dispatch is mutating records — callers typically invoke it
// from a RunFunctionEvent handler or after the loop has quit.
func (m *Manager) Introspect() Snapshot {
	snap := Snapshot{
		Services:   m.Services(),
		Edges:      make(map[ids.ServiceID][]DependencyEdge, len(m.records)),
		QueueDepth: m.queue.Size(),
	}
	for id, r := range m.records {
		edges := r.Declared.All()
		out := make([]DependencyEdge, 0, len(edges))
		for _, d := range edges {
			out = append(out, DependencyEdge{
				Interface:      d.Interface,
				Required:       d.Required(),
				AllowMultiple:  d.Flags&service.AllowMultiple != 0,
				SatisfiedCount: d.SatisfiedCount,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
		snap.Edges[id] = out
	}
	return snap
}
