package depmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/coroutine"
	"synapse/internal/event"
	"synapse/internal/queue"
	"synapse/internal/service"
	"synapse/pkg/ids"
)

// drain pops and dispatches every event currently queued (plus whatever
// arrives within the grace period), for deterministic single-threaded
// tests of an otherwise asynchronous dispatch loop.
func drain(t *testing.T, m *Manager, q *queue.Queue, grace time.Duration) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		e, ok := q.Pop(ctx, 5*time.Millisecond)
		if !ok {
			continue
		}
		m.Dispatch(ctx, e)
	}
}

type fakeAdvancedService struct {
	startCalls int
	stopCalls  int
}

func (s *fakeAdvancedService) Start(ctx context.Context) *coroutine.Task[struct{}] {
	s.startCalls++
	task := coroutine.NewTask[struct{}]()
	task.Resolve(coroutine.Result[struct{}]{})
	return task
}

func (s *fakeAdvancedService) Stop(ctx context.Context) *coroutine.Task[struct{}] {
	s.stopCalls++
	task := coroutine.NewTask[struct{}]()
	task.Resolve(coroutine.Result[struct{}]{})
	return task
}

func TestManager_CreateServiceManager_NoDepsReachesActive(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	impl := &fakeAdvancedService{}
	id := m.CreateServiceManager(impl, "svc.NoDeps", nil, nil, 0)

	drain(t, m, q, 150*time.Millisecond)

	rec, ok := m.GetServiceByID(id)
	require.True(t, ok)
	assert.Equal(t, service.StateActive, rec.State)
	assert.Equal(t, 1, impl.startCalls)
}

func TestManager_DependencySatisfaction_UnblocksStart(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	iface := ids.HashInterfaceName("test.ILog")

	provider := &fakeAdvancedService{}
	providerID := m.CreateServiceManager(provider, "svc.Provider", []ids.InterfaceHash{iface}, nil, 0)

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)
	rec, _ := m.GetServiceByID(consumerID)
	rec.Declared.Add(&service.Dependency{Interface: iface, Flags: service.Required})

	drain(t, m, q, 200*time.Millisecond)

	providerRec, _ := m.GetServiceByID(providerID)
	assert.Equal(t, service.StateActive, providerRec.State)
	assert.Equal(t, service.StateActive, rec.State)
	assert.Equal(t, 1, consumer.startCalls)
}

func TestManager_HandlerDispatch_InRegistrationOrder(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	type pingEvent struct{ event.Base }
	typeHash := event.EventTypeOf[pingEvent]()

	var order []int
	m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		order = append(order, 1)
		return coroutine.Continue
	}))
	m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		order = append(order, 2)
		return coroutine.Continue
	}))

	evt := &pingEvent{Base: event.NewUserBase[*pingEvent](&pingEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), evt)

	assert.Equal(t, []int{1, 2}, order)
}

func TestManager_HandlerDispatch_StopPropagation(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	type pingEvent struct{ event.Base }
	typeHash := event.EventTypeOf[pingEvent]()

	secondCalled := false
	m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		return coroutine.StopPropagation
	}))
	m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		secondCalled = true
		return coroutine.Continue
	}))

	evt := &pingEvent{Base: event.NewUserBase[*pingEvent](&pingEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), evt)

	assert.False(t, secondCalled)
}

func TestManager_Interceptor_SuppressesHandlers(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	type pingEvent struct{ event.Base }
	typeHash := event.EventTypeOf[pingEvent]()

	handlerCalled := false
	m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		handlerCalled = true
		return coroutine.Continue
	}))

	var postProcessed *bool
	m.RegisterEventInterceptor(1, typeHash, InterceptorFunc{
		Pre: func(ctx context.Context, e event.Event) bool { return false },
		Post: func(ctx context.Context, e event.Event, processed bool) {
			postProcessed = &processed
		},
	})

	evt := &pingEvent{Base: event.NewUserBase[*pingEvent](&pingEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), evt)

	assert.False(t, handlerCalled)
	require.NotNil(t, postProcessed)
	assert.False(t, *postProcessed)
}

func TestManager_Tracker_OnRequestInvokedForUnsatisfiedInterface(t *testing.T) {
	q := queue.New()
	m := New(q, nil)
	iface := ids.HashInterfaceName("test.IOnDemand")

	var wg sync.WaitGroup
	wg.Add(1)
	var requester ids.ServiceID
	m.RegisterDependencyTracker(1, iface, TrackerFuncs{
		OnRequest: func(ctx context.Context, req ids.ServiceID, props service.Properties) error {
			requester = req
			wg.Done()
			return nil
		},
	})

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)
	rec, _ := m.GetServiceByID(consumerID)
	rec.Declared.Add(&service.Dependency{Interface: iface, Flags: service.Required})

	drain(t, m, q, 150*time.Millisecond)
	wg.Wait()

	assert.Equal(t, consumerID, requester)
}

func TestManager_RemoveHandler_StopsDispatch(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	type pingEvent struct{ event.Base }
	typeHash := event.EventTypeOf[pingEvent]()

	called := false
	regID := m.RegisterEventHandler(1, typeHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		called = true
		return coroutine.Continue
	}))
	m.RemoveHandler(regID)

	evt := &pingEvent{Base: event.NewUserBase[*pingEvent](&pingEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), evt)

	assert.False(t, called)
}

func TestChannel_BroadcastExcludesSender(t *testing.T) {
	qa, qb := queue.New(), queue.New()
	a, b := New(qa, nil), New(qb, nil)
	ch := NewChannel()
	a.JoinChannel(ch)
	b.JoinChannel(ch)

	evt := event.NewQuitEvent(1, event.PriorityInternal)
	a.Broadcast(evt)

	_, aok := qa.Pop(context.Background(), 20*time.Millisecond)
	assert.False(t, aok)

	got, bok := qb.Pop(context.Background(), 200*time.Millisecond)
	require.True(t, bok)
	assert.Equal(t, evt, got)
}

func TestManager_Introspect_ReportsEdgesAndQueueDepth(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	iface := ids.HashInterfaceName("test.ILog")
	provider := &fakeAdvancedService{}
	m.CreateServiceManager(provider, "svc.Provider", []ids.InterfaceHash{iface}, nil, 0)

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)
	rec, _ := m.GetServiceByID(consumerID)
	rec.Declared.Add(&service.Dependency{Interface: iface, Flags: service.Required})

	drain(t, m, q, 200*time.Millisecond)

	snap := m.Introspect()
	assert.Len(t, snap.Services, 2)

	edges := snap.Edges[consumerID]
	require.Len(t, edges, 1)
	assert.Equal(t, iface, edges[0].Interface)
	assert.True(t, edges[0].Required)
	assert.Equal(t, 1, edges[0].SatisfiedCount)

	assert.Equal(t, 0, snap.QueueDepth)
}

// TestManager_HandlerDispatch_SuspendsOnAsyncManualResetEvent drives a
// handler that awaits an AsyncManualResetEvent through real dispatch: the
// first Dispatch call must return without the event ever being Set, a
// second, unrelated event dispatched while the first is still suspended
// must still run promptly, and Set must eventually resume the suspended
// chain via its ContinuableEvent rather than deadlocking the loop thread.
func TestManager_HandlerDispatch_SuspendsOnAsyncManualResetEvent(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	type workEvent struct{ event.Base }
	workHash := event.EventTypeOf[workEvent]()

	mre := coroutine.NewAsyncManualResetEvent(false)
	var n int
	m.RegisterEventHandler(1, workHash, nil, func(ctx context.Context, e event.Event) *coroutine.AsyncGenerator[coroutine.Behaviour] {
		return coroutine.NewAsyncGenerator(func(yield func(coroutine.Behaviour)) error {
			if err := mre.Wait(ctx); err != nil {
				return err
			}
			n++
			yield(coroutine.Continue)
			return nil
		})
	})

	workEvt := &workEvent{Base: event.NewUserBase[*workEvent](&workEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), workEvt)
	assert.Equal(t, 0, n, "handler suspended on an unset event must not have run yet")

	type otherEvent struct{ event.Base }
	otherHash := event.EventTypeOf[otherEvent]()
	otherCalled := false
	m.RegisterEventHandler(1, otherHash, nil, NewSyncGenerator(func(ctx context.Context, e event.Event) coroutine.Behaviour {
		otherCalled = true
		return coroutine.Continue
	}))
	otherEvt := &otherEvent{Base: event.NewUserBase[*otherEvent](&otherEvent{}, 1, 1000)}
	m.Dispatch(context.Background(), otherEvt)
	assert.True(t, otherCalled, "an unrelated event must dispatch while the first handler is still suspended")

	mre.Set()
	drain(t, m, q, 150*time.Millisecond)
	assert.Equal(t, 1, n, "Set must resume the suspended handler via its ContinuableEvent")
}

// TestManager_StopService_ProviderDependentsDrainAllowsStop models a
// provider that starts stopping while a consumer still depends on it: the
// consumer's edge must be torn down and removed from the provider's
// Dependents set before the provider's own StopServiceEvent re-check, so
// the provider actually finishes stopping instead of re-pushing its stop
// event forever against a dependent that can never clear.
func TestManager_StopService_ProviderDependentsDrainAllowsStop(t *testing.T) {
	q := queue.New()
	m := New(q, nil)
	iface := ids.HashInterfaceName("test.ILog")

	provider := &fakeAdvancedService{}
	providerID := m.CreateServiceManager(provider, "svc.Provider", []ids.InterfaceHash{iface}, nil, 0)

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)
	rec, _ := m.GetServiceByID(consumerID)
	rec.Declared.Add(&service.Dependency{Interface: iface, Flags: service.Required})

	drain(t, m, q, 200*time.Millisecond)

	providerRec, _ := m.GetServiceByID(providerID)
	require.Len(t, providerRec.Dependents, 1)

	m.requestStop(context.Background(), providerID)
	drain(t, m, q, 300*time.Millisecond)

	assert.Empty(t, providerRec.Dependents, "provider's dependent set must drain once its consumer's edge is torn down")
	assert.Equal(t, service.StateInstalled, providerRec.State, "provider must finish stopping rather than deadlock on a stale dependent")
	assert.Equal(t, 1, provider.stopCalls)
}

// TestManager_StopService_FiresTrackerOnUndo verifies that a stopping
// service's declared dependencies each push a DependencyUndoRequestEvent,
// invoking any tracker registered for that interface's OnUndo callback.
func TestManager_StopService_FiresTrackerOnUndo(t *testing.T) {
	q := queue.New()
	m := New(q, nil)
	iface := ids.HashInterfaceName("test.IOnDemand")

	var undoRequester ids.ServiceID
	undoCalled := make(chan struct{}, 1)
	m.RegisterDependencyTracker(0, iface, TrackerFuncs{
		OnUndo: func(ctx context.Context, requester ids.ServiceID) error {
			undoRequester = requester
			undoCalled <- struct{}{}
			return nil
		},
	})

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)
	rec, _ := m.GetServiceByID(consumerID)
	rec.Declared.Add(&service.Dependency{Interface: iface})

	m.requestStop(context.Background(), consumerID)
	drain(t, m, q, 150*time.Millisecond)

	select {
	case <-undoCalled:
	default:
		t.Fatal("tracker OnUndo was not invoked for the stopping requester")
	}
	assert.Equal(t, consumerID, undoRequester)
}

// TestManager_DeclareDependency_RejectsRequiredCycle verifies that closing a
// required-dependency cycle is rejected outright rather than silently
// deadlocking both services at injecting.
func TestManager_DeclareDependency_RejectsRequiredCycle(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	ifaceA := ids.HashInterfaceName("test.IA")
	ifaceB := ids.HashInterfaceName("test.IB")

	implA := &fakeAdvancedService{}
	aID := m.CreateServiceManager(implA, "svc.A", []ids.InterfaceHash{ifaceA}, nil, 0)
	implB := &fakeAdvancedService{}
	bID := m.CreateServiceManager(implB, "svc.B", []ids.InterfaceHash{ifaceB}, nil, 0)

	require.NoError(t, m.DeclareDependency(bID, &service.Dependency{Interface: ifaceA, Flags: service.Required}))

	err := m.DeclareDependency(aID, &service.Dependency{Interface: ifaceB, Flags: service.Required})
	require.Error(t, err)
	var cycleErr *service.DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, aID, cycleErr.Requester)
	assert.Equal(t, bID, cycleErr.Provider)
}

// TestManager_DeclareDependency_AllowsNonCyclicRequired is the control case:
// a required edge that does not close a cycle must still register normally.
func TestManager_DeclareDependency_AllowsNonCyclicRequired(t *testing.T) {
	q := queue.New()
	m := New(q, nil)

	iface := ids.HashInterfaceName("test.ILog")
	provider := &fakeAdvancedService{}
	m.CreateServiceManager(provider, "svc.Provider", []ids.InterfaceHash{iface}, nil, 0)

	consumer := &fakeAdvancedService{}
	consumerID := m.CreateServiceManager(consumer, "svc.Consumer", nil, nil, 0)

	require.NoError(t, m.DeclareDependency(consumerID, &service.Dependency{Interface: iface, Flags: service.Required}))

	drain(t, m, q, 200*time.Millisecond)
	rec, _ := m.GetServiceByID(consumerID)
	assert.Equal(t, service.StateActive, rec.State)
}
