package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/coroutine"
	"synapse/internal/depmanager"
	"synapse/internal/event"
	"synapse/pkg/ids"
)

type pingEvent struct{ event.Base }

func newPingEvent(origin ids.ServiceID) *pingEvent {
	e := &pingEvent{}
	e.Base = event.NewUserBase[*pingEvent](e, origin, 1000)
	return e
}

func TestRuntime_PushEventAndStart_StopsOnQuit(t *testing.T) {
	rt := New(nil)

	var handled int
	RegisterEventHandler(rt, 1, nil, func(ctx context.Context, e *pingEvent) coroutine.Behaviour {
		handled++
		return coroutine.Continue
	})

	rt.PushEvent(newPingEvent(1))
	rt.Quit(1)

	err := rt.Start(context.Background(), RunConfig{QuitTimeout: time.Second, PollInterval: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
}

func TestRuntime_PushEventAsync_ResolvesAfterDispatch(t *testing.T) {
	rt := New(nil)

	handled := false
	RegisterEventHandler(rt, 1, nil, func(ctx context.Context, e *pingEvent) coroutine.Behaviour {
		handled = true
		return coroutine.Continue
	})

	task := rt.PushEventAsync(newPingEvent(1))

	go func() {
		time.Sleep(10 * time.Millisecond)
		rt.Quit(1)
	}()
	err := rt.Start(context.Background(), RunConfig{QuitTimeout: time.Second, PollInterval: 2 * time.Millisecond})
	require.NoError(t, err)

	_, err = task.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestRuntime_UnregisterHandler(t *testing.T) {
	rt := New(nil)
	called := false
	id := RegisterEventHandler(rt, 1, nil, func(ctx context.Context, e *pingEvent) coroutine.Behaviour {
		called = true
		return coroutine.Continue
	})
	rt.UnregisterHandler(id)

	rt.Manager.Dispatch(context.Background(), newPingEvent(1))
	assert.False(t, called)
}

func TestRuntime_GlobalInterceptor(t *testing.T) {
	rt := New(nil)
	seen := 0
	rt.RegisterGlobalInterceptor(1, depmanager.InterceptorFunc{
		Pre:  func(ctx context.Context, e event.Event) bool { seen++; return true },
		Post: func(ctx context.Context, e event.Event, processed bool) {},
	})

	rt.Manager.Dispatch(context.Background(), newPingEvent(1))
	rt.Manager.Dispatch(context.Background(), event.NewQuitEvent(1, event.PriorityInternal))
	assert.Equal(t, 2, seen)
}

func TestFromContext_NoRuntimeBound(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRuntimeInContext)
}

func TestFromContext_BoundDuringStart(t *testing.T) {
	rt := New(nil)
	var gotRT *Runtime
	var gotErr error

	RegisterEventHandler(rt, 1, nil, func(ctx context.Context, e *pingEvent) coroutine.Behaviour {
		gotRT, gotErr = FromContext(ctx)
		return coroutine.Continue
	})

	rt.PushEvent(newPingEvent(1))
	rt.Quit(1)
	require.NoError(t, rt.Start(context.Background(), RunConfig{QuitTimeout: time.Second, PollInterval: 2 * time.Millisecond}))

	require.NoError(t, gotErr)
	assert.Same(t, rt, gotRT)
}
