package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestService_PutGet(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", "v1"))
	v, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestService_Get_MissingKey(t *testing.T) {
	s := newTestService(t)
	_, found, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestService_Delete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k1", "v1"))
	require.NoError(t, s.Delete(ctx, "k1"))

	_, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestService_Watch_ReceivesPutAndDelete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, cancel := s.Watch("k1")
	defer cancel()

	require.NoError(t, s.Put(ctx, "k1", "v1"))
	select {
	case e := <-ch:
		assert.Equal(t, "v1", e.Value)
		assert.False(t, e.Deleted)
	case <-time.After(time.Second):
		t.Fatal("watch did not observe put")
	}

	require.NoError(t, s.Delete(ctx, "k1"))
	select {
	case e := <-ch:
		assert.True(t, e.Deleted)
	case <-time.After(time.Second):
		t.Fatal("watch did not observe delete")
	}
}
