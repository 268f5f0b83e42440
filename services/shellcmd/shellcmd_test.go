package shellcmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_Run_CapturesStdout(t *testing.T) {
	p := New("echo", "echo", "hello")
	out, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestProcess_Run_AppendsCallerArgs(t *testing.T) {
	p := New("echo", "echo", "fixed")
	out, err := p.Run(context.Background(), []string{"extra"})
	require.NoError(t, err)
	assert.Contains(t, out, "fixed extra")
}

func TestProcess_Run_NonZeroExitIsError(t *testing.T) {
	p := New("fail", "false")
	_, err := p.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestProcess_Run_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p := New("sleep", "sleep", "5")
	_, err := p.Run(ctx, nil)
	assert.Error(t, err)
}

func TestRegistry_RunsRegisteredCommandByName(t *testing.T) {
	r := NewRegistry()
	r.Register(New("echo", "echo", "registry"))

	out, err := r.Run(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "registry")

	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistry_Run_UnknownNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), "does-not-exist", nil)
	assert.Error(t, err)
}

func TestRegistry_Unregister_RemovesCommand(t *testing.T) {
	r := NewRegistry()
	r.Register(New("echo", "echo"))
	r.Unregister("echo")

	_, err := r.Run(context.Background(), "echo", nil)
	assert.Error(t, err)
	assert.Empty(t, r.Names())
}
