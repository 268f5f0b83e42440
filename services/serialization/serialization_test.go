package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/event"
)

type widget struct {
	Name  string
	Count int
}

func TestCodec_MarshalUnmarshalRoundTrip(t *testing.T) {
	c := NewCodec()
	in := widget{Name: "bolt", Count: 3}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out widget
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCodec_MarshalUnmarshalEnvelope_RoundTripsEvent(t *testing.T) {
	c := NewCodec()
	original := event.NewQuitEvent(7, event.PriorityInternal)

	data, err := c.MarshalEnvelope(original)
	require.NoError(t, err)

	decode := func(typeName string) (event.Event, bool) {
		if typeName == original.Meta().Name {
			return &event.QuitEvent{}, true
		}
		return nil, false
	}

	got, err := c.UnmarshalEnvelope(data, decode)
	require.NoError(t, err)
	assert.Equal(t, original.Meta().Name, got.Meta().Name)
	assert.Equal(t, original.Meta().Origin, got.Meta().Origin)
}

func TestCodec_UnmarshalEnvelope_UnknownType(t *testing.T) {
	c := NewCodec()
	data, err := c.MarshalEnvelope(event.NewQuitEvent(1, event.PriorityInternal))
	require.NoError(t, err)

	_, err = c.UnmarshalEnvelope(data, func(string) (event.Event, bool) { return nil, false })
	assert.Error(t, err)
}
