// Package serialization is the bundled ISerializationAdmin, grounded on
// the source's ISerializationAdmin.h/SerializationAdmin.h and backed by
// github.com/fxamacker/cbor/v2 (promoted from the teacher's indirect
// dependency into direct use). It gives the runtime a single wire format
// for anything that needs to cross a process boundary: services/pubsub's
// CommunicationChannel bridge, and any user service storing or
// transmitting event payloads.
package serialization

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"synapse/internal/event"
	"synapse/pkg/ids"
)

// ISerializationAdmin is the interface dependents register against for
// generic marshal/unmarshal (spec.md §6 "Serializer contract: serialize(T)
// → Vec<u8>, deserialize(Vec<u8>) → Option<T>").
type ISerializationAdmin interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec is the bundled CBOR-backed ISerializationAdmin implementation.
type Codec struct{}

// NewCodec constructs a Codec.
func NewCodec() *Codec { return &Codec{} }

// Marshal encodes v as CBOR.
func (c *Codec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func (c *Codec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// Envelope is the wire representation of an event crossing a process
// boundary: its type name (for dispatch on the receiving side) plus the
// CBOR-encoded payload of the concrete event value. Meta is carried
// alongside the payload explicitly: Base embeds its envelope fields
// unexported (deliberately, so user code can't mutate them after
// construction), which puts them out of reach of cbor's field-based
// encoding, so MarshalEnvelope/UnmarshalEnvelope restore them by hand
// instead of relying on the struct tag alone.
type Envelope struct {
	TypeName string          `cbor:"type_name"`
	Origin   uint64          `cbor:"origin"`
	Priority uint32          `cbor:"priority"`
	Payload  cbor.RawMessage `cbor:"payload"`
}

// Decoder maps a wire type name to a freshly allocated zero-value event
// the codec can unmarshal the envelope's payload into. Callers register
// one entry per event type they expect to receive over the bridge.
type Decoder func(typeName string) (event.Event, bool)

// MarshalEnvelope wraps e's concrete type name, envelope metadata and
// CBOR-encoded value into an Envelope and encodes that.
func (c *Codec) MarshalEnvelope(e event.Event) ([]byte, error) {
	payload, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("serialization: marshal payload: %w", err)
	}
	meta := e.Meta()
	return cbor.Marshal(Envelope{
		TypeName: meta.Name,
		Origin:   uint64(meta.Origin),
		Priority: uint32(meta.Priority),
		Payload:  payload,
	})
}

// UnmarshalEnvelope decodes an Envelope and uses decode to resolve its
// type name to a concrete event.Event, unmarshals the payload into it,
// then restores the envelope metadata the payload itself couldn't carry.
func (c *Codec) UnmarshalEnvelope(data []byte, decode Decoder) (event.Event, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("serialization: unmarshal envelope: %w", err)
	}
	target, ok := decode(env.TypeName)
	if !ok {
		return nil, fmt.Errorf("serialization: unknown event type %q", env.TypeName)
	}
	if err := cbor.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("serialization: unmarshal payload for %q: %w", env.TypeName, err)
	}
	meta := target.Meta()
	meta.Name = env.TypeName
	meta.Origin = ids.ServiceID(env.Origin)
	meta.Priority = event.Priority(env.Priority)
	return target, nil
}
