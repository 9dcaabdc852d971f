// Package wire converts envelopes between their in-memory and transport
// forms. JSON is the canonical wire format; a msgpack codec is available
// where frame size matters. The type registry replaces runtime reflection
// with a startup-time map from wire type id to decoder and handler binding.
package wire

import (
	"encoding/json"

	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serialises envelopes for the transport.
type Codec interface {
	// Encode renders the envelope in wire form.
	Encode(envelope *mmodel.MessageEnvelope) ([]byte, error)
	// DecodeEnvelope parses the wire form, returning the envelope with its
	// payload still raw, plus the raw payload bytes for typed decoding.
	DecodeEnvelope(data []byte) (*mmodel.MessageEnvelope, []byte, error)
	// DecodePayload parses raw payload bytes into a typed target.
	DecodePayload(raw []byte, into any) error
	// ContentType names the codec on transport headers.
	ContentType() string
}

type jsonEnvelope struct {
	MessageID string              `json:"MessageId"`
	Payload   json.RawMessage     `json:"Payload"`
	Hops      []mmodel.MessageHop `json:"Hops"`
}

// JSONCodec is the canonical wire codec.
type JSONCodec struct{}

// Encode renders the envelope as the canonical JSON wire format.
func (JSONCodec) Encode(envelope *mmodel.MessageEnvelope) ([]byte, error) {
	return json.Marshal(envelope)
}

// DecodeEnvelope parses a JSON wire frame.
func (JSONCodec) DecodeEnvelope(data []byte) (*mmodel.MessageEnvelope, []byte, error) {
	var env jsonEnvelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}

	return &mmodel.MessageEnvelope{
		MessageID: env.MessageID,
		Payload:   env.Payload,
		Hops:      env.Hops,
	}, env.Payload, nil
}

// DecodePayload parses raw JSON payload bytes into a typed target.
func (JSONCodec) DecodePayload(raw []byte, into any) error {
	return json.Unmarshal(raw, into)
}

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return "application/json" }

type msgpackEnvelope struct {
	MessageID string              `msgpack:"MessageId"`
	Payload   msgpack.RawMessage  `msgpack:"Payload"`
	Hops      []mmodel.MessageHop `msgpack:"Hops"`
}

// MsgpackCodec is a compact alternative codec for broker hops where frame
// size matters. The canonical cross-service format stays JSON.
type MsgpackCodec struct{}

// Encode renders the envelope as msgpack.
func (MsgpackCodec) Encode(envelope *mmodel.MessageEnvelope) ([]byte, error) {
	payload, err := msgpack.Marshal(envelope.Payload)
	if err != nil {
		return nil, err
	}

	return msgpack.Marshal(msgpackEnvelope{
		MessageID: envelope.MessageID,
		Payload:   payload,
		Hops:      envelope.Hops,
	})
}

// DecodeEnvelope parses a msgpack wire frame.
func (MsgpackCodec) DecodeEnvelope(data []byte) (*mmodel.MessageEnvelope, []byte, error) {
	var env msgpackEnvelope

	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}

	return &mmodel.MessageEnvelope{
		MessageID: env.MessageID,
		Payload:   env.Payload,
		Hops:      env.Hops,
	}, env.Payload, nil
}

// DecodePayload parses raw msgpack payload bytes into a typed target.
func (MsgpackCodec) DecodePayload(raw []byte, into any) error {
	return msgpack.Unmarshal(raw, into)
}

// ContentType implements Codec.
func (MsgpackCodec) ContentType() string { return "application/msgpack" }
