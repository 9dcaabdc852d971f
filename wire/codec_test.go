package wire

import (
	"errors"
	"testing"
	"time"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type productCreated struct {
	ProductID string `json:"ProductId" msgpack:"ProductId"`
	Name      string `json:"Name" msgpack:"Name"`
	Price     int    `json:"Price" msgpack:"Price"`
}

func sampleEnvelope() *mmodel.MessageEnvelope {
	env := &mmodel.MessageEnvelope{
		MessageID: "0197a7e6-1111-7222-8333-444455556666",
		Payload:   &productCreated{ProductID: "P1", Name: "T", Price: 10},
	}

	env.AppendHop(mmodel.MessageHop{
		ServiceInstance: mmodel.ServiceInstanceInfo{InstanceID: "i-1", ServiceName: "inventory"},
		Type:            mmodel.HopCurrent,
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CorrelationID:   "c-1",
		CausationID:     "k-1",
		Metadata:        map[string]any{mmodel.MetadataAggregateID: "P1"},
	})

	return env
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec{}

	raw, err := codec.Encode(sampleEnvelope())
	require.NoError(t, err)

	env, rawPayload, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)

	assert.Equal(t, "0197a7e6-1111-7222-8333-444455556666", env.MessageID)
	assert.Equal(t, "P1", env.StreamID())
	assert.Equal(t, "c-1", env.CorrelationID())

	var payload productCreated
	require.NoError(t, codec.DecodePayload(rawPayload, &payload))
	assert.Equal(t, productCreated{ProductID: "P1", Name: "T", Price: 10}, payload)
}

func TestJSONCodecRejectsMalformedFrame(t *testing.T) {
	codec := JSONCodec{}

	_, _, err := codec.DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	codec := MsgpackCodec{}

	raw, err := codec.Encode(sampleEnvelope())
	require.NoError(t, err)

	env, rawPayload, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)

	assert.Equal(t, "P1", env.StreamID())

	var payload productCreated
	require.NoError(t, codec.DecodePayload(rawPayload, &payload))
	assert.Equal(t, "T", payload.Name)
}

func TestRegistryUnknownTypeID(t *testing.T) {
	registry := NewTypeRegistry()

	_, err := registry.LookupID("Inventory.Events.Unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cn.ErrUnknownWireType))
}

func TestRegistryLookupByGoType(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register(Registration{
		TypeID:      "Inventory.Events.ProductCreated",
		MessageType: "ProductCreated",
		HandlerName: "product-created",
		IsEvent:     true,
		Tags:        []string{cn.TagAudit},
		New:         func() any { return &productCreated{} },
	})

	reg, err := registry.LookupGoType(&productCreated{})
	require.NoError(t, err)
	assert.Equal(t, "ProductCreated", reg.MessageType)
	assert.True(t, reg.IsEvent)
	assert.True(t, reg.HasTag(cn.TagAudit))

	// value and pointer resolve to the same registration.
	reg2, err := registry.LookupGoType(productCreated{})
	require.NoError(t, err)
	assert.Equal(t, reg.TypeID, reg2.TypeID)
}
