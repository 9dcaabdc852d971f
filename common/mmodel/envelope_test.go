package mmodel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeStreamIDFallsBackToMessageID(t *testing.T) {
	e := &MessageEnvelope{MessageID: "m-1"}

	assert.Equal(t, "m-1", e.StreamID())
}

func TestEnvelopeStreamIDFromFirstHop(t *testing.T) {
	e := &MessageEnvelope{MessageID: "m-1"}
	e.AppendHop(MessageHop{
		Type:     HopCurrent,
		Metadata: map[string]any{MetadataAggregateID: "agg-7"},
	})
	e.AppendHop(MessageHop{
		Type:     HopCurrent,
		Metadata: map[string]any{MetadataAggregateID: "agg-8"},
	})

	assert.Equal(t, "agg-7", e.StreamID())
}

func TestEnvelopeCorrelationFromLastHop(t *testing.T) {
	e := &MessageEnvelope{MessageID: "m-1"}
	e.AppendHop(MessageHop{CorrelationID: "c-1", CausationID: "k-1"})
	e.AppendHop(MessageHop{CorrelationID: "c-1", CausationID: "k-2"})

	assert.Equal(t, "c-1", e.CorrelationID())
	assert.Equal(t, "k-2", e.CausationID())
}

func TestEnvelopeWireFieldNames(t *testing.T) {
	e := &MessageEnvelope{
		MessageID: "m-1",
		Payload:   map[string]any{"Name": "T"},
		Hops: []MessageHop{{
			ServiceInstance: ServiceInstanceInfo{InstanceID: "i-1", ServiceName: "inventory"},
			Type:            HopCurrent,
			Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			CorrelationID:   "c-1",
			CausationID:     "k-1",
			SecurityContext: SecurityContext{"TenantId": "t-1"},
			Metadata:        map[string]any{MetadataAggregateID: "agg-1"},
		}},
	}

	raw, err := json.Marshal(e)
	assert.NoError(t, err)

	var doc map[string]any
	assert.NoError(t, json.Unmarshal(raw, &doc))

	assert.Contains(t, doc, "MessageId")
	assert.Contains(t, doc, "Payload")
	assert.Contains(t, doc, "Hops")

	hop := doc["Hops"].([]any)[0].(map[string]any)
	assert.Contains(t, hop, "ServiceInstance")
	assert.Contains(t, hop, "CorrelationId")
	assert.Contains(t, hop, "CausationId")
	assert.Contains(t, hop, "SecurityContext")
	assert.Equal(t, "Current", hop["Type"])

	si := hop["ServiceInstance"].(map[string]any)
	assert.Equal(t, "i-1", si["InstanceId"])
}
