package mmodel

import (
	"time"
)

// HopType tells whether a hop was recorded by the service currently handling
// the message or inherited from the calling service.
type HopType string

const (
	HopCurrent HopType = "Current"
	HopParent  HopType = "Parent"
)

// MetadataAggregateID is the hop metadata key that pins a message to a
// stream. The first hop's value defines the stream id for ordering.
const MetadataAggregateID = "AggregateId"

// ServiceInstanceInfo identifies the service instance recorded on a hop.
type ServiceInstanceInfo struct {
	InstanceID  string `json:"InstanceId"`
	ServiceName string `json:"ServiceName"`
	HostName    string `json:"HostName"`
	ProcessID   int    `json:"ProcessId"`
}

// SecurityContext carries the caller identity tags (TenantId, UserId, ...).
// It is tagged on messages here and enforced elsewhere.
type SecurityContext map[string]string

// MessageHop is one entry in the envelope's processing chain recording which
// service touched the message.
type MessageHop struct {
	ServiceInstance ServiceInstanceInfo `json:"ServiceInstance"`
	Type            HopType             `json:"Type"`
	Timestamp       time.Time           `json:"Timestamp"`
	CorrelationID   string              `json:"CorrelationId"`
	CausationID     string              `json:"CausationId"`
	SecurityContext SecurityContext     `json:"SecurityContext,omitempty"`
	Metadata        map[string]any      `json:"Metadata,omitempty"`
}

// MessageEnvelope is the transport wrapper around a message carrying
// identity, correlation and hop history.
type MessageEnvelope struct {
	MessageID string       `json:"MessageId"`
	Payload   any          `json:"Payload"`
	Hops      []MessageHop `json:"Hops"`
}

// AppendHop records a new hop at a service boundary.
func (e *MessageEnvelope) AppendHop(hop MessageHop) {
	e.Hops = append(e.Hops, hop)
}

// CurrentHop returns the most recent hop, or nil when the envelope carries none.
func (e *MessageEnvelope) CurrentHop() *MessageHop {
	if len(e.Hops) == 0 {
		return nil
	}

	return &e.Hops[len(e.Hops)-1]
}

// CorrelationID returns the correlation id of the most recent hop.
func (e *MessageEnvelope) CorrelationID() string {
	if hop := e.CurrentHop(); hop != nil {
		return hop.CorrelationID
	}

	return ""
}

// CausationID returns the causation id of the most recent hop.
func (e *MessageEnvelope) CausationID() string {
	if hop := e.CurrentHop(); hop != nil {
		return hop.CausationID
	}

	return ""
}

// StreamID resolves the ordering key: the first hop's AggregateId metadata if
// present, falling back to the message id.
func (e *MessageEnvelope) StreamID() string {
	if len(e.Hops) > 0 {
		if v, ok := e.Hops[0].Metadata[MetadataAggregateID]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}

	return e.MessageID
}
