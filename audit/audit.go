// Package audit records distributed messages that carry at least one tag and
// emits one EventAudited system event per record. Untagged messages are not
// recorded; the hook runs once per tag, so a message with several tags gets
// one record per tag. The audit event type is itself
// excluded from auditing, which breaks the otherwise-infinite loop of
// auditing audit events.
package audit

import (
	"context"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/dispatch"
	"github.com/CorventLabs/corvent/wire"
)

// EventAuditedType is the logical type of the system event the auditor
// emits.
const EventAuditedType = "Corvent.System.Events.EventAudited"

// DefaultCollection is the mongodb collection audit records land in.
const DefaultCollection = "audit"

// Record is one audit entry.
type Record struct {
	AuditID       string    `json:"auditId"`
	MessageID     string    `json:"messageId"`
	MessageType   string    `json:"messageType"`
	StreamID      string    `json:"streamId"`
	CorrelationID string    `json:"correlationId"`
	CausationID   string    `json:"causationId"`
	OccurredAt    time.Time `json:"occurredAt"`
	Envelope      any       `json:"envelope"`
}

// EventAudited is the payload of the emitted system event.
type EventAudited struct {
	AuditID     string `json:"AuditId"`
	MessageID   string `json:"MessageId"`
	MessageType string `json:"MessageType"`
}

// Repository provides an interface for operations related on mongodb audit
// records.
//
//go:generate mockgen --destination=audit.mock.go --package=audit . Repository
type Repository interface {
	Create(ctx context.Context, collection string, record *Record) error
	FindByMessageID(ctx context.Context, collection, messageID string) (*Record, error)
}

// Auditor wires the audit hook: it persists a record for each tag hook call
// on a distributed message and publishes the EventAudited system event.
type Auditor struct {
	repo       Repository
	dispatcher *dispatch.Dispatcher
	collection string
}

// NewAuditor registers the EventAudited type (tagged excluded-from-audit)
// and returns the auditor.
func NewAuditor(repo Repository, dispatcher *dispatch.Dispatcher, collection string) *Auditor {
	if collection == "" {
		collection = DefaultCollection
	}

	dispatcher.Registry().Register(wire.Registration{
		TypeID:      EventAuditedType,
		MessageType: EventAuditedType,
		HandlerName: "event-audited",
		IsEvent:     true,
		Tags:        []string{cn.TagExcludeFromAudit},
		New:         func() any { return &EventAudited{} },
	})

	return &Auditor{
		repo:       repo,
		dispatcher: dispatcher,
		collection: collection,
	}
}

// Hook is registered as a universal tag hook: it fires for every tagged
// message, skips excluded types, stores a record and emits EventAudited.
func (a *Auditor) Hook() func(ctx context.Context, tag string, envelope *mmodel.MessageEnvelope) error {
	return func(ctx context.Context, tag string, envelope *mmodel.MessageEnvelope) error {
		logger := common.NewLoggerFromContext(ctx)

		reg, err := a.dispatcher.Registry().LookupGoType(envelope.Payload)
		if err == nil && reg.HasTag(cn.TagExcludeFromAudit) {
			return nil
		}

		messageType := ""
		if err == nil {
			messageType = reg.MessageType
		}

		record := &Record{
			AuditID:       common.GenerateUUIDv7().String(),
			MessageID:     envelope.MessageID,
			MessageType:   messageType,
			StreamID:      envelope.StreamID(),
			CorrelationID: envelope.CorrelationID(),
			CausationID:   envelope.CausationID(),
			OccurredAt:    time.Now().UTC(),
			Envelope:      envelope,
		}

		if err := a.repo.Create(ctx, a.collection, record); err != nil {
			logger.Errorf("failed to store audit record for %s: %v", envelope.MessageID, err)

			return err
		}

		return a.dispatcher.Publish(ctx, dispatch.Message{
			Payload: &EventAudited{
				AuditID:     record.AuditID,
				MessageID:   record.MessageID,
				MessageType: record.MessageType,
			},
			StreamID: record.AuditID,
		})
	}
}
