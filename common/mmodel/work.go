package mmodel

import (
	cn "github.com/CorventLabs/corvent/common/constant"
)

// OutboxMessage is a new durable send queued through the strategy.
type OutboxMessage struct {
	MessageID    string `json:"messageId"`
	Destination  string `json:"destination"`
	EnvelopeType string `json:"envelopeType"`
	EnvelopeData []byte `json:"envelopeData"`
	StreamID     string `json:"streamId"`
	MessageType  string `json:"messageType"`
	IsEvent      bool   `json:"isEvent"`
}

// InboxMessage is a received message pending handling.
type InboxMessage struct {
	MessageID    string `json:"messageId"`
	EnvelopeType string `json:"envelopeType"`
	EnvelopeData []byte `json:"envelopeData"`
	StreamID     string `json:"streamId"`
	MessageType  string `json:"messageType"`
	HandlerName  string `json:"handlerName"`
	IsEvent      bool   `json:"isEvent"`
}

// WorkCompletion reports a leased row that finished successfully.
type WorkCompletion struct {
	MessageID string        `json:"messageId"`
	Status    cn.WorkStatus `json:"status"`
}

// WorkFailure reports a leased row whose processing raised.
type WorkFailure struct {
	MessageID string        `json:"messageId"`
	Status    cn.WorkStatus `json:"status"`
	Error     string        `json:"error"`
}

// PerspectiveCompletion reports a checkpoint whose events were applied.
type PerspectiveCompletion struct {
	PerspectiveName string `json:"perspectiveName"`
	StreamID        string `json:"streamId"`
	LastEventID     string `json:"lastEventId"`
}

// PerspectiveFailure reports a checkpoint whose Apply raised.
type PerspectiveFailure struct {
	PerspectiveName string `json:"perspectiveName"`
	StreamID        string `json:"streamId"`
	EventID         string `json:"eventId"`
	Error           string `json:"error"`
}

// WorkItem is one claimed row returned by process_work_batch.
type WorkItem struct {
	Source          cn.WorkSource `json:"source"`
	MessageID       string        `json:"messageId"`
	Destination     string        `json:"destination"`
	EnvelopeType    string        `json:"envelopeType"`
	EnvelopeData    []byte        `json:"envelopeData"`
	StreamID        string        `json:"streamId"`
	PartitionNumber int           `json:"partitionNumber"`
	Attempts        int           `json:"attempts"`
	Status          cn.WorkStatus `json:"status"`
	MessageType     string        `json:"messageType"`
	IsEvent         bool          `json:"isEvent"`
	HandlerName     string        `json:"handlerName,omitempty"`
	PerspectiveName string        `json:"perspectiveName,omitempty"`
	LastEventID     string        `json:"lastEventId,omitempty"`
	SequenceOrder   int64         `json:"sequenceOrder"`
	Error           string        `json:"error,omitempty"`
}

// WorkBatch carries the rows to execute next, split by source.
type WorkBatch struct {
	OutboxWork      []WorkItem `json:"outboxWork"`
	InboxWork       []WorkItem `json:"inboxWork"`
	PerspectiveWork []WorkItem `json:"perspectiveWork"`
}

// IsEmpty reports whether the batch returned no work at all.
func (b *WorkBatch) IsEmpty() bool {
	return b == nil || (len(b.OutboxWork) == 0 && len(b.InboxWork) == 0 && len(b.PerspectiveWork) == 0)
}

// BatchFlags tunes a single process_work_batch call.
type BatchFlags int32

const (
	// FlagNone requests the default behaviour: resolve, insert and claim
	// from every source.
	FlagNone BatchFlags = 0
	// FlagSuppressClaim resolves and inserts without claiming new work; used
	// by dispatch-side flushes that only need durability.
	FlagSuppressClaim BatchFlags = 1 << 0
	// FlagClaimOutbox restricts claiming to outbox rows (publisher loop).
	FlagClaimOutbox BatchFlags = 1 << 1
	// FlagClaimInbox restricts claiming to inbox rows (consumer loop).
	FlagClaimInbox BatchFlags = 1 << 2
	// FlagClaimPerspective restricts claiming to checkpoints (perspective loop).
	FlagClaimPerspective BatchFlags = 1 << 3
)

// claimMask covers the per-source claim restriction bits.
const claimMask = FlagClaimOutbox | FlagClaimInbox | FlagClaimPerspective

// ClaimsOutbox reports whether this call may claim outbox rows.
func (f BatchFlags) ClaimsOutbox() bool {
	return f&FlagSuppressClaim == 0 && (f&claimMask == 0 || f&FlagClaimOutbox != 0)
}

// ClaimsInbox reports whether this call may claim inbox rows.
func (f BatchFlags) ClaimsInbox() bool {
	return f&FlagSuppressClaim == 0 && (f&claimMask == 0 || f&FlagClaimInbox != 0)
}

// ClaimsPerspective reports whether this call may claim checkpoints.
func (f BatchFlags) ClaimsPerspective() bool {
	return f&FlagSuppressClaim == 0 && (f&claimMask == 0 || f&FlagClaimPerspective != 0)
}

// BatchRequest is the full parameter set of one process_work_batch call.
type BatchRequest struct {
	Instance ServiceInstance `json:"instance"`

	OutboxCompletions      []WorkCompletion        `json:"outboxCompletions,omitempty"`
	OutboxFailures         []WorkFailure           `json:"outboxFailures,omitempty"`
	InboxCompletions       []WorkCompletion        `json:"inboxCompletions,omitempty"`
	InboxFailures          []WorkFailure           `json:"inboxFailures,omitempty"`
	ReceptorCompletions    []WorkCompletion        `json:"receptorCompletions,omitempty"`
	ReceptorFailures       []WorkFailure           `json:"receptorFailures,omitempty"`
	PerspectiveCompletions []PerspectiveCompletion `json:"perspectiveCompletions,omitempty"`
	PerspectiveFailures    []PerspectiveFailure    `json:"perspectiveFailures,omitempty"`

	NewOutbox []OutboxMessage `json:"newOutbox,omitempty"`
	NewInbox  []InboxMessage  `json:"newInbox,omitempty"`

	RenewOutboxLeaseIDs []string `json:"renewOutboxLeaseIds,omitempty"`
	RenewInboxLeaseIDs  []string `json:"renewInboxLeaseIds,omitempty"`

	LeaseSeconds             int        `json:"leaseSeconds"`
	StaleThresholdSeconds    int        `json:"staleThresholdSeconds"`
	Flags                    BatchFlags `json:"flags"`
	BatchSize                int        `json:"batchSize"`
	PartitionCount           int        `json:"partitionCount"`
	MaxPartitionsPerInstance int        `json:"maxPartitionsPerInstance"`
}

// HasWork reports whether the request mutates any state beyond the heartbeat.
func (r *BatchRequest) HasWork() bool {
	return len(r.OutboxCompletions)+len(r.OutboxFailures)+
		len(r.InboxCompletions)+len(r.InboxFailures)+
		len(r.ReceptorCompletions)+len(r.ReceptorFailures)+
		len(r.PerspectiveCompletions)+len(r.PerspectiveFailures)+
		len(r.NewOutbox)+len(r.NewInbox)+
		len(r.RenewOutboxLeaseIDs)+len(r.RenewInboxLeaseIDs) > 0
}
