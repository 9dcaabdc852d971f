// Package strategy provides the per-instance façade over the coordinator:
// an in-memory accumulator of pending inserts, completions and failures
// that flushes to one process_work_batch call.
package strategy

import (
	"context"
	"sync"
	"sync/atomic"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
)

// Strategy is the work-coordinator contract shared by the Immediate,
// Interval and Manual implementations. One Flush corresponds to exactly one
// ProcessWorkBatch call; concurrent flushes are serialised and the loser
// returns an empty batch instead of blocking.
type Strategy interface {
	QueueOutboxMessage(ctx context.Context, msg mmodel.OutboxMessage) error
	QueueInboxMessage(ctx context.Context, msg mmodel.InboxMessage) error
	QueueOutboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error
	QueueOutboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error
	QueueInboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error
	QueueInboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error
	QueuePerspectiveCompletion(ctx context.Context, completion mmodel.PerspectiveCompletion) error
	QueuePerspectiveFailure(ctx context.Context, failure mmodel.PerspectiveFailure) error
	RenewOutboxLeases(ctx context.Context, messageIDs []string) error
	RenewInboxLeases(ctx context.Context, messageIDs []string) error
	Flush(ctx context.Context, flags mmodel.BatchFlags) (*mmodel.WorkBatch, error)
	Close() error
}

// Config carries the per-worker knobs every batch call repeats.
type Config struct {
	Instance                 mmodel.ServiceInstance
	LeaseSeconds             int
	StaleThresholdSeconds    int
	BatchSize                int
	PartitionCount           int
	MaxPartitionsPerInstance int
}

type pending struct {
	outboxCompletions      []mmodel.WorkCompletion
	outboxFailures         []mmodel.WorkFailure
	inboxCompletions       []mmodel.WorkCompletion
	inboxFailures          []mmodel.WorkFailure
	perspectiveCompletions []mmodel.PerspectiveCompletion
	perspectiveFailures    []mmodel.PerspectiveFailure
	newOutbox              []mmodel.OutboxMessage
	newInbox               []mmodel.InboxMessage
	renewOutbox            []string
	renewInbox             []string
}

func (p *pending) empty() bool {
	return len(p.outboxCompletions)+len(p.outboxFailures)+
		len(p.inboxCompletions)+len(p.inboxFailures)+
		len(p.perspectiveCompletions)+len(p.perspectiveFailures)+
		len(p.newOutbox)+len(p.newInbox)+
		len(p.renewOutbox)+len(p.renewInbox) == 0
}

// accumulator is the shared queueing core. The mutex guards the pending
// sets only; it is never held across the repository call.
type accumulator struct {
	repo coordination.Repository
	cfg  Config

	mu       sync.Mutex
	pend     pending
	flushing atomic.Bool
}

func newAccumulator(repo coordination.Repository, cfg Config) *accumulator {
	return &accumulator{repo: repo, cfg: cfg}
}

func (a *accumulator) queueOutboxMessage(msg mmodel.OutboxMessage) {
	a.mu.Lock()
	a.pend.newOutbox = append(a.pend.newOutbox, msg)
	a.mu.Unlock()
}

func (a *accumulator) queueInboxMessage(msg mmodel.InboxMessage) {
	a.mu.Lock()
	a.pend.newInbox = append(a.pend.newInbox, msg)
	a.mu.Unlock()
}

func (a *accumulator) queueOutboxCompletion(messageID string, status cn.WorkStatus) {
	a.mu.Lock()
	a.pend.outboxCompletions = append(a.pend.outboxCompletions, mmodel.WorkCompletion{MessageID: messageID, Status: status})
	a.mu.Unlock()
}

func (a *accumulator) queueOutboxFailure(messageID string, status cn.WorkStatus, errText string) {
	a.mu.Lock()
	a.pend.outboxFailures = append(a.pend.outboxFailures, mmodel.WorkFailure{MessageID: messageID, Status: status, Error: errText})
	a.mu.Unlock()
}

func (a *accumulator) queueInboxCompletion(messageID string, status cn.WorkStatus) {
	a.mu.Lock()
	a.pend.inboxCompletions = append(a.pend.inboxCompletions, mmodel.WorkCompletion{MessageID: messageID, Status: status})
	a.mu.Unlock()
}

func (a *accumulator) queueInboxFailure(messageID string, status cn.WorkStatus, errText string) {
	a.mu.Lock()
	a.pend.inboxFailures = append(a.pend.inboxFailures, mmodel.WorkFailure{MessageID: messageID, Status: status, Error: errText})
	a.mu.Unlock()
}

func (a *accumulator) queuePerspectiveCompletion(completion mmodel.PerspectiveCompletion) {
	a.mu.Lock()
	a.pend.perspectiveCompletions = append(a.pend.perspectiveCompletions, completion)
	a.mu.Unlock()
}

func (a *accumulator) queuePerspectiveFailure(failure mmodel.PerspectiveFailure) {
	a.mu.Lock()
	a.pend.perspectiveFailures = append(a.pend.perspectiveFailures, failure)
	a.mu.Unlock()
}

func (a *accumulator) renewOutboxLeases(messageIDs []string) {
	a.mu.Lock()
	a.pend.renewOutbox = append(a.pend.renewOutbox, messageIDs...)
	a.mu.Unlock()
}

func (a *accumulator) renewInboxLeases(messageIDs []string) {
	a.mu.Lock()
	a.pend.renewInbox = append(a.pend.renewInbox, messageIDs...)
	a.mu.Unlock()
}

// flush drains the pending sets into one batch call. The loser of a
// concurrent flush race gets an empty batch back and keeps its queue.
func (a *accumulator) flush(ctx context.Context, flags mmodel.BatchFlags) (*mmodel.WorkBatch, error) {
	if !a.flushing.CompareAndSwap(false, true) {
		return &mmodel.WorkBatch{}, nil
	}
	defer a.flushing.Store(false)

	a.mu.Lock()
	drained := a.pend
	a.pend = pending{}
	a.mu.Unlock()

	req := &mmodel.BatchRequest{
		Instance:                 a.cfg.Instance,
		OutboxCompletions:        drained.outboxCompletions,
		OutboxFailures:           drained.outboxFailures,
		InboxCompletions:         drained.inboxCompletions,
		InboxFailures:            drained.inboxFailures,
		PerspectiveCompletions:   drained.perspectiveCompletions,
		PerspectiveFailures:      drained.perspectiveFailures,
		NewOutbox:                drained.newOutbox,
		NewInbox:                 drained.newInbox,
		RenewOutboxLeaseIDs:      drained.renewOutbox,
		RenewInboxLeaseIDs:       drained.renewInbox,
		LeaseSeconds:             a.cfg.LeaseSeconds,
		StaleThresholdSeconds:    a.cfg.StaleThresholdSeconds,
		Flags:                    flags,
		BatchSize:                a.cfg.BatchSize,
		PartitionCount:           a.cfg.PartitionCount,
		MaxPartitionsPerInstance: a.cfg.MaxPartitionsPerInstance,
	}

	batch, err := a.repo.ProcessWorkBatch(ctx, req)
	if err != nil {
		a.restore(drained)

		return nil, err
	}

	return batch, nil
}

// restore puts a drained-but-unflushed pending set back at the front of the
// queue after a failed batch call.
func (a *accumulator) restore(drained pending) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pend = pending{
		outboxCompletions:      append(drained.outboxCompletions, a.pend.outboxCompletions...),
		outboxFailures:         append(drained.outboxFailures, a.pend.outboxFailures...),
		inboxCompletions:       append(drained.inboxCompletions, a.pend.inboxCompletions...),
		inboxFailures:          append(drained.inboxFailures, a.pend.inboxFailures...),
		perspectiveCompletions: append(drained.perspectiveCompletions, a.pend.perspectiveCompletions...),
		perspectiveFailures:    append(drained.perspectiveFailures, a.pend.perspectiveFailures...),
		newOutbox:              append(drained.newOutbox, a.pend.newOutbox...),
		newInbox:               append(drained.newInbox, a.pend.newInbox...),
		renewOutbox:            append(drained.renewOutbox, a.pend.renewOutbox...),
		renewInbox:             append(drained.renewInbox, a.pend.renewInbox...),
	}
}
