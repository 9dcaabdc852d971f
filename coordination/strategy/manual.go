package strategy

import (
	"context"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
)

// Manual accumulates queued operations and only touches the coordinator on
// an explicit Flush call. It is the base the other strategies build on.
type Manual struct {
	acc *accumulator
}

// NewManual returns a manual-flush strategy.
func NewManual(repo coordination.Repository, cfg Config) *Manual {
	return &Manual{acc: newAccumulator(repo, cfg)}
}

func (m *Manual) QueueOutboxMessage(ctx context.Context, msg mmodel.OutboxMessage) error {
	m.acc.queueOutboxMessage(msg)
	return nil
}

func (m *Manual) QueueInboxMessage(ctx context.Context, msg mmodel.InboxMessage) error {
	m.acc.queueInboxMessage(msg)
	return nil
}

func (m *Manual) QueueOutboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error {
	m.acc.queueOutboxCompletion(messageID, status)
	return nil
}

func (m *Manual) QueueOutboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error {
	m.acc.queueOutboxFailure(messageID, status, errText)
	return nil
}

func (m *Manual) QueueInboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error {
	m.acc.queueInboxCompletion(messageID, status)
	return nil
}

func (m *Manual) QueueInboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error {
	m.acc.queueInboxFailure(messageID, status, errText)
	return nil
}

func (m *Manual) QueuePerspectiveCompletion(ctx context.Context, completion mmodel.PerspectiveCompletion) error {
	m.acc.queuePerspectiveCompletion(completion)
	return nil
}

func (m *Manual) QueuePerspectiveFailure(ctx context.Context, failure mmodel.PerspectiveFailure) error {
	m.acc.queuePerspectiveFailure(failure)
	return nil
}

func (m *Manual) RenewOutboxLeases(ctx context.Context, messageIDs []string) error {
	m.acc.renewOutboxLeases(messageIDs)
	return nil
}

func (m *Manual) RenewInboxLeases(ctx context.Context, messageIDs []string) error {
	m.acc.renewInboxLeases(messageIDs)
	return nil
}

// Flush drains the queue into one batch call and returns the claimed work.
func (m *Manual) Flush(ctx context.Context, flags mmodel.BatchFlags) (*mmodel.WorkBatch, error) {
	return m.acc.flush(ctx, flags)
}

// Close is a no-op for the manual strategy.
func (m *Manual) Close() error { return nil }
