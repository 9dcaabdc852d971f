package strategy

import (
	"context"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
)

// Immediate flushes synchronously after every queued operation. The
// auto-flush suppresses claiming so queued state becomes durable without
// stealing work from the polling workers; an explicit Flush claims as usual.
type Immediate struct {
	Manual
}

// NewImmediate returns an immediate-flush strategy.
func NewImmediate(repo coordination.Repository, cfg Config) *Immediate {
	return &Immediate{Manual{acc: newAccumulator(repo, cfg)}}
}

func (s *Immediate) QueueOutboxMessage(ctx context.Context, msg mmodel.OutboxMessage) error {
	s.acc.queueOutboxMessage(msg)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueueInboxMessage(ctx context.Context, msg mmodel.InboxMessage) error {
	s.acc.queueInboxMessage(msg)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueueOutboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error {
	s.acc.queueOutboxCompletion(messageID, status)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueueOutboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error {
	s.acc.queueOutboxFailure(messageID, status, errText)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueueInboxCompletion(ctx context.Context, messageID string, status cn.WorkStatus) error {
	s.acc.queueInboxCompletion(messageID, status)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueueInboxFailure(ctx context.Context, messageID string, status cn.WorkStatus, errText string) error {
	s.acc.queueInboxFailure(messageID, status, errText)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueuePerspectiveCompletion(ctx context.Context, completion mmodel.PerspectiveCompletion) error {
	s.acc.queuePerspectiveCompletion(completion)
	return s.autoFlush(ctx)
}

func (s *Immediate) QueuePerspectiveFailure(ctx context.Context, failure mmodel.PerspectiveFailure) error {
	s.acc.queuePerspectiveFailure(failure)
	return s.autoFlush(ctx)
}

func (s *Immediate) autoFlush(ctx context.Context) error {
	_, err := s.acc.flush(ctx, mmodel.FlagSuppressClaim)
	return err
}
