// Package publisher drains outbox rows claimed by the coordinator and hands
// their envelopes to the transport.
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/transport"
)

// Config holds the publisher loop knobs.
type Config struct {
	PollingInterval    time.Duration
	IdleThresholdPolls int
	DebugMode          bool
}

// Publisher is the outbox worker loop of one instance.
type Publisher struct {
	strategy  strategy.Strategy
	transport transport.Publisher
	cfg       Config

	idle chan struct{}
}

// New returns a publisher worker.
func New(strat strategy.Strategy, pub transport.Publisher, cfg Config) *Publisher {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 100 * time.Millisecond
	}

	if cfg.IdleThresholdPolls <= 0 {
		cfg.IdleThresholdPolls = 2
	}

	return &Publisher{
		strategy:  strat,
		transport: pub,
		cfg:       cfg,
		idle:      make(chan struct{}, 1),
	}
}

// Idle signals after IdleThresholdPolls consecutive empty batches; tests use
// it to detect quiescence.
func (p *Publisher) Idle() <-chan struct{} {
	return p.idle
}

// Run polls until the context is cancelled. Infrastructure errors are
// logged and retried on the next poll; they never crash the loop.
func (p *Publisher) Run(ctx context.Context) error {
	logger := common.NewLoggerFromContext(ctx)

	emptyPolls := 0

	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		batch, err := p.strategy.Flush(ctx, mmodel.FlagClaimOutbox)
		if err != nil {
			logger.Errorf("publisher flush failed: %v", err)
		} else if batch.IsEmpty() {
			emptyPolls++

			if emptyPolls == p.cfg.IdleThresholdPolls {
				select {
				case p.idle <- struct{}{}:
				default:
				}
			}
		} else {
			emptyPolls = 0
			p.publishBatch(ctx, batch)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one flush-and-publish cycle; embedded tests drive the worker
// with it instead of the timer loop.
func (p *Publisher) Poll(ctx context.Context) (*mmodel.WorkBatch, error) {
	batch, err := p.strategy.Flush(ctx, mmodel.FlagClaimOutbox)
	if err != nil {
		return nil, err
	}

	p.publishBatch(ctx, batch)

	return batch, nil
}

func (p *Publisher) publishBatch(ctx context.Context, batch *mmodel.WorkBatch) {
	logger := common.NewLoggerFromContext(ctx)

	for _, item := range batch.OutboxWork {
		if p.cfg.DebugMode {
			logger.Debugf("publishing outbox row %s to %s", item.MessageID, item.Destination)
		}

		err := p.transport.Publish(ctx, item.Destination, transport.Frame{
			MessageID: item.MessageID,
			TypeID:    item.EnvelopeType,
			Body:      item.EnvelopeData,
		})

		switch {
		case err == nil:
			if qErr := p.strategy.QueueOutboxCompletion(ctx, item.MessageID, cn.StatusPublished); qErr != nil {
				logger.Errorf("failed to queue outbox completion for %s: %v", item.MessageID, qErr)
			}
		case errors.Is(err, cn.ErrTransportNotReady):
			// The transport refused; the lease lapses and the row is
			// reclaimed on a later poll.
			logger.Warnf("transport not ready for %s, leaving row leased", item.MessageID)
		default:
			logger.Errorf("publish failed for %s: %v", item.MessageID, err)

			if qErr := p.strategy.QueueOutboxFailure(ctx, item.MessageID, cn.StatusFailed, err.Error()); qErr != nil {
				logger.Errorf("failed to queue outbox failure for %s: %v", item.MessageID, qErr)
			}
		}
	}
}
