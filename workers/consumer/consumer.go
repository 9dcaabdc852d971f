// Package consumer subscribes to transport destinations, writes deliveries
// to the inbox through the coordinator (deduplicated there), then drains the
// inbox and dispatches rows to their handlers in a fresh scope per message.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/dispatch"
	"github.com/CorventLabs/corvent/hooks"
	"github.com/CorventLabs/corvent/transport"
	"github.com/CorventLabs/corvent/wire"
)

// ErrShutdown is the cancellation sentinel of a graceful stop: a handler
// cancelled with it leaves its row leased so the lease expires naturally.
var ErrShutdown = errors.New("worker shutting down")

// Binding is one (topic, subscription) pair the consumer listens on.
type Binding struct {
	Topic        string
	Subscription string
}

// Config holds the consumer loop knobs.
type Config struct {
	Bindings           []Binding
	PollingInterval    time.Duration
	IdleThresholdPolls int
	DebugMode          bool
}

// Consumer is the inbox worker loop of one instance.
type Consumer struct {
	strategy   strategy.Strategy
	subscriber transport.Subscriber
	dispatcher *dispatch.Dispatcher
	registry   *wire.TypeRegistry
	codec      wire.Codec
	cfg        Config

	idle chan struct{}
}

// New returns a consumer worker.
func New(strat strategy.Strategy, sub transport.Subscriber, dispatcher *dispatch.Dispatcher, cfg Config) *Consumer {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 100 * time.Millisecond
	}

	if cfg.IdleThresholdPolls <= 0 {
		cfg.IdleThresholdPolls = 2
	}

	return &Consumer{
		strategy:   strat,
		subscriber: sub,
		dispatcher: dispatcher,
		registry:   dispatcher.Registry(),
		codec:      dispatcher.Codec(),
		cfg:        cfg,
		idle:       make(chan struct{}, 1),
	}
}

// Idle signals after IdleThresholdPolls consecutive empty batches.
func (c *Consumer) Idle() <-chan struct{} {
	return c.idle
}

// Run subscribes the bindings and polls the inbox until cancellation.
// In-flight messages finish their scope before the loop exits.
func (c *Consumer) Run(ctx context.Context) error {
	logger := common.NewLoggerFromContext(ctx)

	for _, b := range c.cfg.Bindings {
		if err := c.subscriber.Subscribe(ctx, b.Topic, b.Subscription, c.OnDelivery); err != nil {
			return err
		}

		logger.Infof("consumer subscribed to %s/%s", b.Topic, b.Subscription)
	}

	emptyPolls := 0

	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		batch, err := c.strategy.Flush(ctx, mmodel.FlagClaimInbox)
		if err != nil {
			logger.Errorf("consumer flush failed: %v", err)
		} else if len(batch.InboxWork) == 0 {
			emptyPolls++

			if emptyPolls == c.cfg.IdleThresholdPolls {
				select {
				case c.idle <- struct{}{}:
				default:
				}
			}
		} else {
			emptyPolls = 0
			c.dispatchBatch(ctx, batch)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// OnDelivery decodes one transport frame and queues it on the inbox. The
// coordinator deduplicates on message id, so redeliveries are no-ops.
func (c *Consumer) OnDelivery(ctx context.Context, frame transport.Frame) error {
	logger := common.NewLoggerFromContext(ctx)

	envelope, _, err := c.codec.DecodeEnvelope(frame.Body)
	if err != nil {
		logger.Errorf("rejecting malformed frame %s: %v", frame.MessageID, err)

		return common.ValidationError{Message: "malformed envelope frame", Err: cn.ErrMalformedEnvelope}
	}

	reg, regErr := c.registry.LookupID(frame.TypeID)

	msg := mmodel.InboxMessage{
		MessageID:    envelope.MessageID,
		EnvelopeType: frame.TypeID,
		EnvelopeData: frame.Body,
		StreamID:     envelope.StreamID(),
		MessageType:  reg.MessageType,
		HandlerName:  reg.HandlerName,
		IsEvent:      reg.IsEvent,
	}

	if err := c.strategy.QueueInboxMessage(ctx, msg); err != nil {
		return err
	}

	if regErr != nil {
		// Unknown type id: the row lands in the inbox and a failure is queued
		// for it. The coordinator applies failures before inserts, so when
		// both go out in one batch the failure finds no row yet; the row is
		// then claimed and the dispatch path marks it failed on its lookup
		// error, so an operator can fix types and skip or requeue.
		logger.Errorf("unknown wire type %s on %s: %v", frame.TypeID, envelope.MessageID, regErr)

		return c.strategy.QueueInboxFailure(ctx, envelope.MessageID, cn.StatusFailed, regErr.Error())
	}

	return nil
}

// Poll runs one flush-and-dispatch cycle for embedded tests.
func (c *Consumer) Poll(ctx context.Context) (*mmodel.WorkBatch, error) {
	batch, err := c.strategy.Flush(ctx, mmodel.FlagClaimInbox)
	if err != nil {
		return nil, err
	}

	c.dispatchBatch(ctx, batch)

	return batch, nil
}

func (c *Consumer) dispatchBatch(ctx context.Context, batch *mmodel.WorkBatch) {
	logger := common.NewLoggerFromContext(ctx)

	for _, item := range batch.InboxWork {
		if err := c.dispatchItem(ctx, item); err != nil {
			if errors.Is(err, ErrShutdown) {
				// Graceful shutdown: leave the row leased; the lease expires
				// and another instance picks it up.
				return
			}

			logger.Errorf("inbox dispatch failed for %s: %v", item.MessageID, err)

			if qErr := c.strategy.QueueInboxFailure(ctx, item.MessageID, cn.StatusFailed, err.Error()); qErr != nil {
				logger.Errorf("failed to queue inbox failure for %s: %v", item.MessageID, qErr)
			}

			continue
		}

		status := cn.StatusCompleted
		if item.IsEvent {
			status |= cn.StatusEventStored
		}

		if qErr := c.strategy.QueueInboxCompletion(ctx, item.MessageID, status); qErr != nil {
			logger.Errorf("failed to queue inbox completion for %s: %v", item.MessageID, qErr)
		}
	}
}

func (c *Consumer) dispatchItem(ctx context.Context, item mmodel.WorkItem) error {
	if ctx.Err() != nil {
		return ErrShutdown
	}

	envelope, rawPayload, err := c.codec.DecodeEnvelope(item.EnvelopeData)
	if err != nil {
		return common.ValidationError{Message: "malformed stored envelope", Err: cn.ErrMalformedEnvelope}
	}

	reg, err := c.registry.LookupID(item.EnvelopeType)
	if err != nil {
		return err
	}

	payload := reg.New()
	if err := c.codec.DecodePayload(rawPayload, payload); err != nil {
		return common.ValidationError{Message: "payload decode failed", Err: cn.ErrMalformedEnvelope}
	}

	envelope.Payload = payload

	scope := &dispatch.RequestScope{
		Logger:   common.NewLoggerFromContext(ctx),
		Strategy: c.strategy,
		Codec:    c.codec,
		Instance: c.dispatcher.Instance(),
		Envelope: envelope,
	}

	handlerCtx := dispatch.ContextWithScope(ctx, scope)

	if err := c.dispatcher.Hooks().RunInline(handlerCtx, hooks.PreDistributeInline, envelope); err != nil {
		return err
	}

	if _, err := c.dispatcher.InvokeHandler(handlerCtx, item.HandlerName, scope, payload); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ErrShutdown
		}

		return err
	}

	c.dispatcher.Hooks().RunAsync(handlerCtx, hooks.PostDistributeAsync, envelope)

	return nil
}
