// Package dispatch routes messages in process: Send (durable, outbox-first),
// LocalInvoke (typed in-process RPC) and Publish (fan-out). It builds the
// envelopes carrying hop-chain and correlation metadata.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/hooks"
	"github.com/CorventLabs/corvent/topics"
	"github.com/CorventLabs/corvent/wire"
)

// Message is the dispatch input: a registered payload plus delivery
// metadata. StreamID pins the message to a stream; empty means the message
// id orders alone.
type Message struct {
	Payload         any
	StreamID        string
	SecurityContext mmodel.SecurityContext
	Metadata        map[string]any
}

// Receipt reports the identities a durable Send produced.
type Receipt struct {
	MessageID     string
	CorrelationID string
	CausationID   string
	Destinations  []string
}

type receptorEntry struct {
	name        string
	messageType string
	fn          func(ctx context.Context, scope *RequestScope, payload any) (any, error)
}

// Dispatcher is the in-process router of one service instance.
type Dispatcher struct {
	instance mmodel.ServiceInstance
	strategy strategy.Strategy
	codec    wire.Codec
	registry *wire.TypeRegistry
	resolver topics.Resolver
	hooks    *hooks.Registry
	base     string

	mu           sync.RWMutex
	receptors    map[string]receptorEntry
	byHandler    map[string]receptorEntry
	destinations map[string][]string
}

// New returns a dispatcher bound to one strategy and codec.
func New(instance mmodel.ServiceInstance, strat strategy.Strategy, codec wire.Codec, registry *wire.TypeRegistry, resolver topics.Resolver, hookRegistry *hooks.Registry, baseTopic string) *Dispatcher {
	return &Dispatcher{
		instance:     instance,
		strategy:     strat,
		codec:        codec,
		registry:     registry,
		resolver:     resolver,
		hooks:        hookRegistry,
		base:         baseTopic,
		receptors:    make(map[string]receptorEntry),
		byHandler:    make(map[string]receptorEntry),
		destinations: make(map[string][]string),
	}
}

// Registry exposes the wire type registry the dispatcher routes with.
func (d *Dispatcher) Registry() *wire.TypeRegistry { return d.registry }

// Codec exposes the dispatcher's envelope codec.
func (d *Dispatcher) Codec() wire.Codec { return d.codec }

// Hooks exposes the hook registry.
func (d *Dispatcher) Hooks() *hooks.Registry { return d.hooks }

// Instance returns the owning service instance identity.
func (d *Dispatcher) Instance() mmodel.ServiceInstance { return d.instance }

// RegisterReceptor binds an in-process receptor to a message type. The name
// doubles as the inbox handler name.
func (d *Dispatcher) RegisterReceptor(messageType, name string, fn func(ctx context.Context, scope *RequestScope, payload any) (any, error)) {
	entry := receptorEntry{name: name, messageType: messageType, fn: fn}

	d.mu.Lock()
	d.receptors[messageType] = entry
	d.byHandler[name] = entry
	d.mu.Unlock()
}

// RegisterDestinations configures the fan-out destinations of a published
// message type. Without one, the topic resolver decides alone.
func (d *Dispatcher) RegisterDestinations(messageType string, destinations []string) {
	d.mu.Lock()
	d.destinations[messageType] = destinations
	d.mu.Unlock()
}

// RegisterReceptor binds a typed receptor function.
func RegisterReceptor[T any, R any](d *Dispatcher, messageType, name string, fn func(ctx context.Context, scope *RequestScope, msg T) (R, error)) {
	d.RegisterReceptor(messageType, name, func(ctx context.Context, scope *RequestScope, payload any) (any, error) {
		switch v := payload.(type) {
		case T:
			return fn(ctx, scope, v)
		case *T:
			return fn(ctx, scope, *v)
		default:
			return nil, common.ValidationError{Message: "receptor payload type mismatch for " + messageType}
		}
	})
}

// Send produces one durable outbox row for the message and returns its
// delivery receipt. Transport-agnostic: the publisher worker moves it.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (*Receipt, error) {
	reg, err := d.registry.LookupGoType(msg.Payload)
	if err != nil {
		return nil, err
	}

	envelope := d.buildEnvelope(ctx, msg)

	if err := d.distribute(ctx, reg, envelope); err != nil {
		return nil, err
	}

	destination := d.resolver.ResolveTopic(ctx, reg.TypeID, d.base)

	data, err := d.codec.Encode(envelope)
	if err != nil {
		return nil, err
	}

	if err := d.strategy.QueueOutboxMessage(ctx, mmodel.OutboxMessage{
		MessageID:    envelope.MessageID,
		Destination:  destination,
		EnvelopeType: reg.TypeID,
		EnvelopeData: data,
		StreamID:     envelope.StreamID(),
		MessageType:  reg.MessageType,
		IsEvent:      reg.IsEvent,
	}); err != nil {
		return nil, err
	}

	d.postDistribute(ctx, envelope)

	return &Receipt{
		MessageID:     envelope.MessageID,
		CorrelationID: envelope.CorrelationID(),
		CausationID:   envelope.CausationID(),
		Destinations:  []string{destination},
	}, nil
}

// Publish fans an event out: one outbox row per configured destination.
// Only the first row appends to the event store, so fan-out never doubles
// the stream.
func (d *Dispatcher) Publish(ctx context.Context, msg Message) error {
	reg, err := d.registry.LookupGoType(msg.Payload)
	if err != nil {
		return err
	}

	envelope := d.buildEnvelope(ctx, msg)

	if err := d.distribute(ctx, reg, envelope); err != nil {
		return err
	}

	data, err := d.codec.Encode(envelope)
	if err != nil {
		return err
	}

	d.mu.RLock()
	dests := d.destinations[reg.MessageType]
	d.mu.RUnlock()

	if len(dests) == 0 {
		dests = []string{d.resolver.ResolveTopic(ctx, reg.TypeID, d.base)}
	}

	for i, destination := range dests {
		rowID := envelope.MessageID
		if i > 0 {
			rowID = common.GenerateUUIDv7().String()
		}

		if err := d.strategy.QueueOutboxMessage(ctx, mmodel.OutboxMessage{
			MessageID:    rowID,
			Destination:  destination,
			EnvelopeType: reg.TypeID,
			EnvelopeData: data,
			StreamID:     envelope.StreamID(),
			MessageType:  reg.MessageType,
			IsEvent:      reg.IsEvent && i == 0,
		}); err != nil {
			return err
		}
	}

	d.postDistribute(ctx, envelope)

	return nil
}

// LocalInvoke calls the registered receptor synchronously and returns its
// typed result. It never touches a transport.
func LocalInvoke[T any, R any](ctx context.Context, d *Dispatcher, payload T) (R, error) {
	var zero R

	reg, err := d.registry.LookupGoType(payload)
	if err != nil {
		return zero, err
	}

	d.mu.RLock()
	entry, ok := d.receptors[reg.MessageType]
	d.mu.RUnlock()

	if !ok {
		return zero, common.ValidationError{
			Message: "no in-process receptor for " + reg.MessageType,
			Err:     cn.ErrRemoteInvoke,
		}
	}

	envelope := d.buildEnvelope(ctx, Message{Payload: payload})

	scope := &RequestScope{
		Logger:   common.NewLoggerFromContext(ctx),
		Strategy: d.strategy,
		Codec:    d.codec,
		Instance: d.instance,
		Envelope: envelope,
	}

	result, err := entry.fn(ContextWithScope(ctx, scope), scope, payload)
	if err != nil {
		return zero, err
	}

	typed, ok := result.(R)
	if !ok && result != nil {
		return zero, common.ValidationError{Message: "receptor result type mismatch for " + reg.MessageType}
	}

	return typed, nil
}

// InvokeHandler dispatches an inbox payload to the receptor registered under
// the handler name.
func (d *Dispatcher) InvokeHandler(ctx context.Context, handlerName string, scope *RequestScope, payload any) (any, error) {
	d.mu.RLock()
	entry, ok := d.byHandler[handlerName]
	d.mu.RUnlock()

	if !ok {
		return nil, common.ValidationError{
			Message: "no handler registered under " + handlerName,
			Err:     cn.ErrNoReceptor,
		}
	}

	return entry.fn(ctx, scope, payload)
}

func (d *Dispatcher) distribute(ctx context.Context, reg wire.Registration, envelope *mmodel.MessageEnvelope) error {
	d.hooks.RunAsync(ctx, hooks.PreDistributeAsync, envelope)

	if err := d.hooks.RunInline(ctx, hooks.PreDistributeInline, envelope); err != nil {
		return err
	}

	for _, tag := range reg.Tags {
		if err := d.hooks.RunTagHooks(ctx, tag, envelope); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) postDistribute(ctx context.Context, envelope *mmodel.MessageEnvelope) {
	if err := d.hooks.RunInline(ctx, hooks.PostDistributeInline, envelope); err != nil {
		common.NewLoggerFromContext(ctx).Errorf("post-distribute inline hook failed: %v", err)
	}

	d.hooks.RunAsync(ctx, hooks.PostDistributeAsync, envelope)
}

// buildEnvelope wraps the payload and appends the boundary hop. Causation
// links to the message the caller's scope is currently handling.
func (d *Dispatcher) buildEnvelope(ctx context.Context, msg Message) *mmodel.MessageEnvelope {
	messageID := common.GenerateUUIDv7().String()

	correlationID := common.GenerateUUIDv7().String()
	causationID := ""

	if parent := ScopeFromContext(ctx); parent != nil && parent.Envelope != nil {
		causationID = parent.Envelope.MessageID

		if c := parent.Envelope.CorrelationID(); c != "" {
			correlationID = c
		}
	}

	metadata := make(map[string]any, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	if msg.StreamID != "" {
		metadata[mmodel.MetadataAggregateID] = msg.StreamID
	}

	envelope := &mmodel.MessageEnvelope{
		MessageID: messageID,
		Payload:   msg.Payload,
	}

	envelope.AppendHop(mmodel.MessageHop{
		ServiceInstance: d.instance.Info(),
		Type:            mmodel.HopCurrent,
		Timestamp:       time.Now().UTC(),
		CorrelationID:   correlationID,
		CausationID:     causationID,
		SecurityContext: msg.SecurityContext,
		Metadata:        metadata,
	})

	return envelope
}
