package dispatch

import (
	"context"
	"testing"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/memory"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/hooks"
	"github.com/CorventLabs/corvent/topics"
	"github.com/CorventLabs/corvent/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createProduct struct {
	ProductID string `json:"ProductId"`
	Name      string `json:"Name"`
}

type productCreated struct {
	ProductID string `json:"ProductId"`
}

type createProductResult struct {
	OK bool `json:"Ok"`
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.Store, strategy.Strategy) {
	t.Helper()

	store := memory.NewStore()
	registry := wire.NewTypeRegistry()

	registry.Register(wire.Registration{
		TypeID:      "Acme.Inventory.Commands.CreateProductCommand",
		MessageType: "CreateProduct",
		HandlerName: "create-product",
		New:         func() any { return &createProduct{} },
	})
	registry.Register(wire.Registration{
		TypeID:      "Acme.Inventory.Events.ProductCreatedEvent",
		MessageType: "ProductCreated",
		HandlerName: "product-created",
		IsEvent:     true,
		New:         func() any { return &productCreated{} },
	})

	hookRegistry := hooks.NewRegistry(8, 1)
	t.Cleanup(func() { _ = hookRegistry.Close() })

	strat := strategy.NewManual(store, strategy.Config{
		Instance:              mmodel.NewServiceInstance("inventory"),
		LeaseSeconds:          30,
		StaleThresholdSeconds: 30,
		BatchSize:             16,
		PartitionCount:        4,
	})

	d := New(mmodel.NewServiceInstance("inventory"), strat, wire.JSONCodec{}, registry, topics.NamespaceResolver{}, hookRegistry, "inventory")

	return d, store, strat
}

func TestSendQueuesOutboxRow(t *testing.T) {
	d, _, strat := newTestDispatcher(t)
	ctx := context.TODO()

	receipt, err := d.Send(ctx, Message{Payload: &createProduct{ProductID: "P1", Name: "T"}, StreamID: "P1"})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.NotEmpty(t, receipt.MessageID)
	assert.NotEmpty(t, receipt.CorrelationID)
	assert.Empty(t, receipt.CausationID)
	assert.Equal(t, []string{"create-product"}, receipt.Destinations)

	batch, err := strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)

	item := batch.OutboxWork[0]
	assert.Equal(t, receipt.MessageID, item.MessageID)
	assert.Equal(t, "P1", item.StreamID)
	assert.Equal(t, "CreateProduct", item.MessageType)
	assert.False(t, item.IsEvent)
}

func TestSendSameMessageTwiceStoresOneRow(t *testing.T) {
	d, store, strat := newTestDispatcher(t)
	ctx := context.TODO()

	receipt, err := d.Send(ctx, Message{Payload: &createProduct{ProductID: "P1"}, StreamID: "P1"})
	require.NoError(t, err)

	// replay the identical outbox insert: the coordinator deduplicates.
	require.NoError(t, strat.QueueOutboxMessage(ctx, mmodel.OutboxMessage{
		MessageID:   receipt.MessageID,
		Destination: "create-product",
		StreamID:    "P1",
		MessageType: "CreateProduct",
	}))

	batch, err := strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
	assert.Len(t, batch.OutboxWork, 1)

	_, ok := store.WorkStatus(cn.SourceOutbox, receipt.MessageID)
	assert.True(t, ok)
}

func TestCausationLinksToScopeEnvelope(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	parent := &mmodel.MessageEnvelope{MessageID: "parent-id"}
	parent.AppendHop(mmodel.MessageHop{CorrelationID: "corr-1"})

	ctx := ContextWithScope(context.TODO(), &RequestScope{Envelope: parent})

	receipt, err := d.Send(ctx, Message{Payload: &createProduct{ProductID: "P2"}, StreamID: "P2"})
	require.NoError(t, err)

	assert.Equal(t, "parent-id", receipt.CausationID)
	assert.Equal(t, "corr-1", receipt.CorrelationID)
}

func TestPublishFanOutSingleEventAppend(t *testing.T) {
	d, store, strat := newTestDispatcher(t)
	ctx := context.TODO()

	d.RegisterDestinations("ProductCreated", []string{"bff", "analytics"})

	require.NoError(t, d.Publish(ctx, Message{Payload: &productCreated{ProductID: "P1"}, StreamID: "P1"}))

	_, err := strat.Flush(ctx, mmodel.FlagSuppressClaim)
	require.NoError(t, err)

	// two outbox rows, one event-store append.
	events, err := store.LoadEvents(ctx, "P1", "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLocalInvokeReturnsTypedResult(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	RegisterReceptor(d, "CreateProduct", "create-product", func(ctx context.Context, scope *RequestScope, msg createProduct) (createProductResult, error) {
		assert.Equal(t, "P1", msg.ProductID)
		require.NotNil(t, scope.Envelope)

		return createProductResult{OK: true}, nil
	})

	result, err := LocalInvoke[*createProduct, createProductResult](context.TODO(), d, &createProduct{ProductID: "P1"})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestLocalInvokeWithoutReceptorFails(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := LocalInvoke[*productCreated, createProductResult](context.TODO(), d, &productCreated{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cn.ErrRemoteInvoke)
}

func TestPreDistributeInlineVetoAbortsSend(t *testing.T) {
	d, _, strat := newTestDispatcher(t)
	ctx := context.TODO()

	d.Hooks().RegisterLifecycle(hooks.PreDistributeInline, func(ctx context.Context, env *mmodel.MessageEnvelope) error {
		return cn.ErrStreamBlocked
	})

	_, err := d.Send(ctx, Message{Payload: &createProduct{ProductID: "P1"}, StreamID: "P1"})
	require.Error(t, err)

	batch, err := strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
	assert.Empty(t, batch.OutboxWork)
}
