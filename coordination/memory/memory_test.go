package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testInstance(name string) mmodel.ServiceInstance {
	inst := mmodel.NewServiceInstance("inventory")
	inst.InstanceID = name

	return inst
}

func baseRequest(inst mmodel.ServiceInstance) *mmodel.BatchRequest {
	return &mmodel.BatchRequest{
		Instance:              inst,
		LeaseSeconds:          30,
		StaleThresholdSeconds: 30,
		BatchSize:             16,
		PartitionCount:        4,
	}
}

func outboxMessage(id, stream string) mmodel.OutboxMessage {
	return mmodel.OutboxMessage{
		MessageID:    id,
		Destination:  "inventory",
		EnvelopeType: "Inventory.Events.ProductCreated",
		EnvelopeData: []byte(`{"MessageId":"` + id + `"}`),
		StreamID:     stream,
		MessageType:  "ProductCreated",
	}
}

func inboxMessage(id, stream string) mmodel.InboxMessage {
	return mmodel.InboxMessage{
		MessageID:    id,
		EnvelopeType: "Inventory.Events.ProductCreated",
		EnvelopeData: []byte(`{"MessageId":"` + id + `"}`),
		StreamID:     stream,
		MessageType:  "ProductCreated",
		HandlerName:  "product-created",
	}
}

func TestOrderedClaimPerStream(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	ids := make([]string, 0, 3)

	req := baseRequest(inst)
	for i := 0; i < 3; i++ {
		id := common.GenerateUUIDv7().String()
		ids = append(ids, id)
		req.NewOutbox = append(req.NewOutbox, outboxMessage(id, "stream-s"))
	}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	// only the head of the stream is claimable; later rows wait.
	require.Len(t, batch.OutboxWork, 1)
	assert.Equal(t, ids[0], batch.OutboxWork[0].MessageID)

	var sequences []int64
	sequences = append(sequences, batch.OutboxWork[0].SequenceOrder)

	// completing the head releases the next row, in order.
	for i := 1; i < 3; i++ {
		req = baseRequest(inst)
		req.OutboxCompletions = []mmodel.WorkCompletion{{MessageID: ids[i-1], Status: cn.StatusPublished}}

		batch, err = store.ProcessWorkBatch(ctx, req)
		require.NoError(t, err)
		require.Len(t, batch.OutboxWork, 1)
		assert.Equal(t, ids[i], batch.OutboxWork[0].MessageID)

		sequences = append(sequences, batch.OutboxWork[0].SequenceOrder)
	}

	for i := 1; i < len(sequences); i++ {
		assert.Greater(t, sequences[i], sequences[i-1])
	}
}

func TestCompletionIsIdempotent(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(id, "stream-s")}

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req = baseRequest(inst)
		req.OutboxCompletions = []mmodel.WorkCompletion{{MessageID: id, Status: cn.StatusPublished}}

		_, err = store.ProcessWorkBatch(ctx, req)
		require.NoError(t, err)
	}

	status, ok := store.WorkStatus(cn.SourceOutbox, id)
	require.True(t, ok)
	assert.True(t, status.Has(cn.StatusPublished))
	assert.False(t, status.Has(cn.StatusInFlight))
}

func TestInboxInsertIsIdempotent(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	id := common.GenerateUUIDv7().String()

	for i := 0; i < 3; i++ {
		req := baseRequest(inst)
		req.NewInbox = []mmodel.InboxMessage{inboxMessage(id, "stream-s")}
		req.Flags = mmodel.FlagSuppressClaim

		_, err := store.ProcessWorkBatch(ctx, req)
		require.NoError(t, err)
	}

	batch, err := store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)

	// after completion no further dispatch happens for the same id.
	req := baseRequest(inst)
	req.InboxCompletions = []mmodel.WorkCompletion{{MessageID: id, Status: cn.StatusCompleted}}
	req.NewInbox = []mmodel.InboxMessage{inboxMessage(id, "stream-s")}

	batch, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, batch.InboxWork)
}

func TestFailureCascadeBlocksStream(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	first := common.GenerateUUIDv7().String()
	second := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(first, "stream-s"), outboxMessage(second, "stream-s")}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)

	req = baseRequest(inst)
	req.OutboxFailures = []mmodel.WorkFailure{{MessageID: first, Status: cn.StatusFailed, Error: "boom"}}

	// while the head is failed, the later row is never returned.
	for i := 0; i < 3; i++ {
		batch, err = store.ProcessWorkBatch(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, batch.OutboxWork)

		req = baseRequest(inst)
	}

	// skipping the failed row unblocks the stream.
	require.NoError(t, store.ResolveFailedWork(ctx, cn.SourceOutbox, first, cn.ResolveSkip))

	batch, err = store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)
	assert.Equal(t, second, batch.OutboxWork[0].MessageID)
}

func TestLeaseExpiryFailover(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	ctx := context.TODO()

	instanceA := testInstance("instance-a")
	instanceB := testInstance("instance-b")

	id := common.GenerateUUIDv7().String()

	// both instances heartbeat, A claims the row with a 5s lease.
	_, err := store.ProcessWorkBatch(ctx, baseRequest(instanceB))
	require.NoError(t, err)

	req := baseRequest(instanceA)
	req.LeaseSeconds = 5
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(id, "stream-s")}

	claimed := false

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	if len(batch.OutboxWork) == 1 {
		claimed = true
	} else {
		// the row's partition belongs to B in this live set; let B claim it
		// instead and crash B below symmetrically.
		instanceA, instanceB = instanceB, instanceA

		batch, err = store.ProcessWorkBatch(ctx, baseRequest(instanceA))
		require.NoError(t, err)
		require.Len(t, batch.OutboxWork, 1)
		claimed = true
	}

	require.True(t, claimed)
	assert.Equal(t, instanceA.InstanceID, store.LeaseOwner(cn.SourceOutbox, id))

	// A crashes; after the lease lapses B reclaims and publishes.
	clock.Advance(31 * time.Second)

	batch, err = store.ProcessWorkBatch(ctx, baseRequest(instanceB))
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)
	assert.Equal(t, id, batch.OutboxWork[0].MessageID)
	assert.Equal(t, instanceB.InstanceID, store.LeaseOwner(cn.SourceOutbox, id))

	req = baseRequest(instanceB)
	req.OutboxCompletions = []mmodel.WorkCompletion{{MessageID: id, Status: cn.StatusPublished}}

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	status, _ := store.WorkStatus(cn.SourceOutbox, id)
	assert.True(t, status.Has(cn.StatusPublished))
}

func TestZeroLeaseSecondsStaysConsistent(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	inst := testInstance("instance-a")
	ctx := context.TODO()

	first := common.GenerateUUIDv7().String()
	second := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.LeaseSeconds = 0
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(first, "stream-s"), outboxMessage(second, "stream-s")}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)
	assert.Equal(t, first, batch.OutboxWork[0].MessageID)

	// the lease is immediately reclaimable, but ordering never regresses:
	// the head row is handed out again, not its successor.
	clock.Advance(time.Second)

	req = baseRequest(inst)
	req.LeaseSeconds = 0

	batch, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)
	assert.Equal(t, first, batch.OutboxWork[0].MessageID)
	assert.Equal(t, 2, batch.OutboxWork[0].Attempts)
}

func TestEmptyBatchAdvancesHeartbeat(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	inst := testInstance("instance-a")
	ctx := context.TODO()

	batch, err := store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	assert.True(t, batch.IsEmpty())

	// a second instance joining sees A as live: its heartbeat registered.
	other := testInstance("instance-b")

	_, err = store.ProcessWorkBatch(ctx, baseRequest(other))
	require.NoError(t, err)

	live := store.liveInstances("inventory", clock.Now(), 30)
	assert.Equal(t, []string{"instance-a", "instance-b"}, live)
}

func TestPartitionAssignmentFairness(t *testing.T) {
	store := NewStore()
	ctx := context.TODO()

	const partitions = 4

	instances := []mmodel.ServiceInstance{
		testInstance("instance-a"),
		testInstance("instance-b"),
	}

	for _, inst := range instances {
		req := baseRequest(inst)
		req.PartitionCount = partitions

		_, err := store.ProcessWorkBatch(ctx, req)
		require.NoError(t, err)
	}

	owned := func(k, idx int) []int {
		var out []int
		for p := 0; p < partitions; p++ {
			if p%k == idx {
				out = append(out, p)
			}
		}

		return out
	}

	// two instances: two partitions each.
	assert.Len(t, owned(2, 0), 2)
	assert.Len(t, owned(2, 1), 2)

	// a third joins: every instance owns one or two, covering all four.
	req := baseRequest(testInstance("instance-c"))
	req.PartitionCount = partitions

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	total := 0
	for idx := 0; idx < 3; idx++ {
		n := len(owned(3, idx))
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 2)
		total += n
	}

	assert.Equal(t, partitions, total)
}

func TestPartitionRestrictsClaims(t *testing.T) {
	store := NewStore()
	ctx := context.TODO()

	instanceA := testInstance("instance-a")
	instanceB := testInstance("instance-b")

	// register both instances before inserting work.
	_, err := store.ProcessWorkBatch(ctx, baseRequest(instanceA))
	require.NoError(t, err)
	_, err = store.ProcessWorkBatch(ctx, baseRequest(instanceB))
	require.NoError(t, err)

	var ids []string

	req := baseRequest(instanceA)
	req.Flags = mmodel.FlagSuppressClaim

	for i := 0; i < 8; i++ {
		id := common.GenerateUUIDv7().String()
		ids = append(ids, id)
		req.NewOutbox = append(req.NewOutbox, outboxMessage(id, fmt.Sprintf("stream-%d", i)))
	}

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	batchA, err := store.ProcessWorkBatch(ctx, baseRequest(instanceA))
	require.NoError(t, err)

	batchB, err := store.ProcessWorkBatch(ctx, baseRequest(instanceB))
	require.NoError(t, err)

	// the two claim sets partition the work: nothing shared, nothing lost.
	seen := make(map[string]bool)
	for _, item := range append(batchA.OutboxWork, batchB.OutboxWork...) {
		assert.False(t, seen[item.MessageID])
		seen[item.MessageID] = true
	}

	assert.Len(t, seen, len(ids))
}

func TestEventInsertCreatesCheckpoint(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	require.NoError(t, store.RegisterAssociations(ctx, []mmodel.MessageAssociation{{
		MessageType:     "ProductCreated",
		AssociationType: cn.AssociationPerspective,
		TargetName:      "product",
		ServiceName:     "inventory",
	}}))

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	msg := outboxMessage(id, "P1")
	msg.IsEvent = true
	req.NewOutbox = []mmodel.OutboxMessage{msg}
	req.Flags = mmodel.FlagSuppressClaim

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	events, err := store.LoadEvents(ctx, "P1", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, id, events[0].EventID)

	cp, ok := store.Checkpoint("product", "P1")
	require.True(t, ok)
	assert.Equal(t, "", cp.LastEventID)

	// the checkpoint is claimable now that an unapplied event exists.
	batch, err := store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	require.Len(t, batch.PerspectiveWork, 1)
	assert.Equal(t, "product", batch.PerspectiveWork[0].PerspectiveName)
}

func TestCheckpointMonotonicity(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	require.NoError(t, store.RegisterAssociations(ctx, []mmodel.MessageAssociation{{
		MessageType:     "ProductCreated",
		AssociationType: cn.AssociationPerspective,
		TargetName:      "product",
		ServiceName:     "inventory",
	}}))

	firstEvent := common.GenerateUUIDv7().String()
	secondEvent := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.Flags = mmodel.FlagSuppressClaim

	for _, id := range []string{firstEvent, secondEvent} {
		msg := outboxMessage(id, "P1")
		msg.IsEvent = true
		req.NewOutbox = append(req.NewOutbox, msg)
	}

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	req = baseRequest(inst)
	req.PerspectiveCompletions = []mmodel.PerspectiveCompletion{{
		PerspectiveName: "product",
		StreamID:        "P1",
		LastEventID:     secondEvent,
	}}
	req.Flags = mmodel.FlagSuppressClaim

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	cp, _ := store.Checkpoint("product", "P1")
	assert.Equal(t, secondEvent, cp.LastEventID)
	require.NotNil(t, cp.ProcessedAt)

	// a stale completion never rolls the position back.
	req = baseRequest(inst)
	req.PerspectiveCompletions = []mmodel.PerspectiveCompletion{{
		PerspectiveName: "product",
		StreamID:        "P1",
		LastEventID:     firstEvent,
	}}
	req.Flags = mmodel.FlagSuppressClaim

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	cp, _ = store.Checkpoint("product", "P1")
	assert.Equal(t, secondEvent, cp.LastEventID)
}

func TestPerspectiveFailureIsSticky(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	require.NoError(t, store.RegisterAssociations(ctx, []mmodel.MessageAssociation{{
		MessageType:     "ProductCreated",
		AssociationType: cn.AssociationPerspective,
		TargetName:      "product",
		ServiceName:     "inventory",
	}}))

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	msg := outboxMessage(id, "P1")
	msg.IsEvent = true
	req.NewOutbox = []mmodel.OutboxMessage{msg}
	req.Flags = mmodel.FlagSuppressClaim

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	req = baseRequest(inst)
	req.PerspectiveFailures = []mmodel.PerspectiveFailure{{
		PerspectiveName: "product",
		StreamID:        "P1",
		EventID:         id,
		Error:           "apply raised",
	}}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, batch.PerspectiveWork)

	// failed checkpoints are never reclaimed.
	batch, err = store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	assert.Empty(t, batch.PerspectiveWork)

	cp, _ := store.Checkpoint("product", "P1")
	assert.True(t, cp.Status.Has(cn.StatusFailed))
	assert.Equal(t, "apply raised", cp.Error)
}

func TestRequeueClearsFailure(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.NewInbox = []mmodel.InboxMessage{inboxMessage(id, "stream-s")}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)

	req = baseRequest(inst)
	req.InboxFailures = []mmodel.WorkFailure{{MessageID: id, Status: cn.StatusFailed, Error: "handler raised"}}

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	require.NoError(t, store.ResolveFailedWork(ctx, cn.SourceInbox, id, cn.ResolveRequeue))

	batch, err = store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)
	assert.Equal(t, 2, batch.InboxWork[0].Attempts)
}

func TestResolveRequiresFailedRow(t *testing.T) {
	store := NewStore()
	inst := testInstance("instance-a")
	ctx := context.TODO()

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(id, "stream-s")}
	req.Flags = mmodel.FlagSuppressClaim

	_, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	err = store.ResolveFailedWork(ctx, cn.SourceOutbox, id, cn.ResolveSkip)
	assert.ErrorIs(t, err, cn.ErrWorkNotFailed)

	err = store.ResolveFailedWork(ctx, cn.SourceOutbox, common.GenerateUUIDv7().String(), cn.ResolveSkip)
	assert.ErrorIs(t, err, cn.ErrWorkNotFound)
}

func TestRenewLeaseKeepsOwnership(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))
	inst := testInstance("instance-a")
	ctx := context.TODO()

	id := common.GenerateUUIDv7().String()

	req := baseRequest(inst)
	req.LeaseSeconds = 10
	req.NewOutbox = []mmodel.OutboxMessage{outboxMessage(id, "stream-s")}

	batch, err := store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)
	require.Len(t, batch.OutboxWork, 1)

	// renew at t+8: the lease now runs to t+18.
	clock.Advance(8 * time.Second)

	req = baseRequest(inst)
	req.LeaseSeconds = 10
	req.RenewOutboxLeaseIDs = []string{id}
	req.Flags = mmodel.FlagSuppressClaim

	_, err = store.ProcessWorkBatch(ctx, req)
	require.NoError(t, err)

	// at t+12 the original lease would have lapsed; the renewed one holds.
	clock.Advance(4 * time.Second)

	batch, err = store.ProcessWorkBatch(ctx, baseRequest(inst))
	require.NoError(t, err)
	assert.Empty(t, batch.OutboxWork)
	assert.Equal(t, inst.InstanceID, store.LeaseOwner(cn.SourceOutbox, id))
}
