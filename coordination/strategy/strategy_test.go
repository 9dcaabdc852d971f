package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testConfig() Config {
	return Config{
		Instance:              mmodel.NewServiceInstance("inventory"),
		LeaseSeconds:          30,
		StaleThresholdSeconds: 30,
		BatchSize:             16,
		PartitionCount:        4,
	}
}

func TestManualFlushIsOneBatchCall(t *testing.T) {
	repo := mock.NewMockRepository(gomock.NewController(t))
	strat := NewManual(repo, testConfig())

	ctx := context.TODO()

	require.NoError(t, strat.QueueOutboxMessage(ctx, mmodel.OutboxMessage{MessageID: "m-1", StreamID: "s"}))
	require.NoError(t, strat.QueueOutboxCompletion(ctx, "m-0", cn.StatusPublished))
	require.NoError(t, strat.QueueInboxFailure(ctx, "m-9", cn.StatusFailed, "boom"))

	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
			assert.Len(t, req.NewOutbox, 1)
			assert.Len(t, req.OutboxCompletions, 1)
			assert.Len(t, req.InboxFailures, 1)
			assert.Equal(t, 30, req.LeaseSeconds)

			return &mmodel.WorkBatch{}, nil
		}).
		Times(1)

	batch, err := strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
	assert.True(t, batch.IsEmpty())

	// the queue drained: a second flush sends an empty request.
	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
			assert.False(t, req.HasWork())

			return &mmodel.WorkBatch{}, nil
		}).
		Times(1)

	_, err = strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
}

func TestFlushErrorRestoresQueue(t *testing.T) {
	repo := mock.NewMockRepository(gomock.NewController(t))
	strat := NewManual(repo, testConfig())

	ctx := context.TODO()

	require.NoError(t, strat.QueueOutboxMessage(ctx, mmodel.OutboxMessage{MessageID: "m-1", StreamID: "s"}))

	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("db down")).
		Times(1)

	_, err := strat.Flush(ctx, mmodel.FlagNone)
	require.Error(t, err)

	// the queued message survived the failed flush.
	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
			assert.Len(t, req.NewOutbox, 1)
			assert.Equal(t, "m-1", req.NewOutbox[0].MessageID)

			return &mmodel.WorkBatch{}, nil
		}).
		Times(1)

	_, err = strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
}

func TestConcurrentFlushReturnsEmptyBatch(t *testing.T) {
	repo := mock.NewMockRepository(gomock.NewController(t))
	strat := NewManual(repo, testConfig())

	ctx := context.TODO()

	entered := make(chan struct{})
	release := make(chan struct{})

	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
			close(entered)
			<-release

			return &mmodel.WorkBatch{OutboxWork: []mmodel.WorkItem{{MessageID: "m-1"}}}, nil
		}).
		Times(1)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		batch, err := strat.Flush(ctx, mmodel.FlagNone)
		assert.NoError(t, err)
		assert.Len(t, batch.OutboxWork, 1)
	}()

	<-entered

	// the loser returns an empty batch without blocking.
	batch, err := strat.Flush(ctx, mmodel.FlagNone)
	require.NoError(t, err)
	assert.True(t, batch.IsEmpty())

	close(release)
	wg.Wait()
}

func TestImmediateFlushesOnQueue(t *testing.T) {
	repo := mock.NewMockRepository(gomock.NewController(t))
	strat := NewImmediate(repo, testConfig())

	ctx := context.TODO()

	repo.EXPECT().
		ProcessWorkBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
			assert.Len(t, req.NewOutbox, 1)
			assert.Equal(t, mmodel.FlagSuppressClaim, req.Flags)

			return &mmodel.WorkBatch{}, nil
		}).
		Times(1)

	require.NoError(t, strat.QueueOutboxMessage(ctx, mmodel.OutboxMessage{MessageID: "m-1", StreamID: "s"}))
}
