package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFailedRow(t *testing.T, store *memory.Store) string {
	t.Helper()

	inst := mmodel.NewServiceInstance("inventory")
	id := common.GenerateUUIDv7().String()

	req := &mmodel.BatchRequest{
		Instance:              inst,
		LeaseSeconds:          30,
		StaleThresholdSeconds: 30,
		BatchSize:             16,
		PartitionCount:        4,
		NewOutbox: []mmodel.OutboxMessage{{
			MessageID:    id,
			Destination:  "inventory",
			EnvelopeType: "Acme.Inventory.Events.ProductCreatedEvent",
			EnvelopeData: []byte(`{}`),
			StreamID:     "P1",
			MessageType:  "ProductCreated",
		}},
	}

	_, err := store.ProcessWorkBatch(context.TODO(), req)
	require.NoError(t, err)

	req = &mmodel.BatchRequest{
		Instance:              inst,
		LeaseSeconds:          30,
		StaleThresholdSeconds: 30,
		BatchSize:             16,
		PartitionCount:        4,
		OutboxFailures:        []mmodel.WorkFailure{{MessageID: id, Status: cn.StatusFailed, Error: "boom"}},
	}

	_, err = store.ProcessWorkBatch(context.TODO(), req)
	require.NoError(t, err)

	return id
}

func TestHealthEndpoint(t *testing.T) {
	app := NewRouter(&mlog.NoneLogger{}, memory.NewStore())

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestListFailedWork(t *testing.T) {
	store := memory.NewStore()
	id := seedFailedRow(t, store)

	app := NewRouter(&mlog.NoneLogger{}, store)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/work/failed?source=outbox", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out struct {
		Items []mmodel.WorkItem `json:"items"`
	}

	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, id, out.Items[0].MessageID)
	assert.Equal(t, "boom", out.Items[0].Error)
}

func TestSkipUnblocksRow(t *testing.T) {
	store := memory.NewStore()
	id := seedFailedRow(t, store)

	app := NewRouter(&mlog.NoneLogger{}, store)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/work/outbox/"+id+"/skip", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	status, ok := store.WorkStatus(cn.SourceOutbox, id)
	require.True(t, ok)
	assert.True(t, status.Has(cn.StatusPublished))
	assert.False(t, status.Has(cn.StatusFailed))
}

func TestRequeueRow(t *testing.T) {
	store := memory.NewStore()
	id := seedFailedRow(t, store)

	app := NewRouter(&mlog.NoneLogger{}, store)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/work/outbox/"+id+"/requeue", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	status, ok := store.WorkStatus(cn.SourceOutbox, id)
	require.True(t, ok)
	assert.False(t, status.Has(cn.StatusFailed))
}

func TestResolveUnknownRowReturns404(t *testing.T) {
	app := NewRouter(&mlog.NoneLogger{}, memory.NewStore())

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/work/outbox/"+common.GenerateUUIDv7().String()+"/skip", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestBadSourceRejected(t *testing.T) {
	app := NewRouter(&mlog.NoneLogger{}, memory.NewStore())

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/work/failed?source=weird", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
