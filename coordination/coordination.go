// Package coordination defines the storage contract of the work
// coordinator. Implementations must provide the process_work_batch
// semantics: one call, one transaction, ordered phases, partition and
// stream-ordering invariants.
package coordination

import (
	"context"

	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
)

// DefaultPartitionCount is the partition space used when a request does not
// set one.
const DefaultPartitionCount = 10000

// DefaultBatchSize caps the rows claimed per source on one batch call.
const DefaultBatchSize = 32

// Repository provides an interface for the atomic work-batch coordinator.
//
//go:generate mockgen --destination=mock/repository_mock.go --package=mock . Repository
type Repository interface {
	// ProcessWorkBatch performs all state transitions of one batch call
	// atomically and returns the next work to execute.
	ProcessWorkBatch(ctx context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error)

	// RegisterAssociations stores the code-generated message associations at
	// service start.
	RegisterAssociations(ctx context.Context, associations []mmodel.MessageAssociation) error

	// LoadEvents returns the events of a stream after the given event id (all
	// events when afterEventID is empty), ordered by version.
	LoadEvents(ctx context.Context, streamID, afterEventID string) ([]mmodel.Event, error)

	// ListFailedWork returns failed rows of a source for operator triage.
	ListFailedWork(ctx context.Context, source cn.WorkSource, limit int) ([]mmodel.WorkItem, error)

	// ResolveFailedWork applies an operator action on a failed row: skip
	// (Failed -> Published for outbox rows, Completed for inbox rows, with a
	// skip marker) or requeue (fresh attempt).
	ResolveFailedWork(ctx context.Context, source cn.WorkSource, messageID, action string) error
}

// Normalize applies the documented defaults to a batch request in place.
func Normalize(req *mmodel.BatchRequest) {
	if req.PartitionCount <= 0 {
		req.PartitionCount = DefaultPartitionCount
	}

	if req.BatchSize <= 0 {
		req.BatchSize = DefaultBatchSize
	}

	if req.StaleThresholdSeconds <= 0 {
		req.StaleThresholdSeconds = 30
	}
}
