package mmodel

import (
	"time"

	cn "github.com/CorventLabs/corvent/common/constant"
)

// PerspectiveCheckpoint is the per-(perspective, stream) pointer to the last
// event applied to a read-model.
type PerspectiveCheckpoint struct {
	PerspectiveName string        `json:"perspectiveName"`
	StreamID        string        `json:"streamId"`
	LastEventID     string        `json:"lastEventId"`
	Status          cn.WorkStatus `json:"status"`
	LeaseOwner      string        `json:"leaseOwner,omitempty"`
	LeaseExpiresAt  *time.Time    `json:"leaseExpiresAt,omitempty"`
	ProcessedAt     *time.Time    `json:"processedAt,omitempty"`
	Error           string        `json:"error,omitempty"`
}
