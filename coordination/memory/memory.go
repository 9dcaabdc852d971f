// Package memory implements the coordination contract in process memory.
// It backs the embedded (infrastructure-free) mode and the contract tests;
// the semantics mirror the process_work_batch SQL function phase by phase.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
)

type row struct {
	messageID    string
	destination  string
	envelopeType string
	envelopeData []byte
	streamID     string
	partition    int
	status       cn.WorkStatus
	attempts     int
	errText      string
	leaseOwner   string
	leaseExpires time.Time
	sequence     int64
	isEvent      bool
	messageType  string
	handlerName  string
}

type checkpoint struct {
	perspectiveName string
	streamID        string
	lastEventID     string
	status          cn.WorkStatus
	leaseOwner      string
	leaseExpires    time.Time
	processedAt     time.Time
	errText         string
	updatedAt       time.Time
	updatedSeq      int64
}

// Store is an in-memory coordinator. All state is guarded by one mutex; the
// mutex is never held across I/O because the store performs none.
type Store struct {
	mu sync.Mutex

	clock func() time.Time

	outbox    map[string]*row
	outboxSeq int64
	inbox     map[string]*row
	inboxSeq  int64

	events       []mmodel.Event
	eventIDs     map[string]struct{}
	eventSeq     int64
	checkpoints  map[string]*checkpoint
	checkpointTk int64

	associations map[string][]mmodel.MessageAssociation
	instances    map[string]mmodel.ServiceInstance
	activeStream map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for deterministic lease tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns an empty in-memory coordinator.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:        time.Now,
		outbox:       make(map[string]*row),
		inbox:        make(map[string]*row),
		eventIDs:     make(map[string]struct{}),
		checkpoints:  make(map[string]*checkpoint),
		associations: make(map[string][]mmodel.MessageAssociation),
		instances:    make(map[string]mmodel.ServiceInstance),
		activeStream: make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func checkpointKey(perspective, stream string) string {
	return perspective + "|" + stream
}

// ProcessWorkBatch performs all state transitions of one batch call.
func (s *Store) ProcessWorkBatch(ctx context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coordination.Normalize(req)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	leaseUntil := now.Add(time.Duration(max(req.LeaseSeconds, 0)) * time.Second)

	// Phase 1: heartbeat.
	inst := req.Instance
	inst.LastHeartbeatAt = now
	s.instances[inst.InstanceID] = inst

	// Phase 2: completions.
	s.resolveCompletions(s.outbox, req.OutboxCompletions, now)
	s.resolveCompletions(s.inbox, append(append([]mmodel.WorkCompletion{}, req.InboxCompletions...), req.ReceptorCompletions...), now)
	s.resolvePerspectiveCompletions(req.PerspectiveCompletions, now)
	s.sweepActiveStreams(inst.InstanceID)

	// Phase 3: failures.
	s.resolveFailures(s.outbox, req.OutboxFailures, now)
	s.resolveFailures(s.inbox, append(append([]mmodel.WorkFailure{}, req.InboxFailures...), req.ReceptorFailures...), now)
	s.resolvePerspectiveFailures(req.PerspectiveFailures, now)

	// Phase 4: recover expired leases.
	s.recoverExpired(s.outbox, now)
	s.recoverExpired(s.inbox, now)

	for _, cp := range s.checkpoints {
		if cp.status.Has(cn.StatusInFlight) && cp.leaseExpires.Before(now) {
			cp.status &^= cn.StatusInFlight
			cp.leaseOwner = ""
			cp.leaseExpires = time.Time{}
		}
	}

	// Phase 5: renew leases still owned by the caller.
	s.renewLeases(s.outbox, req.RenewOutboxLeaseIDs, inst.InstanceID, leaseUntil)
	s.renewLeases(s.inbox, req.RenewInboxLeaseIDs, inst.InstanceID, leaseUntil)

	// Phase 6: insert new rows; events append to the store; phase 7:
	// associations create checkpoints.
	for _, m := range req.NewOutbox {
		if _, ok := s.outbox[m.MessageID]; ok {
			continue
		}

		s.outboxSeq++
		s.outbox[m.MessageID] = &row{
			messageID:    m.MessageID,
			destination:  m.Destination,
			envelopeType: m.EnvelopeType,
			envelopeData: m.EnvelopeData,
			streamID:     m.StreamID,
			partition:    common.StablePartition(m.StreamID, req.PartitionCount),
			sequence:     s.outboxSeq,
			isEvent:      m.IsEvent,
			messageType:  m.MessageType,
		}

		if m.IsEvent {
			s.appendEvent(m.MessageID, m.StreamID, m.MessageType, m.EnvelopeData, now)
		}
	}

	for _, m := range req.NewInbox {
		if _, ok := s.inbox[m.MessageID]; ok {
			continue
		}

		s.inboxSeq++

		status := cn.StatusPending
		if m.IsEvent {
			status = cn.StatusEventStored
		}

		s.inbox[m.MessageID] = &row{
			messageID:    m.MessageID,
			envelopeType: m.EnvelopeType,
			envelopeData: m.EnvelopeData,
			streamID:     m.StreamID,
			partition:    common.StablePartition(m.StreamID, req.PartitionCount),
			status:       status,
			sequence:     s.inboxSeq,
			isEvent:      m.IsEvent,
			messageType:  m.MessageType,
			handlerName:  m.HandlerName,
		}

		if m.IsEvent {
			s.appendEvent(m.MessageID, m.StreamID, m.MessageType, m.EnvelopeData, now)
		}
	}

	// Phase 8: partition assignment over the live instance set.
	live := s.liveInstances(inst.ServiceName, now, req.StaleThresholdSeconds)

	k := len(live)
	idx := -1

	for i, id := range live {
		if id == inst.InstanceID {
			idx = i
			break
		}
	}

	batch := &mmodel.WorkBatch{}

	if k == 0 || idx < 0 || req.Flags&mmodel.FlagSuppressClaim != 0 {
		return batch, nil
	}

	ownsPartition := func(p int) bool {
		if p%k != idx {
			return false
		}

		return req.MaxPartitionsPerInstance <= 0 || p/k < req.MaxPartitionsPerInstance
	}

	// Phase 9: claim, ordered by sequence, one row per stream, never past an
	// in-flight or failed row. Claim flags restrict which sources this
	// caller drains.
	if req.Flags.ClaimsOutbox() {
		batch.OutboxWork = s.claim(s.outbox, cn.SourceOutbox, ownsPartition, req.BatchSize, inst.InstanceID, leaseUntil)
	}

	if req.Flags.ClaimsInbox() {
		batch.InboxWork = s.claim(s.inbox, cn.SourceInbox, ownsPartition, req.BatchSize, inst.InstanceID, leaseUntil)
	}

	if req.Flags.ClaimsPerspective() {
		batch.PerspectiveWork = s.claimCheckpoints(ownsPartition, req.PartitionCount, req.BatchSize, inst.InstanceID, leaseUntil)
	}

	return batch, nil
}

func (s *Store) resolveCompletions(rows map[string]*row, completions []mmodel.WorkCompletion, now time.Time) {
	for _, c := range completions {
		r, ok := rows[c.MessageID]
		if !ok || r.status.IsTerminal() {
			continue
		}

		r.status = (r.status &^ cn.StatusInFlight) | c.Status
		r.leaseOwner = ""
		r.leaseExpires = time.Time{}
		r.errText = ""
	}
}

func (s *Store) resolveFailures(rows map[string]*row, failures []mmodel.WorkFailure, now time.Time) {
	for _, f := range failures {
		r, ok := rows[f.MessageID]
		if !ok || r.status.IsTerminal() {
			continue
		}

		r.status = (r.status &^ cn.StatusInFlight) | cn.StatusFailed
		r.leaseOwner = ""
		r.leaseExpires = time.Time{}
		r.errText = f.Error
	}
}

func (s *Store) resolvePerspectiveCompletions(completions []mmodel.PerspectiveCompletion, now time.Time) {
	for _, c := range completions {
		cp, ok := s.checkpoints[checkpointKey(c.PerspectiveName, c.StreamID)]
		if !ok {
			continue
		}

		cp.status = cn.StatusPending
		cp.leaseOwner = ""
		cp.leaseExpires = time.Time{}
		cp.processedAt = now
		cp.errText = ""

		if c.LastEventID != "" && strings.Compare(c.LastEventID, cp.lastEventID) > 0 {
			cp.lastEventID = c.LastEventID
		}

		s.touchCheckpoint(cp, now)
	}
}

func (s *Store) resolvePerspectiveFailures(failures []mmodel.PerspectiveFailure, now time.Time) {
	for _, f := range failures {
		cp, ok := s.checkpoints[checkpointKey(f.PerspectiveName, f.StreamID)]
		if !ok {
			continue
		}

		cp.status = cn.StatusFailed
		cp.leaseOwner = ""
		cp.leaseExpires = time.Time{}
		cp.errText = f.Error

		s.touchCheckpoint(cp, now)
	}
}

func (s *Store) recoverExpired(rows map[string]*row, now time.Time) {
	for _, r := range rows {
		if r.status.Has(cn.StatusInFlight) && r.leaseExpires.Before(now) {
			r.status &^= cn.StatusInFlight
			r.leaseOwner = ""
			r.leaseExpires = time.Time{}
		}
	}
}

func (s *Store) renewLeases(rows map[string]*row, ids []string, instanceID string, until time.Time) {
	for _, id := range ids {
		if r, ok := rows[id]; ok && r.leaseOwner == instanceID {
			r.leaseExpires = until
		}
	}
}

func (s *Store) sweepActiveStreams(instanceID string) {
	for stream, owner := range s.activeStream {
		if owner != instanceID {
			continue
		}

		open := false

		for _, r := range s.outbox {
			if r.streamID == stream && !r.status.IsTerminal() {
				open = true
				break
			}
		}

		if !open {
			for _, r := range s.inbox {
				if r.streamID == stream && !r.status.IsTerminal() {
					open = true
					break
				}
			}
		}

		if !open {
			delete(s.activeStream, stream)
		}
	}
}

func (s *Store) appendEvent(eventID, streamID, eventType string, data []byte, now time.Time) {
	if _, ok := s.eventIDs[eventID]; ok {
		return
	}

	version := 0

	for _, e := range s.events {
		if e.StreamID == streamID && e.Version > version {
			version = e.Version
		}
	}

	s.eventSeq++
	s.eventIDs[eventID] = struct{}{}
	s.events = append(s.events, mmodel.Event{
		EventID:        eventID,
		StreamID:       streamID,
		Version:        version + 1,
		EventType:      eventType,
		EventData:      data,
		SequenceNumber: s.eventSeq,
		OccurredAt:     now,
	})

	for _, a := range s.associations[eventType] {
		if a.AssociationType != cn.AssociationPerspective {
			continue
		}

		key := checkpointKey(a.TargetName, streamID)
		if cp, ok := s.checkpoints[key]; ok {
			s.touchCheckpoint(cp, now)
			continue
		}

		cp := &checkpoint{
			perspectiveName: a.TargetName,
			streamID:        streamID,
		}
		s.checkpoints[key] = cp
		s.touchCheckpoint(cp, now)
	}
}

func (s *Store) touchCheckpoint(cp *checkpoint, now time.Time) {
	s.checkpointTk++
	cp.updatedAt = now
	cp.updatedSeq = s.checkpointTk
}

func (s *Store) liveInstances(serviceName string, now time.Time, staleSeconds int) []string {
	threshold := now.Add(-time.Duration(staleSeconds) * time.Second)

	var live []string

	for _, inst := range s.instances {
		if inst.ServiceName == serviceName && !inst.LastHeartbeatAt.Before(threshold) {
			live = append(live, inst.InstanceID)
		}
	}

	sort.Strings(live)

	return live
}

// claim picks, per stream, the earliest non-terminal row, provided it is
// pending and its partition belongs to the caller. A failed or in-flight
// head blocks the whole stream (the failure cascade).
func (s *Store) claim(rows map[string]*row, source cn.WorkSource, owns func(int) bool, batchSize int, instanceID string, leaseUntil time.Time) []mmodel.WorkItem {
	heads := make(map[string]*row)

	for _, r := range rows {
		if r.status.IsTerminal() {
			continue
		}

		head, ok := heads[r.streamID]
		if !ok || r.sequence < head.sequence {
			heads[r.streamID] = r
		}
	}

	var candidates []*row

	for _, head := range heads {
		if head.status.Has(cn.StatusInFlight) || head.status.Has(cn.StatusFailed) {
			continue
		}

		if !owns(head.partition) {
			continue
		}

		candidates = append(candidates, head)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sequence < candidates[j].sequence
	})

	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	items := make([]mmodel.WorkItem, 0, len(candidates))

	for _, r := range candidates {
		r.status |= cn.StatusInFlight
		r.attempts++
		r.leaseOwner = instanceID
		r.leaseExpires = leaseUntil

		s.activeStream[r.streamID] = instanceID

		items = append(items, mmodel.WorkItem{
			Source:          source,
			MessageID:       r.messageID,
			Destination:     r.destination,
			EnvelopeType:    r.envelopeType,
			EnvelopeData:    r.envelopeData,
			StreamID:        r.streamID,
			PartitionNumber: r.partition,
			Attempts:        r.attempts,
			Status:          r.status,
			MessageType:     r.messageType,
			IsEvent:         r.isEvent,
			HandlerName:     r.handlerName,
			SequenceOrder:   r.sequence,
			Error:           r.errText,
		})
	}

	return items
}

func (s *Store) claimCheckpoints(owns func(int) bool, partitionCount, batchSize int, instanceID string, leaseUntil time.Time) []mmodel.WorkItem {
	var candidates []*checkpoint

	for _, cp := range s.checkpoints {
		if cp.status.Has(cn.StatusInFlight) || cp.status.Has(cn.StatusFailed) {
			continue
		}

		if !owns(common.StablePartition(cp.streamID, partitionCount)) {
			continue
		}

		if !s.hasEventsAfter(cp.streamID, cp.lastEventID) {
			continue
		}

		candidates = append(candidates, cp)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].updatedSeq < candidates[j].updatedSeq
	})

	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	items := make([]mmodel.WorkItem, 0, len(candidates))

	for _, cp := range candidates {
		cp.status |= cn.StatusInFlight
		cp.leaseOwner = instanceID
		cp.leaseExpires = leaseUntil

		items = append(items, mmodel.WorkItem{
			Source:          cn.SourcePerspective,
			StreamID:        cp.streamID,
			PartitionNumber: common.StablePartition(cp.streamID, partitionCount),
			Status:          cp.status,
			PerspectiveName: cp.perspectiveName,
			LastEventID:     cp.lastEventID,
			Error:           cp.errText,
		})
	}

	return items
}

func (s *Store) hasEventsAfter(streamID, afterEventID string) bool {
	for _, e := range s.events {
		if e.StreamID == streamID && (afterEventID == "" || strings.Compare(e.EventID, afterEventID) > 0) {
			return true
		}
	}

	return false
}

// RegisterAssociations stores code-generated message associations.
func (s *Store) RegisterAssociations(ctx context.Context, associations []mmodel.MessageAssociation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range associations {
		existing := s.associations[a.MessageType]

		replaced := false

		for i, e := range existing {
			if e.AssociationType == a.AssociationType && e.TargetName == a.TargetName {
				existing[i] = a
				replaced = true

				break
			}
		}

		if !replaced {
			s.associations[a.MessageType] = append(existing, a)
		}
	}

	return nil
}

// LoadEvents returns the events of a stream after the given event id,
// ordered by version.
func (s *Store) LoadEvents(ctx context.Context, streamID, afterEventID string) ([]mmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []mmodel.Event

	for _, e := range s.events {
		if e.StreamID != streamID {
			continue
		}

		if afterEventID != "" && strings.Compare(e.EventID, afterEventID) <= 0 {
			continue
		}

		events = append(events, e)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Version < events[j].Version
	})

	return events, nil
}

// ListFailedWork returns failed rows of a source for operator triage.
func (s *Store) ListFailedWork(ctx context.Context, source cn.WorkSource, limit int) ([]mmodel.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	rows := s.outbox
	if source == cn.SourceInbox {
		rows = s.inbox
	}

	var items []mmodel.WorkItem

	for _, r := range rows {
		if !r.status.Has(cn.StatusFailed) {
			continue
		}

		items = append(items, mmodel.WorkItem{
			Source:          source,
			MessageID:       r.messageID,
			EnvelopeType:    r.envelopeType,
			StreamID:        r.streamID,
			PartitionNumber: r.partition,
			Attempts:        r.attempts,
			Status:          r.status,
			MessageType:     r.messageType,
			SequenceOrder:   r.sequence,
			Error:           r.errText,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].SequenceOrder < items[j].SequenceOrder
	})

	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// ResolveFailedWork applies an operator skip or requeue on a failed row.
func (s *Store) ResolveFailedWork(ctx context.Context, source cn.WorkSource, messageID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.outbox
	terminal := cn.StatusPublished

	if source == cn.SourceInbox {
		rows = s.inbox
		terminal = cn.StatusCompleted
	}

	r, ok := rows[messageID]
	if !ok {
		return common.WrapEntityNotFoundError(string(source), cn.ErrWorkNotFound)
	}

	if !r.status.Has(cn.StatusFailed) {
		return cn.ErrWorkNotFailed
	}

	switch action {
	case cn.ResolveSkip:
		r.status = (r.status &^ (cn.StatusFailed | cn.StatusInFlight)) | terminal
		r.errText = "skipped by operator"
	case cn.ResolveRequeue:
		r.status &^= cn.StatusFailed | cn.StatusInFlight
		r.errText = ""
		r.leaseOwner = ""
		r.leaseExpires = time.Time{}
	default:
		return common.ValidationError{Message: "unknown resolve action: " + action}
	}

	return nil
}

// Checkpoint returns a copy of the checkpoint row, for inspection.
func (s *Store) Checkpoint(perspectiveName, streamID string) (mmodel.PerspectiveCheckpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointKey(perspectiveName, streamID)]
	if !ok {
		return mmodel.PerspectiveCheckpoint{}, false
	}

	out := mmodel.PerspectiveCheckpoint{
		PerspectiveName: cp.perspectiveName,
		StreamID:        cp.streamID,
		LastEventID:     cp.lastEventID,
		Status:          cp.status,
		LeaseOwner:      cp.leaseOwner,
		Error:           cp.errText,
	}

	if !cp.leaseExpires.IsZero() {
		t := cp.leaseExpires
		out.LeaseExpiresAt = &t
	}

	if !cp.processedAt.IsZero() {
		t := cp.processedAt
		out.ProcessedAt = &t
	}

	return out, true
}

// WorkStatus returns the status bits of an outbox or inbox row.
func (s *Store) WorkStatus(source cn.WorkSource, messageID string) (cn.WorkStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.outbox
	if source == cn.SourceInbox {
		rows = s.inbox
	}

	r, ok := rows[messageID]
	if !ok {
		return cn.StatusPending, false
	}

	return r.status, true
}

// LeaseOwner returns the owning instance of a row, if any.
func (s *Store) LeaseOwner(source cn.WorkSource, messageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.outbox
	if source == cn.SourceInbox {
		rows = s.inbox
	}

	if r, ok := rows[messageID]; ok {
		return r.leaseOwner
	}

	return ""
}
