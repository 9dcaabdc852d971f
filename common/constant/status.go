package constant

// WorkStatus is the bit-field shared by outbox and inbox rows.
type WorkStatus int32

const (
	// StatusPending marks a row nobody claimed yet.
	StatusPending WorkStatus = 0
	// StatusInFlight marks a row currently leased to an instance.
	StatusInFlight WorkStatus = 1 << 0
	// StatusCompleted marks terminal success on the inbox side.
	StatusCompleted WorkStatus = 1 << 1
	// StatusPublished marks terminal success on the outbox side.
	StatusPublished WorkStatus = 1 << 2
	// StatusFailed marks terminal failure; the stream cascade engages.
	StatusFailed WorkStatus = 1 << 3
	// StatusEventStored marks an inbox row whose event was appended to the event store.
	StatusEventStored WorkStatus = 1 << 4
)

// Has reports whether every bit of flag is set.
func (s WorkStatus) Has(flag WorkStatus) bool {
	return s&flag == flag
}

// IsTerminal reports whether the row reached terminal success (Completed or
// Published). A Failed row is not counted here.
func (s WorkStatus) IsTerminal() bool {
	return s.Has(StatusCompleted) || s.Has(StatusPublished)
}

// WorkSource distinguishes where a claimed row came from.
type WorkSource string

const (
	SourceOutbox      WorkSource = "outbox"
	SourceInbox       WorkSource = "inbox"
	SourcePerspective WorkSource = "perspective"
)

// AssociationPerspective links a message type to a perspective that
// materialises it; process_work_batch consults it when storing events.
const AssociationPerspective = "perspective"

// AssociationReceptor links a message type to an in-process receptor.
const AssociationReceptor = "receptor"

// Well-known message tags.
const (
	TagAudit        = "audit"
	TagNotification = "notification"
	TagMetric       = "metric"
	// TagExcludeFromAudit marks system events that must never create audit
	// records; the audit event type itself carries it.
	TagExcludeFromAudit = "exclude-from-audit"
)

// ResolveSkip and ResolveRequeue are the operator actions on a failed row.
const (
	ResolveSkip    = "skip"
	ResolveRequeue = "requeue"
)
