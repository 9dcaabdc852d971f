package constant

import "errors"

var (
	// ErrStreamBlocked indicates a stream has a failed row blocking later work.
	ErrStreamBlocked = errors.New("0001 - Stream has a failed message blocking later work")
	// ErrLeaseLost indicates a lease expired before its owner reported completion.
	ErrLeaseLost = errors.New("0002 - Lease expired before completion was reported")
	// ErrUnknownWireType indicates the envelope carried a type id no decoder is registered for.
	ErrUnknownWireType = errors.New("0003 - Unknown wire type id")
	// ErrMalformedEnvelope indicates the transport frame could not be decoded.
	ErrMalformedEnvelope = errors.New("0004 - Malformed envelope frame")
	// ErrNoReceptor indicates no in-process receptor is registered for the message type.
	ErrNoReceptor = errors.New("0005 - No receptor registered for message type")
	// ErrRemoteInvoke indicates LocalInvoke was used with a remote-only registration.
	ErrRemoteInvoke = errors.New("0006 - LocalInvoke requires an in-process receptor")
	// ErrFlushInProgress indicates a concurrent flush already owns the strategy.
	ErrFlushInProgress = errors.New("0007 - Flush already in progress")
	// ErrWorkNotFound indicates the referenced outbox/inbox row does not exist.
	ErrWorkNotFound = errors.New("0008 - Work row not found")
	// ErrWorkNotFailed indicates a resolve action was attempted on a non-failed row.
	ErrWorkNotFailed = errors.New("0009 - Work row is not in a failed state")
	// ErrPerspectiveNotRegistered indicates no Apply function exists for the perspective name.
	ErrPerspectiveNotRegistered = errors.New("0010 - Perspective is not registered")
	// ErrTransportNotReady indicates the transport refused the publish attempt.
	ErrTransportNotReady = errors.New("0011 - Transport is not ready")
)
