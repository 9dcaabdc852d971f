package wire

import (
	"reflect"
	"sync"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
)

// Registration binds a wire type id to everything the consumer side needs:
// a constructor for typed decoding, the handler to dispatch to, and the
// message classification.
type Registration struct {
	// TypeID is the fully-qualified wire identifier recorded on frames.
	TypeID string
	// MessageType is the logical message type name used for associations and
	// topic resolution.
	MessageType string
	// HandlerName is the inbox handler the consumer dispatches to.
	HandlerName string
	// IsEvent marks messages appended to the event store on receipt.
	IsEvent bool
	// Tags are the attribute-tags carried by the message type.
	Tags []string
	// New returns a pointer to a zero value of the payload type.
	New func() any
}

// TypeRegistry is the startup-time map from wire type id to registration.
// Unknown ids surface as serialization errors, never as panics.
type TypeRegistry struct {
	mu     sync.RWMutex
	byID   map[string]Registration
	byType map[string]Registration
	goType map[reflect.Type]Registration
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byID:   make(map[string]Registration),
		byType: make(map[string]Registration),
		goType: make(map[reflect.Type]Registration),
	}
}

// Register adds a registration; the latest one wins for a repeated id.
func (r *TypeRegistry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[reg.TypeID] = reg
	r.byType[reg.MessageType] = reg

	if reg.New != nil {
		r.goType[reflect.TypeOf(reg.New()).Elem()] = reg
	}
}

// LookupID resolves a wire type id.
func (r *TypeRegistry) LookupID(typeID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byID[typeID]
	if !ok {
		return Registration{}, common.ValidationError{
			Message: "unknown wire type id: " + typeID,
			Err:     cn.ErrUnknownWireType,
		}
	}

	return reg, nil
}

// LookupType resolves a logical message type name.
func (r *TypeRegistry) LookupType(messageType string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byType[messageType]
	if !ok {
		return Registration{}, common.ValidationError{
			Message: "unknown message type: " + messageType,
			Err:     cn.ErrUnknownWireType,
		}
	}

	return reg, nil
}

// LookupGoType resolves the registration of a payload's Go type.
func (r *TypeRegistry) LookupGoType(payload any) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := reflect.TypeOf(payload)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t != nil {
		if reg, ok := r.goType[t]; ok {
			return reg, nil
		}
	}

	return Registration{}, common.ValidationError{
		Message: "payload type is not registered",
		Err:     cn.ErrUnknownWireType,
	}
}

// HasTag reports whether the registration carries the given tag.
func (reg Registration) HasTag(tag string) bool {
	return common.Contains(reg.Tags, tag)
}
