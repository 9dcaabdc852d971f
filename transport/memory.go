package transport

import (
	"context"
	"sync"

	"github.com/CorventLabs/corvent/common"
)

// Bus is an in-process transport for the embedded mode and tests. Handlers
// run synchronously on the publishing goroutine; the mutex is released
// before any handler is invoked.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]DeliveryHandler
	down     bool
}

// NewBus returns an empty in-process bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]DeliveryHandler)}
}

// SetDown simulates a broker outage: publishes are refused while down.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Publish delivers the frame to every subscriber of the destination.
func (b *Bus) Publish(ctx context.Context, destination string, frame Frame) error {
	b.mu.Lock()

	if b.down {
		b.mu.Unlock()
		return common.InternalServerError{Message: "bus is down"}
	}

	handlers := make([]DeliveryHandler, len(b.handlers[destination]))
	copy(handlers, b.handlers[destination])
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, frame); err != nil {
			return err
		}
	}

	return nil
}

// Subscribe binds a handler to a destination. The subscription name is
// accepted for contract parity and ignored: the bus fans out to every
// subscriber.
func (b *Bus) Subscribe(ctx context.Context, destination, subscription string, handler DeliveryHandler) error {
	b.mu.Lock()
	b.handlers[destination] = append(b.handlers[destination], handler)
	b.mu.Unlock()

	return nil
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
