package dispatch

import (
	"context"

	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/wire"
)

// RequestScope is the explicit per-message scope threaded through handler
// calls: logger, strategy, codec and the envelope being handled.
type RequestScope struct {
	Logger   mlog.Logger
	Strategy strategy.Strategy
	Codec    wire.Codec
	Instance mmodel.ServiceInstance
	Envelope *mmodel.MessageEnvelope
}

type scopeContextKey struct{}

// ContextWithScope returns a context carrying the request scope.
func ContextWithScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the request scope, or nil outside a handler.
func ScopeFromContext(ctx context.Context) *RequestScope {
	if scope, ok := ctx.Value(scopeContextKey{}).(*RequestScope); ok {
		return scope
	}

	return nil
}
