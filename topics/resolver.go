// Package topics maps message types onto transport destinations. Strategies
// are deterministic and composable.
package topics

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/iancoleman/strcase"
)

// Resolver turns a message type and a base topic into a concrete
// destination.
type Resolver interface {
	ResolveTopic(ctx context.Context, messageType, baseTopic string) string
}

// categorySegments are namespace tails that name a category rather than a
// domain; for these the topic derives from the type name instead.
var categorySegments = map[string]struct{}{
	"Commands": {},
	"Events":   {},
	"Messages": {},
	"Queries":  {},
}

// typeSuffixes are stripped from type names when the namespace tail is a
// category segment.
var typeSuffixes = []string{"Command", "Event", "Message", "Query"}

// NamespaceResolver derives the topic from the message type's namespace:
// the last non-generic segment, lowercased. When the namespace ends in a
// category segment (Commands, Events, Messages, Queries) the type name with
// its recognised suffix stripped is used instead.
type NamespaceResolver struct{}

// ResolveTopic implements Resolver.
func (NamespaceResolver) ResolveTopic(ctx context.Context, messageType, baseTopic string) string {
	segments := strings.Split(messageType, ".")
	if len(segments) < 2 {
		return strings.ToLower(stripGeneric(messageType))
	}

	typeName := segments[len(segments)-1]
	nsTail := stripGeneric(segments[len(segments)-2])

	if _, ok := categorySegments[nsTail]; ok {
		for _, suffix := range typeSuffixes {
			if strings.HasSuffix(typeName, suffix) && len(typeName) > len(suffix) {
				typeName = strings.TrimSuffix(typeName, suffix)
				break
			}
		}

		return strcase.ToKebab(typeName)
	}

	return strings.ToLower(nsTail)
}

// stripGeneric drops a generic-arity marker like "Receptor`2".
func stripGeneric(segment string) string {
	if i := strings.IndexAny(segment, "`["); i >= 0 {
		return segment[:i]
	}

	return segment
}

// PoolSuffixResolver appends a fixed pool suffix (e.g. "-01") for horizontal
// partitioning of topics.
type PoolSuffixResolver struct {
	Suffix string
}

// ResolveTopic implements Resolver.
func (r PoolSuffixResolver) ResolveTopic(ctx context.Context, messageType, baseTopic string) string {
	return baseTopic + r.Suffix
}

// GenericResolver round-robins over a fixed topic count (topic-00,
// topic-01, ...) for broker-compatibility testing.
type GenericResolver struct {
	Count   int
	counter atomic.Uint64
}

// ResolveTopic implements Resolver.
func (r *GenericResolver) ResolveTopic(ctx context.Context, messageType, baseTopic string) string {
	count := r.Count
	if count <= 0 {
		count = 1
	}

	n := (r.counter.Add(1) - 1) % uint64(count)

	return fmt.Sprintf("%s-%02d", baseTopic, n)
}

// CompositeResolver chains resolvers, feeding each result to the next as
// the base topic.
type CompositeResolver struct {
	Chain []Resolver
}

// ResolveTopic implements Resolver.
func (r CompositeResolver) ResolveTopic(ctx context.Context, messageType, baseTopic string) string {
	topic := baseTopic

	for _, resolver := range r.Chain {
		topic = resolver.ResolveTopic(ctx, messageType, topic)
	}

	return topic
}

// StaticResolver always returns the configured destination.
type StaticResolver struct {
	Topic string
}

// ResolveTopic implements Resolver.
func (r StaticResolver) ResolveTopic(ctx context.Context, messageType, baseTopic string) string {
	return r.Topic
}
