package topics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceResolverUsesDomainSegment(t *testing.T) {
	r := NamespaceResolver{}

	assert.Equal(t, "inventory", r.ResolveTopic(context.TODO(), "Acme.Inventory.ProductCreated", "base"))
}

func TestNamespaceResolverStripsCategorySuffix(t *testing.T) {
	r := NamespaceResolver{}

	assert.Equal(t, "create-product", r.ResolveTopic(context.TODO(), "Acme.Inventory.Commands.CreateProductCommand", "base"))
	assert.Equal(t, "product-created", r.ResolveTopic(context.TODO(), "Acme.Inventory.Events.ProductCreatedEvent", "base"))
}

func TestNamespaceResolverDropsGenericArity(t *testing.T) {
	r := NamespaceResolver{}

	assert.Equal(t, "inventory", r.ResolveTopic(context.TODO(), "Acme.Inventory`1.Wrapper", "base"))
}

func TestPoolSuffixResolver(t *testing.T) {
	r := PoolSuffixResolver{Suffix: "-01"}

	assert.Equal(t, "inventory-01", r.ResolveTopic(context.TODO(), "any", "inventory"))
}

func TestGenericResolverRoundRobins(t *testing.T) {
	r := &GenericResolver{Count: 2}

	assert.Equal(t, "topic-00", r.ResolveTopic(context.TODO(), "any", "topic"))
	assert.Equal(t, "topic-01", r.ResolveTopic(context.TODO(), "any", "topic"))
	assert.Equal(t, "topic-00", r.ResolveTopic(context.TODO(), "any", "topic"))
}

func TestCompositeResolverChains(t *testing.T) {
	r := CompositeResolver{Chain: []Resolver{
		NamespaceResolver{},
		PoolSuffixResolver{Suffix: "-01"},
	}}

	assert.Equal(t, "inventory-01", r.ResolveTopic(context.TODO(), "Acme.Inventory.ProductCreated", "base"))
}
