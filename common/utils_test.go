package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.True(t, Contains([]int{1, 2, 3}, 2))
}

func TestGenerateUUIDv7(t *testing.T) {
	u := GenerateUUIDv7()

	assert.Equal(t, uint8(7), uint8(u.Version()))
	assert.True(t, IsUUID(u.String()))
}

func TestStablePartitionIsDeterministic(t *testing.T) {
	p1 := StablePartition("stream-1", 10000)
	p2 := StablePartition("stream-1", 10000)

	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 0)
	assert.Less(t, p1, 10000)
}

func TestStablePartitionZeroCount(t *testing.T) {
	assert.Equal(t, 0, StablePartition("stream-1", 0))
}

func TestStablePartitionKnownVector(t *testing.T) {
	// first four md5 bytes of "P1" are 0x5f2b9323
	assert.Equal(t, 3, StablePartition("P1", 4))
	assert.Equal(t, 7484, StablePartition("stream-1", 10000))
}
