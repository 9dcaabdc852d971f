package constant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusBitValues(t *testing.T) {
	assert.Equal(t, WorkStatus(1), StatusInFlight)
	assert.Equal(t, WorkStatus(2), StatusCompleted)
	assert.Equal(t, WorkStatus(4), StatusPublished)
	assert.Equal(t, WorkStatus(8), StatusFailed)
	assert.Equal(t, WorkStatus(16), StatusEventStored)
}

func TestStatusHas(t *testing.T) {
	s := StatusInFlight | StatusEventStored

	assert.True(t, s.Has(StatusInFlight))
	assert.True(t, s.Has(StatusEventStored))
	assert.False(t, s.Has(StatusFailed))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, (StatusCompleted | StatusEventStored).IsTerminal())
	assert.True(t, StatusPublished.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusInFlight.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}
