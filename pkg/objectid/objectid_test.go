package objectid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/locality"
)

func TestNewRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		loc  locality.ID
		slot uint64
	}{
		{"locality zero", 0, 0},
		{"mid locality", 7, 12345},
		{"max slot", 3, slotMask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := New(tt.loc, tt.slot)
			assert.Equal(t, tt.loc, id.Locality())
			assert.Equal(t, tt.slot, id.Slot())
			assert.False(t, id.IsNull())
		})
	}
}

func TestNullIsDistinguishable(t *testing.T) {
	assert.True(t, Null.IsNull())
	assert.False(t, New(0, 0).IsNull())
}

func TestCounterRecyclesBeforeMinting(t *testing.T) {
	c := NewCounter(locality.ID(2))

	first := c.Next()
	second := c.Next()
	assert.NotEqual(t, first, second)

	c.Recycle(first.Slot())
	recycled := c.Next()
	assert.Equal(t, first.Slot(), recycled.Slot(), "recycled slot should be reused before minting a new one")

	third := c.Next()
	assert.NotEqual(t, second.Slot(), third.Slot())
}
