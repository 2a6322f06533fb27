package locality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetValid(t *testing.T) {
	s := NewSet(4)
	assert.True(t, s.Valid(0))
	assert.True(t, s.Valid(3))
	assert.False(t, s.Valid(4))
	assert.False(t, s.Valid(None))
}

func TestSetAllListsEveryLocality(t *testing.T) {
	s := NewSet(3)
	assert.Equal(t, []ID{0, 1, 2}, s.All())
}

func TestNewSetRejectsNonPositive(t *testing.T) {
	assert.Panics(t, func() { NewSet(0) })
	assert.Panics(t, func() { NewSet(-1) })
}

func TestStringFormatsNoneDistinctly(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "L5", ID(5).String())
}
