package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindNames(t *testing.T) {
	for k := Created; k <= MovedSelf; k++ {
		name := k.String()
		assert.NotEqual(t, "unknown", name)
		parsed, ok := ParseKind(name)
		assert.True(t, ok, name)
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "unknown", Kind(0).String())
	_, ok := ParseKind("exploded")
	assert.False(t, ok)
}

func TestEventPaths(t *testing.T) {
	assert.Equal(t, []string{"/a"}, NewEvent(Created, "/a", false).Paths())

	mv := NewMoveEvent("/a", "/b", true)
	assert.Equal(t, Moved, mv.Kind)
	assert.True(t, mv.IsDirectory)
	assert.Equal(t, []string{"/a", "/b"}, mv.Paths())
}
