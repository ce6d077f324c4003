package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSet(t *testing.T) {
	s := NewStore(map[string]string{"seed": "value"})
	assert.Equal(t, "value", s.Get("seed"))
	assert.Equal(t, "", s.Get("missing"))

	s.Set("key", "with spaces inside")
	assert.Equal(t, "with spaces inside", s.Get("key"))

	s.Set("key", "overwritten")
	assert.Equal(t, "overwritten", s.Get("key"))
}

func TestMergeKeepsRuntimeBindings(t *testing.T) {
	s := NewStore(map[string]string{"a": "1"})
	s.Set("runtime", "kept")

	s.Merge(map[string]string{"a": "2", "b": "3"})
	assert.Equal(t, "2", s.Get("a"))
	assert.Equal(t, "3", s.Get("b"))
	assert.Equal(t, "kept", s.Get("runtime"))
}

func TestNilSeed(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, "", s.Get("x"))
	s.Set("x", "y")
	assert.Equal(t, "y", s.Get("x"))
}
