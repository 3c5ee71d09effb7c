package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[[]string](0)
	defer c.Close()

	c.Set("k", []string{"a", "b"}, time.Minute)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](0)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", 42, time.Second)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Cleanup(t *testing.T) {
	c := New[int](0)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("old", 1, time.Second)
	c.Set("new", 2, time.Hour)

	now = now.Add(time.Minute)
	c.cleanup()

	assert.Equal(t, 1, c.Len())
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, GenerateKey("Election Results", "5"), GenerateKey("  election results ", "5"))
	assert.NotEqual(t, GenerateKey("ab", "c"), GenerateKey("a", "bc"))
}
