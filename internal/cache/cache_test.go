package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Items []string `json:"items"`
}

func TestGetSetRoundTrip(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", payload{Items: []string{"a", "b"}})

	var got payload
	require.True(t, c.Get("k", &got))
	assert.Equal(t, []string{"a", "b"}, got.Items)
}

func TestDeepCopySemantics(t *testing.T) {
	c := New(time.Minute)
	original := payload{Items: []string{"a"}}
	c.Set("k", original)

	// Mutating the stored-from value must not affect the cache.
	original.Items[0] = "mutated"

	var first payload
	require.True(t, c.Get("k", &first))
	assert.Equal(t, "a", first.Items[0])

	// Mutating a read value must not affect later reads.
	first.Items[0] = "mutated"
	var second payload
	require.True(t, c.Get("k", &second))
	assert.Equal(t, "a", second.Items[0])
}

func TestExpiryOnAccess(t *testing.T) {
	c := New(50 * time.Millisecond)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", payload{Items: []string{"a"}})

	now = now.Add(time.Second)
	var got payload
	assert.False(t, c.Get("k", &got))
	// The expired entry is deleted, not just skipped.
	assert.Equal(t, 0, c.Len())
}

func TestPrune(t *testing.T) {
	c := New(50 * time.Millisecond)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", payload{})
	c.Set("b", payload{})

	now = now.Add(time.Second)
	c.Prune()
	assert.Equal(t, 0, c.Len())
}

func TestKeyHashing(t *testing.T) {
	short := Key("topic", "claim")
	assert.Equal(t, "topic\x1fclaim", short)

	long := Key("topic", strings.Repeat("x", 400))
	assert.Len(t, long, 64) // sha256 hex
	assert.Equal(t, long, Key("topic", strings.Repeat("x", 400)))
}
