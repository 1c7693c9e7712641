package matchmaking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcasterNoListeners(t *testing.T) {
	b := NewBroadcaster[bool]("create")
	assert.NotPanics(t, func() { b.Broadcast(true) })
	assert.Equal(t, 0, b.Len())
}

func TestBroadcasterOrderAndRemove(t *testing.T) {
	b := NewBroadcaster[int]("find")
	var got []string
	id := b.AddListener(func(v int) { got = append(got, "a") })
	b.AddListener(func(v int) { got = append(got, "b") })
	b.Broadcast(1)
	assert.Equal(t, []string{"a", "b"}, got)

	assert.True(t, b.RemoveListener(id))
	assert.False(t, b.RemoveListener(id))
	got = nil
	b.Broadcast(2)
	assert.Equal(t, []string{"b"}, got)
}

func TestBroadcasterRecoversPanic(t *testing.T) {
	b := NewBroadcaster[string]("join")
	var got []string
	b.AddListener(func(v string) { panic("listener failure") })
	b.AddListener(func(v string) { got = append(got, v) })
	assert.NotPanics(t, func() { b.Broadcast("ok") })
	assert.Equal(t, []string{"ok"}, got)
}
