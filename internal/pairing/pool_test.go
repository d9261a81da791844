package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oggyb/anon-relay/internal/session"
)

func TestPoolFIFO(t *testing.T) {
	p := NewPool()

	_, ok := p.PopOrPush(1)
	assert.False(t, ok)
	assert.True(t, p.Push(2))
	assert.False(t, p.Push(2), "no duplicates")
	assert.True(t, p.Push(3))

	peer, ok := p.PopOrPush(4)
	assert.True(t, ok)
	assert.Equal(t, session.UserID(1), peer)
	assert.Equal(t, []session.UserID{2, 3}, p.Snapshot())

	assert.True(t, p.PushFront(1))
	assert.Equal(t, []session.UserID{1, 2, 3}, p.Snapshot())

	assert.True(t, p.Remove(2))
	assert.False(t, p.Remove(2))
	assert.Equal(t, 2, p.Len())
}

func TestPoolSkipsSelf(t *testing.T) {
	p := NewPool()
	p.Restore([]session.UserID{7, 8})

	peer, ok := p.PopOrPush(7)
	assert.True(t, ok)
	assert.Equal(t, session.UserID(8), peer)
	assert.Zero(t, p.Len())

	p.Restore([]session.UserID{7})
	_, ok = p.PopOrPush(7)
	assert.False(t, ok)
	assert.Equal(t, []session.UserID{7}, p.Snapshot())
}

func TestPoolRestoreDropsDuplicates(t *testing.T) {
	p := NewPool()
	p.Push(99)
	p.Restore([]session.UserID{3, 1, 3, 2})
	assert.Equal(t, []session.UserID{3, 1, 2}, p.Snapshot())
	assert.False(t, p.Contains(99))
}
