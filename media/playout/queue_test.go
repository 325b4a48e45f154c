package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(v int16) []int16 {
	f := make([]int16, 160)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue(10)

	q.Push(frameOf(1))
	q.Push(frameOf(2))
	require.Equal(t, 2, q.Len())

	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int16(1), f[0])

	f, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, int16(2), f[0])

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestFrameQueueDropsOldestOnOverflow(t *testing.T) {
	const capacity = 25
	q := NewFrameQueue(capacity)

	for i := 0; i < capacity*3; i++ {
		q.Push(frameOf(int16(i)))
	}

	// Exactly capacity entries remain, always the most recent ones.
	require.Equal(t, capacity, q.Len())
	assert.Equal(t, uint64(capacity*2), q.Dropped())

	for i := 0; i < capacity; i++ {
		f, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, int16(capacity*2+i), f[0])
	}
}

func TestFrameQueueClear(t *testing.T) {
	q := NewFrameQueue(10)
	q.Push(frameOf(1))
	q.Push(frameOf(2))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}
