package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DeliversInOrder(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := range 100 {
		require.True(t, q.Push(i))
	}
	for i := range 100 {
		select {
		case v := <-q.C():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestQueue_PushAfterCloseIsDropped(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()
	q.Close()

	assert.False(t, q.Push("b"))
	assert.Equal(t, 0, q.Len())

	for v := range q.C() {
		assert.NotEqual(t, "b", v)
	}
}
