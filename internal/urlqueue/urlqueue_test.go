package urlqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPutTakeFIFO(t *testing.T) {
	q := New()
	q.Put("a")
	q.Put("b")

	u, ok := q.Take()
	assert.True(t, ok)
	assert.Equal(t, "a", u)

	u, ok = q.Take()
	assert.True(t, ok)
	assert.Equal(t, "b", u)
}

func TestTakeBlocksUntilPut(t *testing.T) {
	q := New()
	done := make(chan string, 1)
	go func() {
		u, ok := q.Take()
		if ok {
			done <- u
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put("x")

	select {
	case u := <-done:
		assert.Equal(t, "x", u)
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Put")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Take()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Close")
	}
}

func TestCloseDeliversQueuedItemsFirst(t *testing.T) {
	q := New()
	q.Put("a")
	q.Close()

	u, ok := q.Take()
	assert.True(t, ok)
	assert.Equal(t, "a", u)

	_, ok = q.Take()
	assert.False(t, ok)
}

func TestPutAfterCloseIsNoop(t *testing.T) {
	q := New()
	q.Close()
	q.Put("a")
	assert.Equal(t, 0, q.Len())
}
