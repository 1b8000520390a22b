package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBounded(t *testing.T) {
	l := NewLogger(5)

	for i := 0; i < 12; i++ {
		l.Info("entry")
	}

	snap := l.Snapshot()
	require.Len(t, snap, 5)
	// oldest retained entry is seq 7, newest is seq 11
	assert.Equal(t, uint64(7), snap[0].Seq)
	assert.Equal(t, uint64(11), snap[4].Seq)
}

func TestSeqMonotone(t *testing.T) {
	l := NewLogger(10)

	var last uint64
	for i := 0; i < 10; i++ {
		e := l.Record(TypeProcess, "step")
		if i > 0 {
			assert.Greater(t, e.Seq, last)
		}
		last = e.Seq
	}
}

func TestSubscriberReceivesLiveEntries(t *testing.T) {
	l := NewLogger(10)

	ch := l.Subscribe(4)
	defer l.Unsubscribe(ch)

	l.Error("something failed")

	select {
	case e := <-ch:
		assert.Equal(t, TypeError, e.Type)
		assert.Equal(t, "something failed", e.Message)
		assert.NotEmpty(t, e.ID)
		assert.InDelta(t, time.Now().UnixMilli(), e.Timestamp, 5000)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for signal")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewLogger(10)

	ch := l.Subscribe(1)
	defer l.Unsubscribe(ch)

	// Second record must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		l.Info("one")
		l.Info("two")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow subscriber")
	}
}

func TestSnapshotOrder(t *testing.T) {
	l := NewLogger(4)

	l.Info("a")
	l.Success("b")
	l.Process("c")

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].Message)
	assert.Equal(t, "c", snap[2].Message)
}
