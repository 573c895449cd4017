package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func notifyN(f *Feed, docID string, n int) {
	for i := 0; i < n; i++ {
		f.Notify(Change{Sequence: int64(i) + 1, DocID: docID, RevID: "1-aaa"})
	}
}

func TestSinceReturnsChangesAfterCursor(t *testing.T) {
	f := New()
	notifyN(f, "a", 3)

	all := f.Since(0)
	require.Len(t, all, 3)
	require.Equal(t, int64(1), all[0].Sequence)
	require.Equal(t, int64(3), all[2].Sequence)

	tail := f.Since(2)
	require.Len(t, tail, 1)
	require.Equal(t, int64(3), tail[0].Sequence)
}

func TestSinceToleratesSequenceGaps(t *testing.T) {
	f := New()
	f.Notify(Change{Sequence: 1, DocID: "a", RevID: "1-aaa"})
	f.Notify(Change{Sequence: 4, DocID: "b", RevID: "1-bbb"})
	f.Notify(Change{Sequence: 9, DocID: "c", RevID: "1-ccc"})

	require.Equal(t, int64(9), f.LastSequence())

	tail := f.Since(1)
	require.Len(t, tail, 2)
	require.Equal(t, int64(4), tail[0].Sequence)
	require.Equal(t, int64(9), tail[1].Sequence)

	require.Empty(t, f.Since(9))
}

func TestLongPollReturnsOnceAChangeArrives(t *testing.T) {
	f := New()
	since := f.LastSequence()

	resultCh := make(chan []Change, 1)
	go func() {
		changes, err := f.LongPoll(context.Background(), since)
		require.NoError(t, err)
		resultCh <- changes
	}()

	time.Sleep(20 * time.Millisecond)
	f.Notify(Change{Sequence: 1, DocID: "doc1", RevID: "1-aaa"})

	select {
	case changes := <-resultCh:
		require.Len(t, changes, 1)
		require.Equal(t, "doc1", changes[0].DocID)
	case <-time.After(2 * time.Second):
		t.Fatal("LongPoll did not return after Notify")
	}
}

func TestLongPollRespectsContextCancellation(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.LongPoll(ctx, f.LastSequence())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCursorNextDeliversInOrderAndRespectsFilter(t *testing.T) {
	f := New()
	cur := f.Subscribe(0, ForDocument("target"))
	defer cur.Close()

	f.Notify(Change{Sequence: 1, DocID: "other", RevID: "1-aaa"})
	f.Notify(Change{Sequence: 2, DocID: "target", RevID: "1-bbb"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, ok, err := cur.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "target", c.DocID)
	require.Equal(t, int64(2), c.Sequence)
}

func TestCursorNextSkipsOverNonNotifiedSequenceGaps(t *testing.T) {
	f := New()
	cur := f.Subscribe(0, nil)
	defer cur.Close()

	f.Notify(Change{Sequence: 3, DocID: "a", RevID: "1-aaa"})
	f.Notify(Change{Sequence: 7, DocID: "b", RevID: "1-bbb"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, ok, err := cur.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), first.Sequence)

	second, ok, err := cur.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), second.Sequence)
}

func TestCloseUnblocksOutstandingCursors(t *testing.T) {
	f := New()
	cur := f.Subscribe(0, nil)

	doneCh := make(chan bool, 1)
	go func() {
		_, ok, err := cur.Next(context.Background())
		require.NoError(t, err)
		doneCh <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	f.Close()

	select {
	case ok := <-doneCh:
		require.False(t, ok, "a closed feed should report no further changes")
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestObserveReceivesChangesWithoutBlockingNotify(t *testing.T) {
	f := New()
	var mu sync.Mutex
	var received []Change
	done := make(chan struct{}, 10)

	handle := f.Observe(DefaultExecutor, nil, func(c Change) {
		mu.Lock()
		received = append(received, c)
		mu.Unlock()
		done <- struct{}{}
	})
	defer handle.Close()

	f.Notify(Change{Sequence: 1, DocID: "a", RevID: "1-aaa"})
	f.Notify(Change{Sequence: 2, DocID: "b", RevID: "1-bbb"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("observer did not receive expected deliveries")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
}

func TestObserverCoalescesPastQueueLimit(t *testing.T) {
	f := New()

	var mu sync.Mutex
	var received []Change
	allDone := make(chan struct{})

	blockFirst := make(chan struct{})
	var once sync.Once

	handle := f.Observe(DefaultExecutor, nil, func(c Change) {
		once.Do(func() { <-blockFirst })
		mu.Lock()
		received = append(received, c)
		n := len(received)
		mu.Unlock()
		if n == queueLimit+6 {
			close(allDone)
		}
	})
	defer handle.Close()

	for i := 0; i < queueLimit+5; i++ {
		f.Notify(Change{Sequence: int64(i) + 1, DocID: "a", RevID: "1-aaa"})
	}
	close(blockFirst)

	select {
	case <-allDone:
	case <-time.After(5 * time.Second):
		t.Fatal("observer never drained past the queue limit")
	}

	mu.Lock()
	defer mu.Unlock()

	sawMarker := false
	for _, c := range received {
		if c.Sequence == coalesceMarker.Sequence && c.DocID == coalesceMarker.DocID {
			sawMarker = true
		}
	}
	require.True(t, sawMarker, "expected exactly one coalesce marker once the overflow path engaged")
	require.Equal(t, queueLimit+6, len(received), "no change should be silently dropped, only deferred past a single coalesce marker")
}
