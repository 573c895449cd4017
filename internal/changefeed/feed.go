// Package changefeed implements the sequence-ordered change feed and
// observer fan-out: every committed revision is appended to an
// in-memory log that since-cursor readers (one-shot, long-poll,
// continuous) and database/per-document observers draw from.
package changefeed

import (
	"context"
	"sort"
	"sync"
)

// Change is one entry in the feed. Body is a lazily-evaluated accessor
// so a subscriber that only wants (sequence, doc_id, rev_id) — the
// common case for a replicator checkpoint — never pays for a body
// fetch it doesn't need. Sequence must be the caller's real,
// already-assigned backing-store sequence number; Notify does not
// allocate one of its own.
type Change struct {
	Sequence int64
	DocID    string
	RevID    string
	Deleted  bool
	Body     func() (map[string]interface{}, error)
}

// Filter decides whether a Change is visible to a given subscriber.
type Filter func(Change) bool

// ForDocument restricts a subscription to a single document id.
func ForDocument(docID string) Filter {
	return func(c Change) bool { return c.DocID == docID }
}

// Feed is the append-only change log for one open database. It holds no
// reference to the storage engine: Notify is called by docdb once a
// write transaction commits. changes is kept in ascending Sequence
// order, but sequence values need not be contiguous — a replication
// write can consume intermediate sequences (stub ancestors) that never
// reach the feed, so readers locate positions by Sequence value, not
// by slice index.
type Feed struct {
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	changes []Change

	subs map[*cursor]struct{}
	obs  []*observer
}

// New creates an empty feed.
func New() *Feed {
	f := &Feed{
		subs: make(map[*cursor]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Close stops delivery to every outstanding subscriber and observer.
// Further calls to Notify are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	obs := f.obs
	f.obs = nil
	f.mu.Unlock()

	f.cond.Broadcast()
	for _, o := range obs {
		o.stop()
	}
}

// Notify appends a change to the log and wakes any blocked Next/LongPoll
// callers, then schedules delivery to matching observers. It never
// blocks on an observer. The caller must set c.Sequence to the real
// backing-store sequence the write consumed; Notify trusts it as-is so
// the feed's sequence numbers always match the source of truth, even
// when some intermediate sequences (e.g. a ForceInsert's stub
// ancestors) are never notified at all.
func (f *Feed) Notify(c Change) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.changes = append(f.changes, c)
	obs := make([]*observer, len(f.obs))
	copy(obs, f.obs)
	f.mu.Unlock()

	f.cond.Broadcast()
	for _, o := range obs {
		o.deliver(c)
	}
}

// LastSequence returns the sequence of the most recently notified
// change, or 0 for an empty feed.
func (f *Feed) LastSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.changes) == 0 {
		return 0
	}
	return f.changes[len(f.changes)-1].Sequence
}

// indexAfter returns the index of the first change with Sequence >
// since, or len(changes) if there is none. changes is assumed sorted
// ascending by Sequence.
func indexAfter(changes []Change, since int64) int {
	return sort.Search(len(changes), func(i int) bool {
		return changes[i].Sequence > since
	})
}

// Since returns every change strictly after since, in ascending
// sequence order: the one-shot change-feed mode.
func (f *Feed) Since(since int64) []Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := indexAfter(f.changes, since)
	if idx >= len(f.changes) {
		return nil
	}
	out := make([]Change, len(f.changes)-idx)
	copy(out, f.changes[idx:])
	return out
}

// LongPoll blocks until at least one change after since is available,
// ctx is done, or the feed is closed, whichever comes first: the
// long-poll change-feed mode. It takes no timeout of its own; a deadline
// on ctx bounds the wait.
func (f *Feed) LongPoll(ctx context.Context, since int64) ([]Change, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		f.cond.Broadcast()
		close(done)
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for indexAfter(f.changes, since) >= len(f.changes) && !f.closed {
		select {
		case <-ctx.Done():
			f.mu.Unlock()
			<-done
			f.mu.Lock()
			return nil, ctx.Err()
		default:
		}
		f.cond.Wait()
	}
	idx := indexAfter(f.changes, since)
	out := make([]Change, len(f.changes)-idx)
	copy(out, f.changes[idx:])
	return out, nil
}

// cursor is the continuous/event-source change-feed mode: a pull-style
// reader that blocks in Next until the next change after its own
// position is appended.
type cursor struct {
	feed   *Feed
	pos    int64
	filter Filter
}

// Subscribe returns a continuous cursor positioned just after since.
// Filter may be nil to receive every change.
func (f *Feed) Subscribe(since int64, filter Filter) *cursor {
	c := &cursor{feed: f, pos: since, filter: filter}
	f.mu.Lock()
	f.subs[c] = struct{}{}
	f.mu.Unlock()
	return c
}

// Next blocks until a change matching the cursor's filter is available
// after its current position, ctx is cancelled, or the feed is closed.
func (c *cursor) Next(ctx context.Context) (Change, bool, error) {
	f := c.feed
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			f.cond.Broadcast()
		case <-stop:
		}
		close(done)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		idx := indexAfter(f.changes, c.pos)
		for idx < len(f.changes) {
			next := f.changes[idx]
			idx++
			c.pos = next.Sequence
			if c.filter == nil || c.filter(next) {
				return next, true, nil
			}
		}
		if f.closed {
			return Change{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Change{}, false, ctx.Err()
		default:
		}
		f.cond.Wait()
	}
}

// Close releases the cursor. Safe to call more than once.
func (c *cursor) Close() {
	f := c.feed
	f.mu.Lock()
	delete(f.subs, c)
	f.mu.Unlock()
}
