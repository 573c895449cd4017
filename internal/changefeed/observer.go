package changefeed

import "sync"

// queueLimit is the per-observer backlog size before delivery starts
// coalescing. It is fixed at compile time; the
// changes.observer-queue-limit configuration key is not read here.
const queueLimit = 1000

// Executor schedules an observer's drain loop, which delivers every
// queued change in order. The default is a bare goroutine per drain run;
// callers that want bounded concurrency (e.g. a worker pool shared
// across many observers) supply their own.
type Executor interface {
	Go(func())
}

type goExecutor struct{}

func (goExecutor) Go(fn func()) { go fn() }

// DefaultExecutor runs each scheduled drain loop on its own goroutine.
var DefaultExecutor Executor = goExecutor{}

// ObserverHandle lets a caller stop receiving deliveries.
type ObserverHandle struct {
	o *observer
}

// Close unregisters the observer. Safe to call more than once.
func (h *ObserverHandle) Close() {
	h.o.stop()
}

type observer struct {
	feed     *Feed
	exec     Executor
	filter   Filter
	onChange func(Change)

	mu         sync.Mutex
	queue      []Change
	overflow   []Change
	coalescing bool
	draining   bool
	stopped    bool
}

// Observe registers a callback invoked for every change (optionally
// narrowed by filter) on exec, without blocking the writer that called
// Notify.
func (f *Feed) Observe(exec Executor, filter Filter, onChange func(Change)) *ObserverHandle {
	if exec == nil {
		exec = DefaultExecutor
	}
	o := &observer{feed: f, exec: exec, filter: filter, onChange: onChange}
	f.mu.Lock()
	f.obs = append(f.obs, o)
	f.mu.Unlock()
	return &ObserverHandle{o: o}
}

// ObserveDocument registers a callback for changes to a single document
// id.
func (f *Feed) ObserveDocument(exec Executor, docID string, onChange func(Change)) *ObserverHandle {
	return f.Observe(exec, ForDocument(docID), onChange)
}

func (o *observer) deliver(c Change) {
	if o.filter != nil && !o.filter(c) {
		return
	}
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	if len(o.queue) >= queueLimit {
		// Backpressure: the change is never dropped, only deferred past a
		// single coalescing marker so the consumer can tell a gap was
		// compressed.
		o.overflow = append(o.overflow, c)
		o.coalescing = true
	} else {
		o.queue = append(o.queue, c)
	}
	alreadyDraining := o.draining
	o.draining = true
	o.mu.Unlock()

	if !alreadyDraining {
		o.exec.Go(o.drain)
	}
}

// coalesceMarker reports a batch boundary: the consumer's queue hit its
// limit and some changes were deferred, still delivered in full but
// after this marker (Sequence 0 never occurs in a real change).
var coalesceMarker = Change{Sequence: 0, DocID: "", RevID: ""}

func (o *observer) drain() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			if len(o.overflow) == 0 {
				o.draining = false
				o.mu.Unlock()
				return
			}
			marker := o.coalescing
			o.coalescing = false
			o.queue, o.overflow = o.overflow, nil
			if marker {
				o.queue = append([]Change{coalesceMarker}, o.queue...)
			}
		}
		next := o.queue[0]
		o.queue = o.queue[1:]
		stopped := o.stopped
		o.mu.Unlock()

		if stopped {
			return
		}
		o.onChange(next)
	}
}

func (o *observer) stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	o.feed.mu.Lock()
	for i, other := range o.feed.obs {
		if other == o {
			o.feed.obs = append(o.feed.obs[:i], o.feed.obs[i+1:]...)
			break
		}
	}
	o.feed.mu.Unlock()
}
