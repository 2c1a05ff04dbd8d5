package fetcher

import "sync"

// task is one unit of fetch work: a context-free URL to fetch, or a
// URL to replicate under a peer context when ctx is non-nil.
type task struct {
	url string
	ctx map[string]string
	key string // dedupe identity, the final URL the task materializes
}

// worklist is a FIFO queue that knows when the whole tree is drained:
// take blocks while work is queued or in flight and returns false once
// both reach zero. Tasks are deduplicated by key at add time.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	pending int
	seen    map[string]bool
}

func newWorklist() *worklist {
	w := &worklist{seen: make(map[string]bool)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// add enqueues t unless an identical task was already queued this run.
func (w *worklist) add(t task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[t.key] {
		return
	}
	w.seen[t.key] = true
	w.queue = append(w.queue, t)
	w.pending++
	w.cond.Signal()
}

// take blocks until a task is available or every outstanding task has
// called done, whichever comes first.
func (w *worklist) take() (task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && w.pending > 0 {
		w.cond.Wait()
	}
	if len(w.queue) == 0 {
		return task{}, false
	}
	t := w.queue[0]
	w.queue = w.queue[1:]
	return t, true
}

// done marks one taken task as finished. The final done wakes every
// blocked worker so they can observe the drained queue and exit.
func (w *worklist) done() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending--
	if w.pending == 0 {
		w.cond.Broadcast()
	}
}
