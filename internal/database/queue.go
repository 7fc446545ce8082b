// Runs the single writer that applies queued disk actions in order.

package database

import (
	"log/slog"
	"sync"
	"time"
)

type actionKind uint8

const (
	actionWrite actionKind = iota
	actionDelete
)

func (k actionKind) String() string {
	switch k {
	case actionWrite:
		return "write"
	case actionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// action is one deferred disk effect. Updates are writes.
type action struct {
	kind    actionKind
	path    string
	content string
	// done, when set, runs on the worker once the action was attempted.
	done func()
}

// queue is an unbounded FIFO drained by exactly one goroutine.
//
// push never waits for the worker. The worker performs one action at a time so
// at most one disk operation for the collection is in flight.
type queue struct {
	log     *slog.Logger
	metrics *queueMetrics

	mu      sync.Mutex
	pending []action
	busy    bool
	closed  bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func newQueue(log *slog.Logger, m *queueMetrics) *queue {
	q := &queue{
		log:     log,
		metrics: m,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// push appends a to the queue. It returns false once the queue is closed.
func (q *queue) push(a action) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, a)
	q.mu.Unlock()
	q.metrics.enqueued.Inc()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close refuses further pushes. Queued actions are still processed.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// size returns the number of queued actions plus the one in flight.
func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.busy {
		n++
	}
	return n
}

// next pops the oldest action and marks the worker busy.
func (q *queue) next() (action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return action{}, false
	}
	a := q.pending[0]
	q.pending[0] = action{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	q.busy = true
	return a, true
}

func (q *queue) idle() {
	q.mu.Lock()
	q.busy = false
	q.mu.Unlock()
}

func (q *queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		default:
		}
		a, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
			case <-q.quit:
				return
			}
			continue
		}
		q.perform(a)
		q.idle()
	}
}

// perform applies a to disk. Failures are logged and the worker moves on.
func (q *queue) perform(a action) {
	var err error
	switch a.kind {
	case actionWrite:
		err = writeFileAtomic(a.path, a.content)
	case actionDelete:
		err = removeFile(a.path)
	}
	if a.done != nil {
		defer a.done()
	}
	if err != nil {
		q.metrics.failed.Inc()
		q.log.Error("Failed to persist action", "op", a.kind.String(), "path", a.path, "err", err)
		return
	}
	q.metrics.done.Inc()
}

// stop closes the queue, waits up to count*interval for it to drain and then
// terminates the worker. It returns the number of actions left unprocessed.
func (q *queue) stop(count int, interval time.Duration) int {
	q.close()
	for i := 0; i < count && q.size() > 0; i++ {
		time.Sleep(interval)
	}
	q.quitOnce.Do(func() { close(q.quit) })
	<-q.done

	q.mu.Lock()
	left := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	if left > 0 {
		q.metrics.dropped.Add(left)
		q.log.Warn("Stopped with unflushed actions", "count", left)
	}
	return left
}
