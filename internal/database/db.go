package database

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Default flush wait used by Stop.
const (
	DefaultStopCount    = 50
	DefaultStopInterval = 20 * time.Millisecond
)

type loadState int32

const (
	stateUnloaded loadState = iota
	stateLoading
	stateLoaded
)

// Options configures a DB. The zero value is valid.
type Options struct {
	// Logger receives load notices and worker failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DB is a collection of records persisted one file per record in a
// directory.
//
// Reads are served from memory. Mutations update memory before returning and
// queue the matching disk effect for the background worker.
type DB[T Record[T]] struct {
	dir         string
	deserialize Deserializer[T]
	log         *slog.Logger
	q           *queue

	records *xsync.MapOf[int64, T]

	// mu serializes mutations so the queue order matches the order callers
	// observe in memory.
	mu        sync.Mutex
	nextIndex int64
	// deleting counts queued deletes per index that the worker hasn't
	// attempted yet. Their files may still be on disk.
	deleting map[int64]int

	loadMu sync.Mutex
	state  atomic.Int32

	stopOnce sync.Once
	dropped  int
}

// New returns a DB bound to dir, creating the directory if needed.
//
// Records are not read until they are first needed. The persisted index
// counter is read immediately; a counter file that exists but can't be
// parsed returns a *ConfigurationError.
func New[T Record[T]](dir string, deserialize Deserializer[T], opts *Options) (*DB[T], error) {
	if deserialize == nil {
		return nil, errNoDeserializer
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	next, err := readIndexFile(indexPath(dir))
	if err != nil {
		return nil, err
	}
	name := filepath.Base(dir)
	logger = logger.With("collection", name)
	return &DB[T]{
		dir:         dir,
		deserialize: deserialize,
		log:         logger,
		q:           newQueue(logger, newQueueMetrics(name)),
		records:     xsync.NewMapOf[int64, T](),
		nextIndex:   next,
		deleting:    map[int64]int{},
	}, nil
}

// Dir returns the directory backing the collection.
func (d *DB[T]) Dir() string {
	return d.dir
}

// NextIndex returns the index the next unindexed Write will assign.
func (d *DB[T]) NextIndex() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextIndex
}

// Load reads the records on disk into memory.
//
// The first call hydrates the collection. Later calls rescan the directory
// and add records whose index is not in memory yet; records already in memory
// are never replaced by disk content, and files whose delete is still queued
// are ignored.
func (d *DB[T]) Load() error {
	if loadState(d.state.Load()) != stateLoaded {
		return d.ensureLoaded()
	}
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	// Holding mu across the scan keeps a delete from being queued and
	// completed between reading a file and merging it.
	d.mu.Lock()
	defer d.mu.Unlock()
	recs, err := d.loadDataFromDisk()
	if err != nil {
		return err
	}
	d.mergeLocked(recs)
	return nil
}

// ensureLoaded hydrates the collection exactly once. Concurrent callers wait
// for the one doing the work. A failed load leaves the collection unloaded
// so the next access tries again.
func (d *DB[T]) ensureLoaded() error {
	if loadState(d.state.Load()) == stateLoaded {
		return nil
	}
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	if loadState(d.state.Load()) == stateLoaded {
		return nil
	}
	d.state.Store(int32(stateLoading))
	recs, err := d.loadDataFromDisk()
	if err != nil {
		d.state.Store(int32(stateUnloaded))
		return err
	}
	d.merge(recs)
	d.state.Store(int32(stateLoaded))
	d.log.Debug("Loaded", "count", len(recs))
	return nil
}

func (d *DB[T]) merge(recs []T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mergeLocked(recs)
}

// mergeLocked adds recs that are neither in memory nor being deleted. d.mu
// must be held.
func (d *DB[T]) mergeLocked(recs []T) {
	for _, r := range recs {
		idx := r.GetIndex()
		if d.deleting[idx] > 0 {
			continue
		}
		if _, loaded := d.records.LoadOrStore(idx, r); loaded {
			continue
		}
		if idx >= d.nextIndex {
			d.nextIndex = idx + 1
		}
	}
}

// Write adds r to the collection.
//
// When r has no index yet the next one is assigned and set on r. An explicit
// index is kept as is and replaces any record already stored under it.
func (d *DB[T]) Write(r T) error {
	if d.q.isClosed() {
		return ErrStopped
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.q.isClosed() {
		return ErrStopped
	}
	idx := r.GetIndex()
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, idx)
	}
	prev := d.nextIndex
	if idx == 0 {
		idx = d.nextIndex
		d.nextIndex++
		r.SetIndex(idx)
	} else if idx >= d.nextIndex {
		d.nextIndex = idx + 1
	}
	d.records.Store(idx, r.Clone())
	d.q.push(action{kind: actionWrite, path: recordPath(d.dir, idx), content: r.Serialize()})
	if d.nextIndex != prev {
		d.pushIndex()
	}
	return nil
}

// Update replaces the record stored under r's index.
func (d *DB[T]) Update(r T) error {
	if d.q.isClosed() {
		return ErrStopped
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.q.isClosed() {
		return ErrStopped
	}
	idx := r.GetIndex()
	if _, ok := d.records.Load(idx); !ok {
		return &NotFoundError{Index: idx}
	}
	d.records.Store(idx, r.Clone())
	d.q.push(action{kind: actionWrite, path: recordPath(d.dir, idx), content: r.Serialize()})
	return nil
}

// Delete removes the record stored under r's index.
func (d *DB[T]) Delete(r T) error {
	return d.DeleteIndex(r.GetIndex())
}

// DeleteIndex removes the record stored under index.
//
// Removing the last record resets the counter so the next Write is assigned
// index 1 again.
func (d *DB[T]) DeleteIndex(index int64) error {
	if d.q.isClosed() {
		return ErrStopped
	}
	if err := d.ensureLoaded(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.q.isClosed() {
		return ErrStopped
	}
	if _, ok := d.records.LoadAndDelete(index); !ok {
		return &NotFoundError{Index: index}
	}
	d.deleting[index]++
	d.q.push(action{kind: actionDelete, path: recordPath(d.dir, index), done: func() { d.deleted(index) }})
	if d.records.Size() == 0 && d.nextIndex != 1 {
		d.nextIndex = 1
		d.pushIndex()
	}
	return nil
}

// deleted runs on the worker once the delete of index was attempted.
func (d *DB[T]) deleted(index int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleting[index]--; d.deleting[index] <= 0 {
		delete(d.deleting, index)
	}
}

// pushIndex queues a rewrite of the counter file. d.mu must be held.
func (d *DB[T]) pushIndex() {
	d.q.push(action{kind: actionWrite, path: indexPath(d.dir), content: strconv.FormatInt(d.nextIndex, 10)})
}

// Values returns a copy of every record, sorted by index.
func (d *DB[T]) Values() ([]T, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]T, 0, d.records.Size())
	d.records.Range(func(_ int64, r T) bool {
		out = append(out, r.Clone())
		return true
	})
	slices.SortFunc(out, func(a, b T) int {
		return cmp.Compare(a.GetIndex(), b.GetIndex())
	})
	return out, nil
}

// Get returns a copy of the record stored under index.
func (d *DB[T]) Get(index int64) (T, bool, error) {
	var zero T
	if err := d.ensureLoaded(); err != nil {
		return zero, false, err
	}
	r, ok := d.records.Load(index)
	if !ok {
		return zero, false, nil
	}
	return r.Clone(), true, nil
}

// Len returns the number of records.
func (d *DB[T]) Len() (int, error) {
	if err := d.ensureLoaded(); err != nil {
		return 0, err
	}
	return d.records.Size(), nil
}

// Pending returns the number of disk actions not yet completed.
func (d *DB[T]) Pending() int {
	return d.q.size()
}

// Stop is StopWithin(DefaultStopCount, DefaultStopInterval).
func (d *DB[T]) Stop() int {
	return d.StopWithin(DefaultStopCount, DefaultStopInterval)
}

// StopWithin refuses further mutations, waits for queued disk actions to
// complete, checking up to count times with interval in between, and then
// halts the worker. It returns the number of actions that were abandoned.
//
// Memory is left as is. Calling it again returns the first result.
func (d *DB[T]) StopWithin(count int, interval time.Duration) int {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.q.close()
		d.mu.Unlock()
		d.dropped = d.q.stop(count, interval)
	})
	return d.dropped
}
