// Package queue implements the durable FIFO of locally produced operations
// awaiting acknowledgement. It borrows its periodic
// garbage-collection shape from a historical FIFO pattern: a
// mutation counter that triggers an evictStale sweep every gcEvery calls
// rather than relying on an external timer (see DESIGN.md).
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyolishe/collaborative-text-editor/errs"
	"github.com/lyolishe/collaborative-text-editor/proto"
)

// defaultRetention is the default eviction age for abandoned entries.
const defaultRetention = 7 * 24 * time.Hour

// gcEvery bounds how often evictStale runs automatically: every gcEvery
// enqueue/ack calls, mirroring historical.go's gcc counter.
const gcEvery = 256

// QueuedOperation is one entry awaiting acknowledgement.
type QueuedOperation struct {
	QueueID    string          `json:"queueId"`
	Op         proto.Operation `json:"op"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Stats reports queue health for the connection status badge.
type Stats struct {
	Size             int           `json:"size"`
	OldestAge        time.Duration `json:"oldestAge"`
	DegradedToMemory bool          `json:"degradedToMemory"`
}

// nower exists so tests can control time without sleeping.
type nower func() time.Time

// Queue is the durable, ordered outbound operation queue for one document.
type Queue struct {
	mu        sync.Mutex
	docID     string
	store     Store
	now       nower
	retention time.Duration
	order     []string // queueIds in enqueue order
	entries   map[string]QueuedOperation
	nextSeq   uint64
	gcc       int
	degraded  bool
	logger    *zap.SugaredLogger
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRetention overrides the default seven-day eviction age.
func WithRetention(d time.Duration) Option {
	return func(q *Queue) { q.retention = d }
}

// withNow is test-only: it pins the clock used for enqueuedAt/age math.
func withNow(fn nower) Option {
	return func(q *Queue) { q.now = fn }
}

// New loads a Queue for docID from store, recovering any entries persisted
// before a prior crash.
func New(docID string, store Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		docID:     docID,
		store:     store,
		now:       time.Now,
		retention: defaultRetention,
		entries:   make(map[string]QueuedOperation),
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(q)
	}

	raw, err := store.Get(docID)
	if err != nil {
		return nil, fmt.Errorf("load queue %s: %w", docID, err)
	}
	if raw != nil {
		var recovered []QueuedOperation
		if err := json.Unmarshal(raw, &recovered); err != nil {
			return nil, fmt.Errorf("decode persisted queue %s: %w", docID, err)
		}
		for _, qo := range recovered {
			q.entries[qo.QueueID] = qo
			q.order = append(q.order, qo.QueueID)
			if seq, err := strconv.ParseUint(strings.TrimPrefix(qo.QueueID, docID+"-"), 10, 64); err == nil && seq > q.nextSeq {
				q.nextSeq = seq
			}
		}
	}
	return q, nil
}

// Enqueue appends op and persists synchronously before returning.
// queueId is derived from docID plus a
// monotonically increasing per-queue sequence number, resumed past the
// highest recovered entry on load, so it is locally unique and never
// reused.
func (q *Queue) Enqueue(op proto.Operation) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	queueID := fmt.Sprintf("%s-%d", q.docID, q.nextSeq)
	entry := QueuedOperation{QueueID: queueID, Op: op, EnqueuedAt: q.now()}

	q.entries[queueID] = entry
	q.order = append(q.order, queueID)

	if err := q.persist(); err != nil {
		q.logger.Warnw("queue persistence failed, degrading to in-memory", "doc", q.docID, "error", err)
		q.degraded = true
	}

	q.maybeGC()
	return queueID, nil
}

// PeekAll returns a snapshot of queued entries in enqueue order.
func (q *Queue) PeekAll() []QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedOperation, 0, len(q.order))
	for _, id := range q.order {
		if e, ok := q.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Ack removes the named entries and persists the change.
func (q *Queue) Ack(queueIDs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range queueIDs {
		delete(q.entries, id)
	}
	q.compact()

	if err := q.persist(); err != nil {
		q.logger.Warnw("queue persistence failed during ack", "doc", q.docID, "error", err)
		q.degraded = true
		return err
	}
	q.maybeGC()
	return nil
}

// EvictStale removes entries older than maxAge. Purpose: bound disk growth
// when a replica has been permanently abandoned by its peers.
func (q *Queue) EvictStale(maxAge time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictStaleLocked(maxAge)
}

func (q *Queue) evictStaleLocked(maxAge time.Duration) error {
	now := q.now()
	changed := false
	for id, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > maxAge {
			delete(q.entries, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	q.compact()
	return q.persist()
}

// Size reports the number of queued entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Stats reports the current queue health for the connection status badge.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Size: len(q.order), DegradedToMemory: q.degraded}
	if len(q.order) > 0 {
		if oldest, ok := q.entries[q.order[0]]; ok {
			s.OldestAge = q.now().Sub(oldest.EnqueuedAt)
		}
	}
	return s
}

// compact drops queueIds from q.order that no longer have a backing entry.
// Callers must hold q.mu.
func (q *Queue) compact() {
	live := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.entries[id]; ok {
			live = append(live, id)
		}
	}
	q.order = live
}

// maybeGC runs evictStale with the default retention every gcEvery
// mutating calls, bounding the cost of an unconditional sweep per
// operation. Callers must hold q.mu.
func (q *Queue) maybeGC() {
	q.gcc++
	if q.gcc < gcEvery {
		return
	}
	q.gcc = 0
	if err := q.evictStaleLocked(q.retention); err != nil {
		q.logger.Warnw("periodic queue eviction failed", "doc", q.docID, "error", err)
	}
}

// persist writes the full entry set to the store. Callers must hold q.mu.
func (q *Queue) persist() error {
	snapshot := make([]QueuedOperation, 0, len(q.order))
	for _, id := range q.order {
		if e, ok := q.entries[id]; ok {
			snapshot = append(snapshot, e)
		}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encode queue snapshot", errs.ErrMalformedOperation)
	}
	return q.store.Put(q.docID, raw)
}
