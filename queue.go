package relayq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ardikapras/relayq/internal/fingerprint"
)

// snapshotSchemaVersion guards the persisted queue format. Snapshots with a
// different version are discarded on restore.
const snapshotSchemaVersion = 1

// drain order across lanes: high always before normal before low.
var laneOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// QueueConfig configures a Queue. Zero values pick defaults.
type QueueConfig struct {
	MaxSize       int // total pending bound across lanes, default 100
	MaxConcurrent int // in-flight budget, default 1

	// DedupFields maps an operation name to the payload fields that feed
	// its fingerprint. Unregistered operations hash the whole payload.
	DedupFields map[string][]string

	// Store + StorageKey enable durable snapshots. Freshness bounds how old
	// a restored snapshot may be (default 1h); stale snapshots are dropped
	// and the slot deleted.
	Store      Store
	StorageKey string
	Freshness  time.Duration

	Logger  Logger
	Metrics *MetricsCollector
}

// QueueMetrics is a snapshot of queue counters.
type QueueMetrics struct {
	TotalQueued      int64
	TotalProcessed   int64
	TotalDeduped     int64
	MaxQueueLength   int
	CurrentQueueSize int
	ActiveRequests   int
	QueueSizes       LaneSizes
}

// LaneSizes reports the pending count per priority lane.
type LaneSizes struct {
	High   int
	Normal int
	Low    int
}

// Queue admits, orders, deduplicates and bounds pending requests across
// three priority lanes. It also owns the in-flight concurrency budget so
// slot check-and-reserve is atomic. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	lanes   map[Priority][]*QueuedRequest
	pending map[string]*QueuedRequest // fingerprint -> queued, not yet dequeued

	maxSize       int
	maxConcurrent int
	active        int

	dedupFields map[string][]string

	store      Store
	storageKey string
	freshness  time.Duration

	logger  Logger
	metrics *MetricsCollector
	now     func() time.Time

	totalQueued    int64
	totalProcessed int64
	totalDeduped   int64
	maxQueueLength int
}

// NewQueue creates a queue and, when persistence is configured, restores
// any fresh snapshot found under the storage key.
func NewQueue(config QueueConfig) *Queue {
	if config.MaxSize <= 0 {
		config.MaxSize = 100
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.Freshness <= 0 {
		config.Freshness = time.Hour
	}

	q := &Queue{
		lanes: map[Priority][]*QueuedRequest{
			PriorityHigh:   nil,
			PriorityNormal: nil,
			PriorityLow:    nil,
		},
		pending:       make(map[string]*QueuedRequest),
		maxSize:       config.MaxSize,
		maxConcurrent: config.MaxConcurrent,
		dedupFields:   config.DedupFields,
		store:         config.Store,
		storageKey:    config.StorageKey,
		freshness:     config.Freshness,
		logger:        config.Logger,
		metrics:       config.Metrics,
		now:           time.Now,
	}

	if q.store != nil {
		q.restore()
	}
	return q
}

// fingerprintFor computes the dedup fingerprint for an operation + payload
// using the declared dedup-relevant fields, whole payload when undeclared.
func (q *Queue) fingerprintFor(operation string, payload map[string]any) string {
	return fingerprint.Request(operation, payload, q.dedupFields[operation])
}

// Enqueue admits a request. It returns the queued request the caller must
// wait on: the same value passed in, or an already-pending request with an
// identical fingerprint (dedup — the new caller shares its settlement).
func (q *Queue) Enqueue(r *QueuedRequest) (*QueuedRequest, error) {
	if r == nil || r.Operation == "" || r.Payload == nil {
		return nil, &Error{
			Code:      ErrorCodeInvalidRequest,
			Message:   "request must carry an operation and a structured payload",
			Timestamp: q.now(),
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if r.Fingerprint == "" {
		r.Fingerprint = q.fingerprintFor(r.Operation, r.Payload)
	}

	if existing, ok := q.pending[r.Fingerprint]; ok {
		q.totalDeduped++
		q.metrics.RecordDedup("queue", r.Operation)
		if q.logger != nil {
			q.logger.Debug("request deduplicated against pending entry",
				"operation", r.Operation, "fingerprint", r.Fingerprint)
		}
		return existing, nil
	}

	if q.sizeLocked() >= q.maxSize {
		return nil, &Error{
			Code:      ErrorCodeQueueFull,
			Message:   "pending request limit reached",
			Operation: r.Operation,
			Timestamp: q.now(),
		}
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.done == nil {
		r.done = make(chan struct{})
	}
	r.Priority = r.Priority.normalize()
	r.EnqueuedAt = q.now()

	q.lanes[r.Priority] = append(q.lanes[r.Priority], r)
	q.pending[r.Fingerprint] = r
	q.totalQueued++
	if size := q.sizeLocked(); size > q.maxQueueLength {
		q.maxQueueLength = size
	}
	q.recordDepthLocked()

	q.persistLocked()
	return r, nil
}

// Dequeue pops the highest-priority oldest pending request, nil when empty.
// Lane order is re-checked on every call, so a high-priority arrival always
// beats older normal/low work.
func (q *Queue) Dequeue() *QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, lane := range laneOrder {
		items := q.lanes[lane]
		if len(items) == 0 {
			continue
		}
		r := items[0]
		q.lanes[lane] = items[1:]
		delete(q.pending, r.Fingerprint)
		q.totalProcessed++
		q.recordDepthLocked()
		q.persistLocked()
		return r
	}
	return nil
}

// CanProcess reports whether the in-flight budget has a free slot.
func (q *Queue) CanProcess() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active < q.maxConcurrent
}

// tryAcquire atomically checks and reserves a concurrency slot. The slot is
// held for the full retry lifetime of the dispatched item.
func (q *Queue) tryAcquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active >= q.maxConcurrent {
		return false
	}
	q.active++
	return true
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active > 0 {
		q.active--
	}
}

// Clear empties all lanes. Removed requests settle with ErrClosed so their
// waiters are released; in-flight requests are untouched.
func (q *Queue) Clear() {
	q.mu.Lock()
	var removed []*QueuedRequest
	for _, lane := range laneOrder {
		removed = append(removed, q.lanes[lane]...)
		q.lanes[lane] = nil
	}
	q.pending = make(map[string]*QueuedRequest)
	q.recordDepthLocked()
	q.persistLocked()
	q.mu.Unlock()

	for _, r := range removed {
		r.settle(nil, &Error{
			Code:      ErrorCodeClosed,
			Message:   "queue cleared before delivery",
			Operation: r.Operation,
			RequestID: r.ID,
			Timestamp: q.now(),
		})
	}
}

// Size returns the total pending count across lanes.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

func (q *Queue) sizeLocked() int {
	n := 0
	for _, lane := range laneOrder {
		n += len(q.lanes[lane])
	}
	return n
}

// Metrics snapshots the queue counters.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueMetrics{
		TotalQueued:      q.totalQueued,
		TotalProcessed:   q.totalProcessed,
		TotalDeduped:     q.totalDeduped,
		MaxQueueLength:   q.maxQueueLength,
		CurrentQueueSize: q.sizeLocked(),
		ActiveRequests:   q.active,
		QueueSizes: LaneSizes{
			High:   len(q.lanes[PriorityHigh]),
			Normal: len(q.lanes[PriorityNormal]),
			Low:    len(q.lanes[PriorityLow]),
		},
	}
}

func (q *Queue) recordDepthLocked() {
	q.metrics.RecordQueueDepth(
		len(q.lanes[PriorityHigh]),
		len(q.lanes[PriorityNormal]),
		len(q.lanes[PriorityLow]),
	)
}

// persistedRequest is the snapshot form of a queued request; settlement
// machinery never serializes.
type persistedRequest struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Payload    map[string]any `json:"payload"`
	Priority   Priority       `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

type queueSnapshot struct {
	SchemaVersion int                           `json:"schema_version"`
	SavedAt       time.Time                     `json:"saved_at"`
	Lanes         map[string][]persistedRequest `json:"lanes"`
}

// Persist writes a snapshot of all lanes through the store. Persistence
// failures are logged and swallowed; they never propagate to callers.
func (q *Queue) Persist() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked()
}

func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}

	snap := queueSnapshot{
		SchemaVersion: snapshotSchemaVersion,
		SavedAt:       q.now(),
		Lanes:         make(map[string][]persistedRequest, len(laneOrder)),
	}
	for _, lane := range laneOrder {
		items := make([]persistedRequest, 0, len(q.lanes[lane]))
		for _, r := range q.lanes[lane] {
			items = append(items, persistedRequest{
				ID:         r.ID,
				Operation:  r.Operation,
				Payload:    r.Payload,
				Priority:   r.Priority,
				EnqueuedAt: r.EnqueuedAt,
			})
		}
		snap.Lanes[lane.String()] = items
	}

	data, err := json.Marshal(snap)
	if err == nil {
		err = q.store.Set(context.Background(), q.storageKey, data)
	}
	if err != nil {
		q.metrics.RecordPersistenceFailure("save")
		if q.logger != nil {
			q.logger.Warn("queue snapshot save failed", "key", q.storageKey, "error", err)
		}
	}
}

// restore loads a snapshot on construction. Snapshots older than the
// freshness window are abandoned, not replayed: the slot is deleted and the
// queue starts empty.
func (q *Queue) restore() {
	ctx := context.Background()
	data, ok, err := q.store.Get(ctx, q.storageKey)
	if err != nil {
		q.metrics.RecordPersistenceFailure("restore")
		if q.logger != nil {
			q.logger.Warn("queue snapshot read failed", "key", q.storageKey, "error", err)
		}
		return
	}
	if !ok {
		return
	}

	var snap queueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.SchemaVersion != snapshotSchemaVersion {
		q.metrics.RecordPersistenceFailure("restore")
		if q.logger != nil {
			q.logger.Warn("queue snapshot unreadable, discarding", "key", q.storageKey, "error", err)
		}
		_ = q.store.Delete(ctx, q.storageKey)
		return
	}

	if q.now().Sub(snap.SavedAt) > q.freshness {
		if q.logger != nil {
			q.logger.Info("queue snapshot stale, discarding",
				"key", q.storageKey, "saved_at", snap.SavedAt)
		}
		_ = q.store.Delete(ctx, q.storageKey)
		return
	}

	for laneName, items := range snap.Lanes {
		lane := ParsePriority(laneName)
		for _, p := range items {
			r := newQueuedRequest(p.Operation, p.Payload, lane)
			r.ID = p.ID
			r.EnqueuedAt = p.EnqueuedAt
			r.Fingerprint = q.fingerprintFor(p.Operation, p.Payload)
			if _, dup := q.pending[r.Fingerprint]; dup {
				continue
			}
			q.lanes[lane] = append(q.lanes[lane], r)
			q.pending[r.Fingerprint] = r
			q.totalQueued++
		}
	}
	if size := q.sizeLocked(); size > q.maxQueueLength {
		q.maxQueueLength = size
	}
	q.recordDepthLocked()
	if q.logger != nil {
		q.logger.Info("queue snapshot restored", "key", q.storageKey, "pending", q.sizeLocked())
	}
}
