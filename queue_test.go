package relayq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func enqueueOrFatal(t *testing.T, q *Queue, operation string, payload map[string]any, p Priority) *QueuedRequest {
	t.Helper()
	r, err := q.Enqueue(newQueuedRequest(operation, payload, p))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return r
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(QueueConfig{})

	enqueueOrFatal(t, q, "op", map[string]any{"name": "A"}, PriorityLow)
	enqueueOrFatal(t, q, "op", map[string]any{"name": "B"}, PriorityHigh)
	enqueueOrFatal(t, q, "op", map[string]any{"name": "C"}, PriorityNormal)
	enqueueOrFatal(t, q, "op", map[string]any{"name": "D"}, PriorityHigh)

	want := []string{"B", "D", "C", "A"}
	for i, expected := range want {
		r := q.Dequeue()
		if r == nil {
			t.Fatalf("Dequeue %d returned nil", i)
		}
		if got := r.Payload["name"]; got != expected {
			t.Errorf("Dequeue %d: expected %q, got %v", i, expected, got)
		}
	}
	if q.Dequeue() != nil {
		t.Error("Expected nil from an empty queue")
	}
}

func TestQueueHighArrivalBeatsOlderNormal(t *testing.T) {
	q := NewQueue(QueueConfig{})

	enqueueOrFatal(t, q, "op", map[string]any{"name": "old"}, PriorityNormal)
	if r := q.Dequeue(); r.Payload["name"] != "old" {
		t.Fatalf("expected old normal first, got %v", r.Payload["name"])
	}

	enqueueOrFatal(t, q, "op", map[string]any{"name": "older-normal"}, PriorityNormal)
	enqueueOrFatal(t, q, "op", map[string]any{"name": "late-high"}, PriorityHigh)

	if r := q.Dequeue(); r.Payload["name"] != "late-high" {
		t.Errorf("expected the late high arrival to win, got %v", r.Payload["name"])
	}
}

func TestQueueDedupSharesPendingEntry(t *testing.T) {
	q := NewQueue(QueueConfig{})

	first := enqueueOrFatal(t, q, "save", map[string]any{"k": "v"}, PriorityNormal)
	second := enqueueOrFatal(t, q, "save", map[string]any{"k": "v"}, PriorityNormal)

	if first != second {
		t.Error("Expected duplicate enqueue to return the pending entry")
	}
	if q.Size() != 1 {
		t.Errorf("Expected queue size 1, got %d", q.Size())
	}
	if m := q.Metrics(); m.TotalDeduped != 1 {
		t.Errorf("Expected TotalDeduped 1, got %d", m.TotalDeduped)
	}
}

func TestQueueDedupAfterDequeueIsNewEntry(t *testing.T) {
	q := NewQueue(QueueConfig{})

	first := enqueueOrFatal(t, q, "save", map[string]any{"k": "v"}, PriorityNormal)
	if q.Dequeue() != first {
		t.Fatal("expected the enqueued request back")
	}

	second := enqueueOrFatal(t, q, "save", map[string]any{"k": "v"}, PriorityNormal)
	if second == first {
		t.Error("Expected a fresh entry once the original left the queue")
	}
	if m := q.Metrics(); m.TotalDeduped != 0 {
		t.Errorf("Expected no dedup after dequeue, got %d", m.TotalDeduped)
	}
}

func TestQueueDedupFields(t *testing.T) {
	q := NewQueue(QueueConfig{
		DedupFields: map[string][]string{"save": {"setting_key", "value"}},
	})

	first := enqueueOrFatal(t, q, "save",
		map[string]any{"setting_key": "theme", "value": "dark", "nonce": "a"}, PriorityNormal)
	second := enqueueOrFatal(t, q, "save",
		map[string]any{"setting_key": "theme", "value": "dark", "nonce": "b"}, PriorityNormal)
	third := enqueueOrFatal(t, q, "save",
		map[string]any{"setting_key": "theme", "value": "light", "nonce": "a"}, PriorityNormal)

	if first != second {
		t.Error("Expected requests differing only outside dedup fields to merge")
	}
	if third == first {
		t.Error("Expected a different dedup-relevant value to create a new entry")
	}
	if q.Size() != 2 {
		t.Errorf("Expected queue size 2, got %d", q.Size())
	}
}

func TestQueueInvalidRequests(t *testing.T) {
	q := NewQueue(QueueConfig{})

	cases := []*QueuedRequest{
		nil,
		newQueuedRequest("", map[string]any{"k": "v"}, PriorityNormal),
		newQueuedRequest("save", nil, PriorityNormal),
	}
	for i, r := range cases {
		if _, err := q.Enqueue(r); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
	if q.Size() != 0 {
		t.Errorf("Expected empty queue after rejections, got %d", q.Size())
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 2})

	enqueueOrFatal(t, q, "op", map[string]any{"n": 1}, PriorityNormal)
	enqueueOrFatal(t, q, "op", map[string]any{"n": 2}, PriorityNormal)

	_, err := q.Enqueue(newQueuedRequest("op", map[string]any{"n": 3}, PriorityNormal))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	// A duplicate of a pending entry still merges at capacity.
	r := enqueueOrFatal(t, q, "op", map[string]any{"n": 1}, PriorityNormal)
	if r == nil || q.Size() != 2 {
		t.Errorf("Expected dedup to bypass the bound, size %d", q.Size())
	}
}

func TestQueueAssignsIDAndTimestamp(t *testing.T) {
	q := NewQueue(QueueConfig{})

	r := enqueueOrFatal(t, q, "op", map[string]any{"n": 1}, PriorityNormal)
	if r.ID == "" {
		t.Error("Expected a generated request ID")
	}
	if r.EnqueuedAt.IsZero() {
		t.Error("Expected EnqueuedAt to be set")
	}
	if r.Fingerprint == "" {
		t.Error("Expected a computed fingerprint")
	}
}

func TestQueueClearSettlesWaiters(t *testing.T) {
	q := NewQueue(QueueConfig{})

	r := enqueueOrFatal(t, q, "op", map[string]any{"n": 1}, PriorityNormal)
	q.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.wait(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Clear, got %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("Expected empty queue after Clear, got %d", q.Size())
	}
}

func TestQueueConcurrencySlots(t *testing.T) {
	q := NewQueue(QueueConfig{MaxConcurrent: 2})

	if !q.tryAcquire() || !q.tryAcquire() {
		t.Fatal("expected two slots to be available")
	}
	if q.tryAcquire() {
		t.Error("Expected third acquire to fail")
	}
	if q.CanProcess() {
		t.Error("Expected CanProcess false at the budget")
	}

	q.release()
	if !q.CanProcess() {
		t.Error("Expected CanProcess true after release")
	}
	if !q.tryAcquire() {
		t.Error("Expected acquire to succeed after release")
	}
}

func TestQueueMetricsCounters(t *testing.T) {
	q := NewQueue(QueueConfig{})

	enqueueOrFatal(t, q, "op", map[string]any{"n": 1}, PriorityHigh)
	enqueueOrFatal(t, q, "op", map[string]any{"n": 2}, PriorityNormal)
	enqueueOrFatal(t, q, "op", map[string]any{"n": 3}, PriorityLow)
	q.Dequeue()

	m := q.Metrics()
	if m.TotalQueued != 3 {
		t.Errorf("Expected TotalQueued 3, got %d", m.TotalQueued)
	}
	if m.TotalProcessed != 1 {
		t.Errorf("Expected TotalProcessed 1, got %d", m.TotalProcessed)
	}
	if m.CurrentQueueSize != 2 {
		t.Errorf("Expected CurrentQueueSize 2, got %d", m.CurrentQueueSize)
	}
	if m.MaxQueueLength != 3 {
		t.Errorf("Expected MaxQueueLength 3, got %d", m.MaxQueueLength)
	}
	if m.QueueSizes.High != 0 || m.QueueSizes.Normal != 1 || m.QueueSizes.Low != 1 {
		t.Errorf("Unexpected lane sizes: %+v", m.QueueSizes)
	}
}

func TestQueuePersistAndRestore(t *testing.T) {
	store := NewMemoryStore()
	key := "relayq:test:queue"

	q1 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	first := enqueueOrFatal(t, q1, "save", map[string]any{"k": "v1"}, PriorityHigh)
	second := enqueueOrFatal(t, q1, "load", map[string]any{"k": "v2"}, PriorityNormal)

	q2 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	if q2.Size() != 2 {
		t.Fatalf("Expected 2 restored requests, got %d", q2.Size())
	}

	r := q2.Dequeue()
	if r.ID != first.ID || r.Operation != "save" || r.Priority != PriorityHigh {
		t.Errorf("Unexpected first restored request: %+v", r)
	}
	r = q2.Dequeue()
	if r.ID != second.ID || r.Operation != "load" {
		t.Errorf("Unexpected second restored request: %+v", r)
	}
}

func TestQueueRestoredRequestsStillDedup(t *testing.T) {
	store := NewMemoryStore()
	key := "relayq:test:dedup"

	q1 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	enqueueOrFatal(t, q1, "save", map[string]any{"k": "v"}, PriorityNormal)

	q2 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	enqueueOrFatal(t, q2, "save", map[string]any{"k": "v"}, PriorityNormal)

	if q2.Size() != 1 {
		t.Errorf("Expected duplicate of restored entry to merge, size %d", q2.Size())
	}
	if m := q2.Metrics(); m.TotalDeduped != 1 {
		t.Errorf("Expected TotalDeduped 1, got %d", m.TotalDeduped)
	}
}

func TestQueueStaleSnapshotDiscarded(t *testing.T) {
	store := NewMemoryStore()
	key := "relayq:test:stale"

	q1 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	q1.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	enqueueOrFatal(t, q1, "save", map[string]any{"k": "v"}, PriorityNormal)

	q2 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	if q2.Size() != 0 {
		t.Errorf("Expected stale snapshot to be discarded, got %d pending", q2.Size())
	}
	if _, ok, _ := store.Get(context.Background(), key); ok {
		t.Error("Expected the stale snapshot slot to be deleted")
	}
}

func TestQueueFreshnessWindowConfigurable(t *testing.T) {
	store := NewMemoryStore()
	key := "relayq:test:fresh"

	q1 := NewQueue(QueueConfig{Store: store, StorageKey: key})
	q1.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	enqueueOrFatal(t, q1, "save", map[string]any{"k": "v"}, PriorityNormal)

	q2 := NewQueue(QueueConfig{Store: store, StorageKey: key, Freshness: 3 * time.Hour})
	if q2.Size() != 1 {
		t.Errorf("Expected snapshot within a wider window to restore, got %d", q2.Size())
	}
}

func TestQueueBadSchemaDiscarded(t *testing.T) {
	store := NewMemoryStore()
	key := "relayq:test:schema"
	_ = store.Set(context.Background(), key, []byte(`{"schema_version":99,"lanes":{}}`))

	q := NewQueue(QueueConfig{Store: store, StorageKey: key})
	if q.Size() != 0 {
		t.Errorf("Expected unknown schema to be discarded, got %d pending", q.Size())
	}
	if _, ok, _ := store.Get(context.Background(), key); ok {
		t.Error("Expected the unreadable snapshot slot to be deleted")
	}
}

// failingStore errors on every write so persistence failures can be observed.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("store unavailable")
}
func (failingStore) Delete(context.Context, string) error { return nil }

func TestQueuePersistenceFailureSwallowed(t *testing.T) {
	q := NewQueue(QueueConfig{Store: failingStore{}, StorageKey: "k"})

	r := enqueueOrFatal(t, q, "save", map[string]any{"k": "v"}, PriorityNormal)
	if r == nil || q.Size() != 1 {
		t.Error("Expected enqueue to succeed despite the persistence failure")
	}
}
