package relayq

import (
	"sync"
	"time"
)

// History record statuses.
const (
	HistoryStatusSuccess = "success"
	HistoryStatusError   = "error"
)

// HistoryRecord describes one settled request. Intermediate retry attempts
// are not recorded; only terminal outcomes appear.
type HistoryRecord struct {
	ID        string
	Operation string
	Status    string
	ErrorCode string
	StartedAt time.Time
	Duration  time.Duration
}

// historyRing is a bounded FIFO of settlement records. When full, the
// oldest record is evicted.
type historyRing struct {
	mu      sync.Mutex
	max     int
	records []HistoryRecord
}

func newHistoryRing(max int) *historyRing {
	if max <= 0 {
		max = 100
	}
	return &historyRing{max: max, records: make([]HistoryRecord, 0, max)}
}

func (h *historyRing) append(rec HistoryRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= h.max {
		drop := len(h.records) - h.max + 1
		h.records = append(h.records[:0], h.records[drop:]...)
	}
	h.records = append(h.records, rec)
}

// snapshot returns records oldest first; the last entry is the most recent
// settlement.
func (h *historyRing) snapshot() []HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *historyRing) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = h.records[:0]
}

func (h *historyRing) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
