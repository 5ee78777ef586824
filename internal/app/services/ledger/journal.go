package ledger

import (
	"sync"
	"time"
)

// Entry records one ledger discrepancy awaiting external reconciliation:
// either an audit posting that failed to append after the balance moved, or
// a compensation that itself failed.
type Entry struct {
	Time      time.Time `json:"time"`
	Workflow  string    `json:"workflow"`
	AccountID string    `json:"account_id"`
	Delta     int64     `json:"delta"`
	Key       string    `json:"key,omitempty"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
}

// Sink receives journal entries for durable persistence.
type Sink interface {
	Write(entry Entry) error
}

// Journal keeps a bounded in-memory window of reconciliation entries and
// forwards each to an optional sink. Writes never block or fail the calling
// workflow.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	sink    Sink
}

// NewJournal creates a journal holding at most max entries in memory.
func NewJournal(max int, sink Sink) *Journal {
	if max <= 0 {
		max = 200
	}
	return &Journal{max: max, sink: sink}
}

// Record appends an entry, evicting the oldest past the window.
func (j *Journal) Record(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
	if j.sink != nil {
		// Best-effort persistence; reconciliation must not break the
		// workflow that is already degraded.
		_ = j.sink.Write(entry)
	}
}

// List returns a copy of the current window, oldest first.
func (j *Journal) List() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
