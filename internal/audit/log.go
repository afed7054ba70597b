package audit

import "sync"

// DefaultCapacity is the number of entries a Log retains when no capacity is given.
const DefaultCapacity = 1000

// Log is a bounded, append-only audit trail kept as a ring buffer. Once full,
// each append silently evicts the oldest entry. Safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	head  int // index of the oldest entry
	count int
}

// NewLog creates a Log that retains at most capacity entries.
// A non-positive capacity uses DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]Entry, capacity)}
}

// Append adds entry and reports whether an older entry was evicted to make room.
func (l *Log) Append(entry Entry) (evicted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry = entry.Clone()
	if l.count < len(l.buf) {
		l.buf[(l.head+l.count)%len(l.buf)] = entry
		l.count++
		return false
	}
	l.buf[l.head] = entry
	l.head = (l.head + 1) % len(l.buf)
	return true
}

// Entries returns copies of the retained entries accepted by match, oldest
// first. A nil match returns everything.
func (l *Log) Entries(match func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		e := l.buf[(l.head+i)%len(l.buf)]
		if match != nil && !match(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int {
	return len(l.buf)
}
