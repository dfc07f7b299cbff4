package crawl

import (
	"sync"
)

const defaultLogCapacity = 500

// LogStream keeps the most recent run log lines and fans new lines out to
// subscribers. Slow subscribers miss lines rather than blocking the runner.
type LogStream struct {
	mu       sync.Mutex
	capacity int
	entries  []LogEntry
	next     int
	full     bool
	subs     map[int]chan LogEntry
	nextSub  int
}

// NewLogStream returns a ring of the given capacity.
func NewLogStream(capacity int) *LogStream {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogStream{
		capacity: capacity,
		entries:  make([]LogEntry, capacity),
		subs:     make(map[int]chan LogEntry),
	}
}

// Append records a line.
func (l *LogStream) Append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Recent returns up to limit lines, oldest first. limit <= 0 returns all.
func (l *LogStream) Recent(limit int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	if l.full {
		out = append(out, l.entries[l.next:]...)
	}
	out = append(out, l.entries[:l.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Subscribe returns a channel of new lines and a cancel func that closes it.
func (l *LogStream) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogEntry, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
