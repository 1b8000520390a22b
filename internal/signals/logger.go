package signals

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallstack/memoryd/internal/metrics"
)

// Type classifies an operational signal.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeProcess Type = "process"
	TypeError   Type = "error"
)

// Entry is one operational log signal. Seq is assigned at publish time and is
// strictly increasing for the lifetime of the process.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Seq       uint64 `json:"seq"`
}

// Marshal returns JSON for SSE payloads.
func (e Entry) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Logger is an in-process, bounded, append-only signal log with subscriber
// fan-out. It does not persist across restarts.
type Logger struct {
	mu          sync.RWMutex
	ring        []Entry
	start       int
	count       int
	nextSeq     uint64
	subscribers map[chan Entry]struct{}
}

const defaultCapacity = 50

var (
	defaultLogger *Logger
	once          sync.Once
)

// Get returns the global signal logger, initializing it lazily.
func Get() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger(defaultCapacity)
	})
	return defaultLogger
}

// NewLogger creates a logger with the given ring capacity.
func NewLogger(capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Logger{
		ring:        make([]Entry, capacity),
		subscribers: make(map[chan Entry]struct{}),
	}
}

// Record appends a signal and fans it out to subscribers (non-blocking).
func (l *Logger) Record(t Type, message string) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Type:      t,
		Message:   message,
	}

	l.mu.Lock()
	entry.Seq = l.nextSeq
	l.nextSeq++
	l.push(entry)
	subs := make([]chan Entry, 0, len(l.subscribers))
	for ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	metrics.SignalsPublished.WithLabelValues(string(t)).Inc()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
			// Drop if subscriber is slow
		}
	}
	return entry
}

func (l *Logger) Info(message string) Entry    { return l.Record(TypeInfo, message) }
func (l *Logger) Success(message string) Entry { return l.Record(TypeSuccess, message) }
func (l *Logger) Process(message string) Entry { return l.Record(TypeProcess, message) }
func (l *Logger) Error(message string) Entry   { return l.Record(TypeError, message) }

// Snapshot returns the retained tail, oldest first.
func (l *Logger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(l.start+i)%len(l.ring)])
	}
	return out
}

// Subscribe adds a subscriber channel; the caller must drain it and call
// Unsubscribe when done.
func (l *Logger) Subscribe(buffer int) chan Entry {
	ch := make(chan Entry, buffer)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	n := len(l.subscribers)
	l.mu.Unlock()
	metrics.SignalSubscribers.Set(float64(n))
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (l *Logger) Unsubscribe(ch chan Entry) {
	l.mu.Lock()
	if _, ok := l.subscribers[ch]; ok {
		delete(l.subscribers, ch)
		close(ch)
	}
	n := len(l.subscribers)
	l.mu.Unlock()
	metrics.SignalSubscribers.Set(float64(n))
}

// push assumes l.mu is held.
func (l *Logger) push(e Entry) {
	if l.count < len(l.ring) {
		l.ring[(l.start+l.count)%len(l.ring)] = e
		l.count++
		return
	}
	// overwrite oldest
	l.ring[l.start] = e
	l.start = (l.start + 1) % len(l.ring)
}
