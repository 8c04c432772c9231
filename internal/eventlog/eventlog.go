// Package eventlog keeps a bounded, newest-first record of user-visible
// system events: command issuance, remote write outcomes, and auth
// transitions. It is the only surface through which faults reach the user.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxEntries caps the log; inserting entry 51 evicts the oldest.
const MaxEntries = 50

// Severity classifies a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Entry is one immutable log record.
type Entry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// Notifier is the host notification collaborator. Notify is fire-and-forget
// and must never return an error to the caller.
type Notifier interface {
	Enabled() bool
	Notify(title, body string)
}

// Log is the bounded event log. Safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	entries   []Entry // newest first
	notifier  Notifier
	observers map[uint64]func(Entry)
	nextObs   uint64
	now       func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithNotifier attaches the host notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(l *Log) { l.notifier = n }
}

// WithNow overrides the timestamp source. Tests only.
func WithNow(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		observers: make(map[uint64]func(Entry)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a new entry at the head, evicting beyond MaxEntries, and
// emits a best-effort notification when the collaborator allows it.
func (l *Log) Record(message string, severity Severity) Entry {
	entry := Entry{
		ID:       uuid.NewString(),
		Time:     l.now(),
		Message:  message,
		Severity: severity,
	}

	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[:MaxEntries]
	}
	observers := make([]func(Entry), 0, len(l.observers))
	for _, fn := range l.observers {
		observers = append(observers, fn)
	}
	notifier := l.notifier
	l.mu.Unlock()

	for _, fn := range observers {
		fn(entry)
	}
	if notifier != nil && notifier.Enabled() {
		notifier.Notify(string(severity), message)
	}
	return entry
}

// Clear empties the log. Irreversible; confirmation is a UI concern.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Entries returns a newest-first copy of the log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Observe registers a callback invoked for every new entry.
// Returns an unsubscribe function.
func (l *Log) Observe(fn func(Entry)) func() {
	l.mu.Lock()
	l.nextObs++
	id := l.nextObs
	l.observers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}
