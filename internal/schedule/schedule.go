// Package schedule manages the five time-of-day automation settings and
// their whole-record persistence to the remote store.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
)

// Path is the store key for the schedule document.
const Path = "schedule"

const writeTimeout = 10 * time.Second

// Field identifies one schedule setting.
type Field int

const (
	EggTime Field = iota
	StoolTime
	FeedTime
	LedOn
	LedOff
)

// Fields lists every field in declaration order.
var Fields = []Field{EggTime, StoolTime, FeedTime, LedOn, LedOff}

// String returns the field's store name.
func (f Field) String() string {
	switch f {
	case EggTime:
		return "egg_time"
	case StoolTime:
		return "stool_time"
	case FeedTime:
		return "feed_time"
	case LedOn:
		return "led_on"
	case LedOff:
		return "led_off"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ParseField maps a store name back to a Field.
func ParseField(name string) (Field, error) {
	for _, f := range Fields {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown schedule field %q", name)
}

// Writer is the slice of the remote channel the manager needs.
type Writer interface {
	Write(ctx context.Context, path string, payload []byte) error
}

// Manager holds the schedule record. Edits are staged per field and
// committed as a single atomic write by Save. A remote push replaces the
// whole record and silently discards staged edits: last write wins.
type Manager struct {
	writer Writer
	log    *eventlog.Log

	mu  sync.Mutex
	cur model.Schedule
}

// NewManager creates a manager with a zero schedule (00:00 everywhere)
// until the first remote push.
func NewManager(w Writer, log *eventlog.Log) *Manager {
	return &Manager{writer: w, log: log}
}

// Set stages one field. The value is already validated as a well-formed
// time of day by its type; only the field name can be wrong.
func (m *Manager) Set(f Field, t model.TimeOfDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch f {
	case EggTime:
		m.cur.EggTime = t
	case StoolTime:
		m.cur.StoolTime = t
	case FeedTime:
		m.cur.FeedTime = t
	case LedOn:
		m.cur.LedOn = t
	case LedOff:
		m.cur.LedOff = t
	default:
		return fmt.Errorf("unknown schedule field %d", int(f))
	}
	return nil
}

// Save commits the entire record in one write. The outcome lands in the
// event log; transport failures do not propagate.
func (m *Manager) Save(ctx context.Context) {
	m.mu.Lock()
	record := m.cur
	m.mu.Unlock()

	payload, err := json.Marshal(record)
	if err != nil {
		m.log.Record(fmt.Sprintf("Failed to save schedule: %v", err), eventlog.SeverityError)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := m.writer.Write(ctx, Path, payload); err != nil {
		m.log.Record(fmt.Sprintf("Failed to save schedule: %v", err), eventlog.SeverityError)
		return
	}
	m.log.Record("Schedule saved", eventlog.SeverityInfo)
}

// ApplyRemote replaces the record wholesale, overriding staged edits.
func (m *Manager) ApplyRemote(s model.Schedule) {
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
}

// Snapshot returns a copy of the current record.
func (m *Manager) Snapshot() model.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}
