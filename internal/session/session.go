// Package session owns the live mirrors of the three remote documents and
// ties subscription lifecycle to authentication state. It is the single
// place where pushed snapshots become local state.
package session

import (
	"log/slog"
	"sync"

	"farm-go-remote/internal/device"
	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/remote"
	"farm-go-remote/internal/schedule"
)

// Store keys subscribed by the session.
const (
	sensorsPath  = "sensors"
	controlsPath = "controls"
	schedulePath = "schedule"
)

// State is the session lifecycle state.
type State int

const (
	// Bootstrapping: the auth collaborator has not resolved yet.
	Bootstrapping State = iota
	// Authenticating: a sign-in attempt is pending or has failed.
	Authenticating
	// Active: authenticated, all three subscriptions open.
	Active
	// Terminated: torn down, subscriptions released.
	Terminated
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Authenticating:
		return "authenticating"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Session is the top-level orchestrator. It owns the mirrors of sensors,
// controls, and schedule; DeviceController and ScheduleManager only receive
// copies from it and emit remote writes themselves.
type Session struct {
	ch      remote.Channel
	devices *device.Controller
	sched   *schedule.Manager
	log     *eventlog.Log
	events  *EventBus
	logger  *slog.Logger

	mu       sync.RWMutex
	state    State
	sensors  model.SensorSnapshot
	controls model.ControlState
	schedRec model.Schedule

	cancels   []func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a session in the Bootstrapping state. Nothing is subscribed
// until HandleAuth reports a successful sign-in.
func New(ch remote.Channel, devices *device.Controller, sched *schedule.Manager, log *eventlog.Log, events *EventBus, logger *slog.Logger) *Session {
	return &Session{
		ch:      ch,
		devices: devices,
		sched:   sched,
		log:     log,
		events:  events,
		logger:  logger.With("component", "session"),
		done:    make(chan struct{}),
	}
}

// HandleAuth drives the lifecycle from the auth collaborator's callbacks.
// Success opens the three subscriptions exactly once; failure logs an error
// event and leaves the session in Authenticating (retry policy belongs to
// the collaborator).
func (s *Session) HandleAuth(authenticated bool) {
	s.mu.Lock()
	// Authenticated is terminal for the session: once Active, later
	// callbacks are ignored. Terminated likewise.
	if s.state == Terminated || s.state == Active {
		s.mu.Unlock()
		return
	}

	if !authenticated {
		s.state = Authenticating
		s.mu.Unlock()
		s.log.Record("Authentication failed", eventlog.SeverityError)
		s.events.Emit(Event{Type: EventAuth, Data: Authenticating.String()})
		return
	}

	streams, cancels, err := s.openSubscriptions()
	if err != nil {
		s.state = Authenticating
		s.mu.Unlock()
		s.log.Record("Failed to open store subscriptions: "+err.Error(), eventlog.SeverityError)
		return
	}
	s.state = Active
	s.cancels = cancels
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch(streams)

	s.log.Record("Connected to farm controller", eventlog.SeveritySuccess)
	s.events.Emit(Event{Type: EventAuth, Data: Active.String()})
	s.logger.Info("session active")
}

type streamSet struct {
	sensors  <-chan []byte
	controls <-chan []byte
	schedule <-chan []byte
}

func (s *Session) openSubscriptions() (streamSet, []func(), error) {
	var set streamSet
	var cancels []func()

	release := func() {
		for _, c := range cancels {
			c()
		}
	}

	var err error
	if set.sensors, cancels, err = s.sub(sensorsPath, cancels); err != nil {
		release()
		return streamSet{}, nil, err
	}
	if set.controls, cancels, err = s.sub(controlsPath, cancels); err != nil {
		release()
		return streamSet{}, nil, err
	}
	if set.schedule, cancels, err = s.sub(schedulePath, cancels); err != nil {
		release()
		return streamSet{}, nil, err
	}
	return set, cancels, nil
}

func (s *Session) sub(path string, cancels []func()) (<-chan []byte, []func(), error) {
	stream, cancel, err := s.ch.Subscribe(path)
	if err != nil {
		return nil, cancels, err
	}
	return stream, append(cancels, cancel), nil
}

// dispatch is the single consumer of all three subscription streams. Every
// mirror mutation happens on this goroutine; snapshots that fail strict
// decoding are dropped and the previous mirror kept.
func (s *Session) dispatch(streams streamSet) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case payload := <-streams.sensors:
			snap, err := model.DecodeSensors(payload)
			if err != nil {
				s.logger.Warn("dropping sensors update", "err", err)
				continue
			}
			s.mu.Lock()
			s.sensors = snap
			s.mu.Unlock()
			s.events.Emit(Event{Type: EventSensors, Data: snap})
		case payload := <-streams.controls:
			state, err := model.DecodeControls(payload)
			if err != nil {
				s.logger.Warn("dropping controls update", "err", err)
				continue
			}
			s.mu.Lock()
			s.controls = state
			s.mu.Unlock()
			s.devices.ApplyRemote(state)
			s.events.Emit(Event{Type: EventControls, Data: state})
		case payload := <-streams.schedule:
			rec, err := model.DecodeSchedule(payload)
			if err != nil {
				s.logger.Warn("dropping schedule update", "err", err)
				continue
			}
			s.mu.Lock()
			s.schedRec = rec
			s.mu.Unlock()
			s.sched.ApplyRemote(rec)
			s.events.Emit(Event{Type: EventSchedule, Data: rec})
		}
	}
}

// Close tears the session down: subscriptions are released exactly once and
// the dispatch loop drained. Already-scheduled device reverts are left to
// fire on their own. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Terminated
		cancels := s.cancels
		s.cancels = nil
		s.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
		close(s.done)
		s.wg.Wait()
		s.logger.Info("session terminated")
	})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sensors returns a copy of the sensor mirror.
func (s *Session) Sensors() model.SensorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensors
}

// Controls returns a copy of the control-state mirror.
func (s *Session) Controls() model.ControlState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controls
}

// Schedule returns a copy of the schedule mirror.
func (s *Session) Schedule() model.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedRec
}

// Events exposes the session event bus.
func (s *Session) Events() *EventBus {
	return s.events
}
