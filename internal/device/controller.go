package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
)

// writeTimeout bounds every remote write issued by the controller.
const writeTimeout = 10 * time.Second

// Writer is the slice of the remote channel the controller needs: it only
// requests writes, never touches subscriptions or mirrors.
type Writer interface {
	Write(ctx context.Context, path string, payload []byte) error
}

// Controller issues actuator commands and reconciles with remote state.
//
// Local state changes only through ApplyRemote: commands are never applied
// optimistically. Write failures are recorded in the event log and never
// retried. A scheduled momentary revert always eventually fires; there is
// no cancellation path, so an actuator cannot stay energized because a
// teardown raced its pulse.
type Controller struct {
	writer Writer
	log    *eventlog.Log
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	known   model.ControlState
	pending map[Device]int // outstanding revert timers, introspection only
}

// NewController creates a controller over the given write channel.
func NewController(w Writer, log *eventlog.Log, clock Clock, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	return &Controller{
		writer:  w,
		log:     log,
		clock:   clock,
		logger:  logger.With("component", "device"),
		pending: make(map[Device]int),
	}
}

// ApplyRemote replaces the last-known remote state wholesale. Pending revert
// timers are left alone: they run on local elapsed time, independent of
// remote confirmations.
func (c *Controller) ApplyRemote(state model.ControlState) {
	c.mu.Lock()
	c.known = state
	c.mu.Unlock()
}

// Known returns the last-known remote control state.
func (c *Controller) Known() model.ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known
}

// IsOn reports the last-known remote flag for one device.
func (c *Controller) IsOn(d Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stateOf(c.known, d)
}

// Toggle negates the last-known remote value of a persistent device and
// writes it. The outcome lands in the event log; transport failures do not
// propagate. The error return flags API misuse only.
func (c *Controller) Toggle(ctx context.Context, d Device) error {
	if d.Kind() != Persistent {
		return fmt.Errorf("toggle %s: not a persistent device", d)
	}

	c.mu.Lock()
	next := !stateOf(c.known, d)
	c.mu.Unlock()

	if err := c.write(ctx, d, next); err != nil {
		c.log.Record(fmt.Sprintf("Failed to toggle %s: %v", d, err), eventlog.SeverityError)
		return nil
	}

	onOff := "OFF"
	if next {
		onOff = "ON"
	}
	c.log.Record(fmt.Sprintf("%s turned %s", strings.ToUpper(d.String()), onOff), eventlog.SeverityInfo)
	return nil
}

// Pulse energizes a momentary device and schedules the off-write after the
// device's fixed duration. On write failure no revert is scheduled. A second
// pulse before the first revert fires schedules a second independent revert;
// the device ends up off once all of them have fired.
func (c *Controller) Pulse(ctx context.Context, d Device) error {
	if d.Kind() != Momentary {
		return fmt.Errorf("pulse %s: not a momentary device", d)
	}

	if err := c.write(ctx, d, true); err != nil {
		c.log.Record(fmt.Sprintf("Failed to activate %s: %v", d, err), eventlog.SeverityError)
		return nil
	}
	c.log.Record("Activated "+strings.ToUpper(d.String()), eventlog.SeveritySuccess)

	c.mu.Lock()
	c.pending[d]++
	c.mu.Unlock()

	c.clock.AfterFunc(d.PulseDuration(), func() {
		defer func() {
			c.mu.Lock()
			c.pending[d]--
			c.mu.Unlock()
		}()
		// The revert runs on its own background context so it still fires
		// after session teardown. It produces no event log entry.
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.write(ctx, d, false); err != nil {
			c.logger.Warn("auto-revert write failed", "device", d.String(), "err", err)
		}
	})
	return nil
}

// PendingReverts reports the number of not-yet-fired revert timers for a
// device.
func (c *Controller) PendingReverts(d Device) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[d]
}

func (c *Controller) write(ctx context.Context, d Device, value bool) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.writer.Write(ctx, d.Path(), payload)
}
