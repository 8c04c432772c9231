package rules

import (
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/session"
)

// ruleVM is one running Lua VM. Access is serialized by its mutex.
type ruleVM struct {
	id    string
	state *lua.LState
	mu    sync.Mutex
}

// Engine loads rule scripts and feeds them sensor snapshots from the
// session event bus. Script errors are logged and never fatal.
type Engine struct {
	log      *eventlog.Log
	notifier eventlog.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	vms   []*ruleVM
	unsub func()
}

// NewEngine creates an engine. The notifier may be nil.
func NewEngine(log *eventlog.Log, notifier eventlog.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		log:      log,
		notifier: notifier,
		logger:   logger.With("component", "rules"),
	}
}

// Start loads every enabled script from dir and subscribes to sensor events.
func (e *Engine) Start(dir string, bus *session.EventBus) error {
	scripts, err := LoadDir(dir, e.logger)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		vm, err := e.startScript(s)
		if err != nil {
			e.logger.Warn("rule script failed to start", "id", s.ID, "err", err)
			continue
		}
		e.vms = append(e.vms, vm)
	}
	count := len(e.vms)
	e.mu.Unlock()

	e.unsub = bus.On(session.EventSensors, func(event session.Event) {
		snap, ok := event.Data.(model.SensorSnapshot)
		if !ok {
			return
		}
		e.onSensors(snap)
	})

	e.logger.Info("rules engine started", "scripts", count)
	return nil
}

// Stop unsubscribes and closes all VMs.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	vms := e.vms
	e.vms = nil
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		vm.state.Close()
		vm.mu.Unlock()
	}
	e.logger.Info("rules engine stopped")
}

// startScript creates a VM, registers the farm module, and runs the script
// body so it can define its on_sensors handler.
func (e *Engine) startScript(s *Script) (*ruleVM, error) {
	L := lua.NewState()
	vm := &ruleVM{id: s.ID, state: L}
	e.registerFarmModule(L, vm)

	if err := L.DoString(s.LuaCode); err != nil {
		L.Close()
		return nil, fmt.Errorf("run script: %w", err)
	}
	return vm, nil
}

// onSensors calls every VM's global on_sensors(s) with the snapshot table.
func (e *Engine) onSensors(snap model.SensorSnapshot) {
	e.mu.Lock()
	vms := make([]*ruleVM, len(e.vms))
	copy(vms, e.vms)
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		L := vm.state
		fn := L.GetGlobal("on_sensors")
		if fn.Type() != lua.LTFunction {
			vm.mu.Unlock()
			continue
		}
		tbl := L.NewTable()
		tbl.RawSetString("temperature", lua.LNumber(snap.Temperature))
		tbl.RawSetString("humidity", lua.LNumber(snap.Humidity))
		tbl.RawSetString("ammonia", lua.LNumber(snap.Ammonia))
		tbl.RawSetString("feed_level", lua.LNumber(snap.FeedLevel))
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl)
		vm.mu.Unlock()
		if err != nil {
			e.logger.Warn("rule script error", "id", vm.id, "err", err)
		}
	}
}

// registerFarmModule registers the `farm` global table in a Lua state.
func (e *Engine) registerFarmModule(L *lua.LState, vm *ruleVM) {
	mod := L.NewTable()

	// farm.log(msg, severity?) — record an event log entry
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		severity := eventlog.SeverityInfo
		if L.GetTop() >= 2 {
			switch L.CheckString(2) {
			case "success":
				severity = eventlog.SeveritySuccess
			case "error":
				severity = eventlog.SeverityError
			}
		}
		e.log.Record(msg, severity)
		return 0
	}))

	// farm.notify(msg) — best-effort user notification
	mod.RawSetString("notify", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		if e.notifier != nil && e.notifier.Enabled() {
			e.notifier.Notify("rule "+vm.id, msg)
		}
		return 0
	}))

	L.SetGlobal("farm", mod)
}
