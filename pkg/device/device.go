// Package device implements the live embodiment of a blueprint
// (spec.md §4.E), grounded on the per-node executor/heartbeat shape of
// pkg/worker.Worker: a narrow internal API (readProperty, writeProperty,
// execute, postSignal) driven by the owning Hub, backed by reactive
// cells, two FSMs, and a hot message channel.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/fsm"
	"github.com/cuemby/devicehub/pkg/log"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// Device is the live instance of a Blueprint. It owns its cells,
// descriptors, and child devices exclusively (spec.md §3 "ownership").
type Device struct {
	Address   name.Address
	Blueprint blueprint.Blueprint
	clock     ports.Clock

	lifecycle   *fsm.Machine
	operational *fsm.Machine

	mu       sync.RWMutex
	cells    map[string]*cell.Cell[meta.Meta]
	children map[string]*Device

	locks *lockTable

	messages chan Message

	restartAttempt int

	scheduler *derivedScheduler
}

// Message is the hot flow of events a device emits (spec.md §4.F
// "message flow"): one of the ports wire schema variants, with the
// emitting device's address.
type Message struct {
	Source name.Address
	At     time.Time
	Body   any
}

// New builds a Device in its Detached lifecycle state. The Hub is
// responsible for subsequently firing Attach.
func New(addr name.Address, bp blueprint.Blueprint, clk ports.Clock) (*Device, error) {
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("device: invalid blueprint: %w", err)
	}

	d := &Device{
		Address:   addr,
		Blueprint: bp,
		clock:     clk,
		lifecycle: fsm.New(blueprint.LifecycleDefinition()),
		cells:     make(map[string]*cell.Cell[meta.Meta]),
		children:  make(map[string]*Device),
		locks:     newLockTable(),
		messages:  make(chan Message, 256),
	}

	if bp.OperationalFSMBuilder != nil {
		d.operational = fsm.New(bp.OperationalFSMBuilder())
	}

	for propName, spec := range bp.Properties {
		initial := spec.Initial
		c := cell.New[meta.Meta](clk, initial)
		d.cells[propName] = c
	}

	d.scheduler = newDerivedScheduler(d)
	d.lifecycle.OnEnter(blueprint.StateFailed, d.onEnterFailed)

	return d, nil
}

// Messages returns the device's hot message channel.
func (d *Device) Messages() <-chan Message { return d.messages }

func (d *Device) emit(body any) {
	msg := Message{Source: d.Address, At: d.clock.Now(), Body: body}
	select {
	case d.messages <- msg:
	default:
		log.Logger.Warn().Str("device", d.Address.String()).Msg("message flow full, dropping event")
	}
}

// LifecycleState returns the current lifecycle FSM state.
func (d *Device) LifecycleState() fsm.State { return d.lifecycle.State() }

// OperationalState returns the current operational FSM state, or "" if
// the blueprint declares none.
func (d *Device) OperationalState() fsm.State {
	if d.operational == nil {
		return ""
	}
	return d.operational.State()
}

// fireLifecycle drives the lifecycle FSM and emits LifecycleStateChanged.
func (d *Device) fireLifecycle(event fsm.Event) (fsm.State, error) {
	return d.fireLifecycleWithArgs(event, nil)
}

func (d *Device) fireLifecycleWithArgs(event fsm.Event, args map[string]any) (fsm.State, error) {
	from := d.lifecycle.State()
	to, err := d.lifecycle.Fire(event, args)
	if err != nil {
		return from, err
	}
	if to != from {
		d.emit(ports.LifecycleStateChanged{
			Device: d.Address,
			From:   string(from),
			To:     string(to),
			At:     d.clock.Now(),
		})
	}
	return to, nil
}

func (d *Device) onEnterFailed(from fsm.State, ctx fsm.Context) {
	var df *fault.DeviceFault
	if ctx.Args != nil {
		if v, ok := ctx.Args["failure"]; ok {
			df, _ = v.(*fault.DeviceFault)
		}
	}
	if df == nil {
		df = fault.New(fault.KindLifecycleError, "", "device entered Failed")
	}
	d.emit(ports.DeviceError{Device: d.Address, Failure: fault.ToSerializable(df), At: d.clock.Now()})
}

// Attach drives Detached -> Attaching -> Stopped and applies the
// blueprint's derived-property wiring (spec.md §4.F).
func (d *Device) Attach(ctx context.Context) error {
	if _, err := d.fireLifecycle(blueprint.EventAttach); err != nil {
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}
	if _, err := d.fireLifecycle(blueprint.EventReset); err != nil {
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}
	d.scheduler.start()
	d.emit(ports.DeviceAttached{Device: d.Address, At: d.clock.Now()})
	return nil
}

// Detach stops if running, then drives Stopped -> Detaching -> Detached.
func (d *Device) Detach(ctx context.Context, reason string) error {
	if d.lifecycle.State() == blueprint.StateRunning {
		if err := d.Stop(ctx); err != nil {
			return err
		}
	}
	if _, err := d.fireLifecycle(blueprint.EventDetach); err != nil {
		return fault.Wrap("detach", fault.KindLifecycleError, err)
	}
	d.scheduler.stop()
	if _, err := d.fireLifecycle(blueprint.EventReset); err != nil {
		return fault.Wrap("detach", fault.KindLifecycleError, err)
	}
	d.emit(ports.DeviceDetached{Device: d.Address, Reason: reason, At: d.clock.Now()})
	close(d.messages)
	return nil
}

// Start drives Stopped -> Starting -> Running.
func (d *Device) Start(ctx context.Context) error {
	if _, err := d.fireLifecycle(blueprint.EventStart); err != nil {
		return fault.Wrap("start", fault.KindLifecycleError, err)
	}
	if _, err := d.fireLifecycle(blueprint.EventReset); err != nil {
		return fault.Wrap("start", fault.KindLifecycleError, err)
	}
	return nil
}

// Stop drives Running -> Stopping -> Stopped.
func (d *Device) Stop(ctx context.Context) error {
	if _, err := d.fireLifecycle(blueprint.EventStop); err != nil {
		return fault.Wrap("stop", fault.KindLifecycleError, err)
	}
	if _, err := d.fireLifecycle(blueprint.EventReset); err != nil {
		return fault.Wrap("stop", fault.KindLifecycleError, err)
	}
	return nil
}

// Fail drives the device to Failed from any operational state, emitting
// LifecycleStateChanged so the owning Hub's pump reacts to the failure
// without waiting for its periodic sweep.
func (d *Device) Fail(df *fault.DeviceFault) {
	d.fireLifecycleWithArgs(blueprint.EventFail, map[string]any{"failure": df})
}

// Recover posts Reset (Failed -> Stopped) followed by Start, as the
// restart policy's attempt #n does after its backoff delay
// (spec.md §4.F "Restart policy").
func (d *Device) Recover(ctx context.Context) error {
	if _, err := d.fireLifecycle(blueprint.EventReset); err != nil {
		return fault.Wrap("recover", fault.KindLifecycleError, err)
	}
	return d.Start(ctx)
}

// ReadProperty implements spec.md §4.E readProperty.
func (d *Device) ReadProperty(ctx context.Context, prop name.Name, ec blueprint.ExecContext) (meta.Meta, *fault.DeviceFault) {
	ec.Device = d.Address.Device
	spec, ok := d.Blueprint.Properties[prop.String()]
	if !ok {
		return meta.Empty, fault.New(fault.KindPropertyError, "PROPERTY_NOT_FOUND", fmt.Sprintf("property %q not found", prop))
	}
	if !spec.Readable {
		return meta.Empty, fault.New(fault.KindPropertyError, "NOT_READABLE", fmt.Sprintf("property %q not readable", prop))
	}

	if spec.Kind == blueprint.KindPhysical {
		if spec.Read == nil {
			return meta.Empty, fault.New(fault.KindPropertyError, "NO_READ_HANDLE", fmt.Sprintf("property %q has no read handle", prop))
		}
		v, err := spec.Read(ec)
		if err != nil {
			return meta.Empty, fault.New(fault.KindPropertyError, "READ_FAILED", err.Error())
		}
		return v, nil
	}

	d.mu.RLock()
	c, ok := d.cells[prop.String()]
	d.mu.RUnlock()
	if !ok {
		return meta.Empty, fault.New(fault.KindPropertyError, "PROPERTY_NOT_FOUND", fmt.Sprintf("property %q not found", prop))
	}
	return c.Get().Value, nil
}

// WriteProperty implements spec.md §4.E writeProperty: validation rules,
// then required-locks acquisition, then the write handle, then the
// backing cell update if logical.
func (d *Device) WriteProperty(ctx context.Context, prop name.Name, value meta.Meta, ec blueprint.ExecContext) *fault.DeviceFault {
	ec.Device = d.Address.Device
	spec, ok := d.Blueprint.Properties[prop.String()]
	if !ok {
		return fault.New(fault.KindPropertyError, "PROPERTY_NOT_FOUND", fmt.Sprintf("property %q not found", prop))
	}
	if !spec.Mutable {
		return fault.New(fault.KindPropertyError, "NOT_MUTABLE", fmt.Sprintf("property %q not mutable", prop))
	}

	if err := meta.RunRules(value, spec.ValidationRules); err != nil {
		return fault.New(fault.KindPropertyError, "VALIDATION_ERROR", err.Error())
	}

	release, err := d.locks.acquireAll(ctx, spec.RequiredLocks)
	if err != nil {
		return fault.New(fault.KindTimeout, "LOCK_TIMEOUT", err.Error())
	}
	defer release()

	if spec.Write != nil {
		if err := spec.Write(ec, value); err != nil {
			return fault.New(fault.KindPropertyError, "WRITE_FAILED", err.Error())
		}
	}

	if spec.Kind == blueprint.KindLogical {
		d.mu.RLock()
		c, ok := d.cells[prop.String()]
		d.mu.RUnlock()
		if ok {
			c.Update(value)
			d.publishPropertyChanged(prop, c.Get())
			d.scheduler.notify(prop.String())
		}
	}

	return nil
}

func (d *Device) publishPropertyChanged(prop name.Name, sv cell.StateValue[meta.Meta]) {
	d.emit(ports.PropertyChanged{
		Device:   d.Address,
		Property: prop,
		Value:    sv.Value,
		Origin:   sv.OriginTime,
		Server:   sv.ServerTime,
		Quality:  sv.Quality.Level().String(),
		Code:     sv.Quality.Code(),
	})
}

// Execute implements spec.md §4.E execute: precondition predicates, then
// timeout/deadline, with on-invoke/on-success/on-failure operational
// events.
func (d *Device) Execute(ctx context.Context, action name.Name, input meta.Meta, ec blueprint.ExecContext) (meta.Meta, *fault.DeviceFault) {
	ec.Device = d.Address.Device
	spec, ok := d.Blueprint.Actions[action.String()]
	if !ok {
		return meta.Empty, fault.New(fault.KindActionError, "ACTION_NOT_FOUND", fmt.Sprintf("action %q not found", action))
	}

	if d.lifecycle.State() != blueprint.StateRunning {
		return meta.Empty, fault.New(fault.KindActionError, "NOT_RUNNING", "device is not Running")
	}

	for _, pred := range spec.RequiredPredicates {
		d.mu.RLock()
		c, ok := d.cells[pred]
		d.mu.RUnlock()
		if !ok {
			return meta.Empty, fault.New(fault.KindActionError, "PRECONDITION_NOT_MET", fmt.Sprintf("predicate %q not found", pred))
		}
		b, _ := c.Get().Value.BoolValue()
		if !b {
			return meta.Empty, fault.New(fault.KindActionError, "PRECONDITION_NOT_MET", fmt.Sprintf("predicate %q is not true", pred))
		}
	}

	release, err := d.locks.acquireAll(ctx, spec.RequiredLocks)
	if err != nil {
		return meta.Empty, fault.New(fault.KindTimeout, "LOCK_TIMEOUT", err.Error())
	}
	defer release()

	callCtx := ctx
	var cancel context.CancelFunc
	if spec.DefaultTimeout != nil {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.DefaultTimeout.Millis)*time.Millisecond)
		defer cancel()
	}

	d.postOperationalSignal(spec, "on-invoke")

	if spec.Handle == nil {
		d.postOperationalSignal(spec, "on-failure")
		return meta.Empty, fault.New(fault.KindActionError, "NO_HANDLE", fmt.Sprintf("action %q has no handle", action))
	}

	type result struct {
		out meta.Meta
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		out, err := spec.Handle(ec, input)
		resultCh <- result{out, err}
	}()

	select {
	case <-callCtx.Done():
		d.postOperationalSignal(spec, "on-failure")
		return meta.Empty, fault.New(fault.KindTimeout, "TIMEOUT", "action timed out")
	case r := <-resultCh:
		if r.err != nil {
			d.postOperationalSignal(spec, "on-failure")
			return meta.Empty, fault.New(fault.KindActionError, "ACTION_FAILED", r.err.Error())
		}
		d.postOperationalSignal(spec, "on-success")
		return r.out, nil
	}
}

func (d *Device) postOperationalSignal(spec blueprint.ActionSpec, phase string) {
	if d.operational == nil {
		return
	}
	d.operational.Fire(fsm.Event(spec.Name+":"+phase), nil)
}

// PostSignal fires name into the operational FSM (spec.md §4.E
// postSignal), returning false if no transition accepts it.
func (d *Device) PostSignal(sigName string, m meta.Meta) bool {
	if d.operational == nil {
		return false
	}
	_, err := d.operational.Fire(fsm.Event(sigName), map[string]any{"meta": m})
	return err == nil
}

// Cell exposes a property's backing cell for bindings and guards.
func (d *Device) Cell(prop string) (*cell.Cell[meta.Meta], bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cells[prop]
	return c, ok
}
