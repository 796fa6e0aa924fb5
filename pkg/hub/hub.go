// Package hub implements the Hub Supervisor (spec.md §4.F): the
// process-wide runtime that owns the device tree, drives attach/detach
// and start/stop, enforces child error and restart policies, realizes
// property bindings, and aggregates the per-device message flows into
// one hub event bus. Grounded on pkg/manager.Manager's tree-ownership
// shape and pkg/reconciler.Reconciler's background sweep loop, reused
// here as the restart-policy sweep.
package hub

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/device"
	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/log"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
	"github.com/cuemby/devicehub/pkg/tracing"
)

// Event wraps a device Message with an ExecCtx slot for its correlation
// id and trace headers (spec.md §4.F "DeviceHubEvent"). Events that pump
// forwards from a device's message flow leave ExecCtx as the zero value:
// device messages carry no correlation id or trace headers.
type Event struct {
	Message device.Message
	ExecCtx blueprint.ExecContext
}

// Hub is the process-wide device tree supervisor.
type Hub struct {
	ID           string
	registry     ports.BlueprintRegistry
	drivers      *blueprint.Registry
	transformers *blueprint.TransformerRegistry
	authz        ports.AuthorizationService
	broker       ports.MessageBroker
	metrics      ports.MetricCollector
	clock        ports.Clock

	mu          sync.RWMutex
	devices     map[string]*device.Device
	configs     map[string]blueprint.LocalChildConfig
	bindingJobs map[string][]*bindingJob

	events chan Event

	stopCh chan struct{}

	restarts   map[string]*restartState
	restartsMu sync.Mutex
}

type restartState struct {
	attempt int
}

// Config configures a new Hub.
type Config struct {
	ID           string
	Registry     ports.BlueprintRegistry
	Drivers      *blueprint.Registry
	Transformers *blueprint.TransformerRegistry
	Authz        ports.AuthorizationService
	Broker       ports.MessageBroker
	Metrics      ports.MetricCollector
	Clock        ports.Clock
}

// New builds a Hub with an empty device tree.
func New(cfg Config) *Hub {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetricCollector{}
	}
	drivers := cfg.Drivers
	if drivers == nil {
		drivers = blueprint.NewRegistry()
	}
	transformers := cfg.Transformers
	if transformers == nil {
		transformers = blueprint.NewTransformerRegistry()
	}
	return &Hub{
		ID:           cfg.ID,
		registry:     cfg.Registry,
		drivers:      drivers,
		transformers: transformers,
		authz:        cfg.Authz,
		broker:       cfg.Broker,
		metrics:      metrics,
		clock:        cfg.Clock,
		devices:      make(map[string]*device.Device),
		configs:      make(map[string]blueprint.LocalChildConfig),
		bindingJobs:  make(map[string][]*bindingJob),
		events:       make(chan Event, 1024),
		stopCh:       make(chan struct{}),
		restarts:     make(map[string]*restartState),
	}
}

// Events returns the hub's aggregated event bus.
func (h *Hub) Events() <-chan Event { return h.events }

// Start begins the restart-policy sweep loop.
func (h *Hub) Start() { go h.restartSweepLoop() }

// Stop halts the restart-policy sweep loop.
func (h *Hub) Stop() { close(h.stopCh) }

// Attach resolves blueprintID from the registry, validates it, and
// instantiates a device at n (spec.md §4.F attach).
func (h *Hub) Attach(ctx context.Context, n name.Name, blueprintID blueprint.ID, cfg blueprint.LocalChildConfig) error {
	def, err := h.registry.Get(ctx, string(blueprintID))
	if err != nil {
		return fault.Wrap("attach", fault.KindDeviceNotFound, err)
	}
	bp, err := blueprint.Decode(def)
	if err != nil {
		return fault.Wrap("attach", fault.KindSerializationError, err)
	}
	bp, err = h.drivers.Wire(bp)
	if err != nil {
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}
	bp, err = h.transformers.ResolveBindings(bp)
	if err != nil {
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}
	if err := bp.Validate(); err != nil {
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}

	addr := name.Address{HubID: h.ID, Device: n}

	h.mu.Lock()
	if _, exists := h.devices[n.String()]; exists {
		h.mu.Unlock()
		return fault.Wrap("attach", fault.KindLifecycleError, fmt.Errorf("device %q already attached", n))
	}
	dev, err := device.New(addr, bp, h.clock)
	if err != nil {
		h.mu.Unlock()
		return fault.Wrap("attach", fault.KindLifecycleError, err)
	}
	h.devices[n.String()] = dev
	h.configs[n.String()] = cfg
	h.mu.Unlock()

	if err := dev.Attach(ctx); err != nil {
		return err
	}

	go h.pump(dev)

	h.metrics.IncCounter("devicehub_hub_devices_attached_total", map[string]string{"hub": h.ID})
	return nil
}

// Detach stops n if running, then removes it from the tree
// (spec.md §4.F detach).
func (h *Hub) Detach(ctx context.Context, n name.Name) error {
	h.mu.Lock()
	dev, ok := h.devices[n.String()]
	if !ok {
		h.mu.Unlock()
		return fault.Wrap("detach", fault.KindDeviceNotFound, fmt.Errorf("device %q not found", n))
	}
	delete(h.devices, n.String())
	delete(h.configs, n.String())
	jobs := h.bindingJobs[n.String()]
	delete(h.bindingJobs, n.String())
	h.mu.Unlock()

	stopBindings(jobs)

	return dev.Detach(ctx, "detached by hub")
}

// Start drives n's lifecycle FSM to Running.
func (h *Hub) Start(ctx context.Context, n name.Name) error {
	dev, err := h.FindDevice(n)
	if err != nil {
		return err
	}
	return dev.Start(ctx)
}

// Stop drives n's lifecycle FSM to Stopped.
func (h *Hub) Stop(ctx context.Context, n name.Name) error {
	dev, err := h.FindDevice(n)
	if err != nil {
		return err
	}
	return dev.Stop(ctx)
}

// FindDevice looks up a device by name within this hub's tree.
func (h *Hub) FindDevice(n name.Name) (*device.Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dev, ok := h.devices[n.String()]
	if !ok {
		return nil, fault.Wrap("findDevice", fault.KindDeviceNotFound, fmt.Errorf("device %q not found", n))
	}
	return dev, nil
}

// Devices returns a snapshot copy of the device tree keyed by name.
func (h *Hub) Devices() map[string]*device.Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*device.Device, len(h.devices))
	for k, v := range h.devices {
		out[k] = v
	}
	return out
}

// ReadProperty authorizes and delegates to the target device.
func (h *Hub) ReadProperty(ctx context.Context, p ports.Principal, n, prop name.Name, ec blueprint.ExecContext) (meta.Meta, error) {
	ctx = tracing.Extract(ctx, ec.TraceHeaders)
	dev, err := h.FindDevice(n)
	if err != nil {
		return meta.Empty, err
	}
	addr := name.Address{HubID: h.ID, Device: n}
	if h.authz != nil {
		if err := h.authz.Authorize(ctx, p, ports.CapReadProperty, addr); err != nil {
			return meta.Empty, fault.Wrap("readProperty", fault.KindPropertyError, err)
		}
	}
	v, df := dev.ReadProperty(ctx, prop, ec)
	if df != nil {
		return meta.Empty, df
	}
	return v, nil
}

// WriteProperty authorizes and delegates to the target device.
func (h *Hub) WriteProperty(ctx context.Context, p ports.Principal, n, prop name.Name, value meta.Meta, ec blueprint.ExecContext) error {
	ctx = tracing.Extract(ctx, ec.TraceHeaders)
	dev, err := h.FindDevice(n)
	if err != nil {
		return err
	}
	addr := name.Address{HubID: h.ID, Device: n}
	if h.authz != nil {
		if err := h.authz.Authorize(ctx, p, ports.CapWriteProperty, addr); err != nil {
			return fault.Wrap("writeProperty", fault.KindPropertyError, err)
		}
	}
	if df := dev.WriteProperty(ctx, prop, value, ec); df != nil {
		return df
	}
	h.publishTraced(ctx, addr, "property.written", prop, ec)
	return nil
}

// Execute authorizes and delegates to the target device's action.
func (h *Hub) Execute(ctx context.Context, p ports.Principal, n, action name.Name, input meta.Meta, ec blueprint.ExecContext) (meta.Meta, error) {
	ctx = tracing.Extract(ctx, ec.TraceHeaders)
	dev, err := h.FindDevice(n)
	if err != nil {
		return meta.Empty, err
	}
	addr := name.Address{HubID: h.ID, Device: n}
	if h.authz != nil {
		if err := h.authz.Authorize(ctx, p, ports.CapInvokeAction, addr); err != nil {
			return meta.Empty, fault.Wrap("execute", fault.KindActionError, err)
		}
	}
	out, df := dev.Execute(ctx, action, input, ec)
	if df != nil {
		return meta.Empty, df
	}
	h.publishTraced(ctx, addr, "action.invoked", action, ec)
	return out, nil
}

// publishTraced publishes a lightweight broker event for a completed
// property write or action invocation, carrying the ExecutionContext's
// trace headers (or ones freshly captured from ctx if the caller
// didn't set any) so a remote observer can correlate it with its
// originating request (spec.md §9 "Observability headers").
func (h *Hub) publishTraced(ctx context.Context, addr name.Address, eventType string, subject name.Name, ec blueprint.ExecContext) {
	if h.broker == nil {
		return
	}
	headers := ec.TraceHeaders
	if headers == nil {
		headers = tracing.Inject(ctx)
	}
	topic := "devicehub." + h.ID + "." + addr.Device.String()
	_ = h.broker.Publish(ctx, topic, ports.BrokerEvent{Type: eventType, Payload: subject, Headers: headers})
}

// PropertyCell exposes a device property's underlying cell for direct
// observation, used by the Coordinator's AwaitPredicate plan node.
func (h *Hub) PropertyCell(n, prop name.Name) (*cell.Cell[meta.Meta], bool) {
	dev, err := h.FindDevice(n)
	if err != nil {
		return nil, false
	}
	return dev.Cell(prop.String())
}

// ActionSpec returns the target device's declared spec for action, used
// by the Coordinator to resolve a CachePolicy before Invoke.
func (h *Hub) ActionSpec(n, action name.Name) (blueprint.ActionSpec, bool) {
	dev, err := h.FindDevice(n)
	if err != nil {
		return blueprint.ActionSpec{}, false
	}
	spec, ok := dev.Blueprint.Actions[action.String()]
	return spec, ok
}

// pump forwards a device's message flow into the hub's aggregated event
// bus, reacting to Failed transitions per the child's error policy
// (spec.md §4.F "child error policies"), and publishes externally via
// the MessageBroker.
func (h *Hub) pump(dev *device.Device) {
	for msg := range dev.Messages() {
		h.events <- Event{Message: msg}

		if h.broker != nil {
			h.publishExternally(dev, msg)
		}

		if lc, ok := msg.Body.(ports.LifecycleStateChanged); ok && lc.To == string(blueprint.StateFailed) {
			h.handleChildFailed(dev)
		}
	}
}

func (h *Hub) publishExternally(dev *device.Device, msg device.Message) {
	topic := "devicehub." + h.ID + "." + dev.Address.Device.String()
	_ = h.broker.Publish(context.Background(), topic, ports.BrokerEvent{
		Type:    fmt.Sprintf("%T", msg.Body),
		Payload: msg.Body,
	})
}

func (h *Hub) handleChildFailed(dev *device.Device) {
	n := dev.Address.Device
	h.mu.RLock()
	cfg, ok := h.configs[n.String()]
	h.mu.RUnlock()
	if !ok {
		return
	}

	switch cfg.OnError {
	case blueprint.Restart:
		h.scheduleRestart(n, cfg.Restart)
	case blueprint.StopPolicy:
		_ = dev.Stop(context.Background())
	case blueprint.Escalate:
		log.WithHubID(h.ID).Warn().Str("device", n.String()).Msg("escalating child failure to hub")
	case blueprint.Ignore:
	}
}

func (h *Hub) scheduleRestart(n name.Name, policy blueprint.RestartPolicy) {
	h.restartsMu.Lock()
	st, ok := h.restarts[n.String()]
	if !ok {
		st = &restartState{}
		h.restarts[n.String()] = st
	}
	st.attempt++
	attempt := st.attempt
	h.restartsMu.Unlock()

	if attempt > policy.MaxAttempts {
		return
	}

	delay := backoffDelay(policy, attempt)
	timer := h.clock.NewTimer(delay)

	go func() {
		<-timer.C()
		dev, err := h.FindDevice(n)
		if err != nil {
			return
		}
		if err := dev.Recover(context.Background()); err == nil && policy.ResetOnSuccess {
			h.restartsMu.Lock()
			delete(h.restarts, n.String())
			h.restartsMu.Unlock()
		}
	}()
}

// backoffDelay computes attempt #n's wait per strategy (spec.md §4.F
// "Restart policy").
func backoffDelay(p blueprint.RestartPolicy, attempt int) time.Duration {
	base := time.Duration(p.Base.Millis) * time.Millisecond
	switch p.Strategy {
	case blueprint.Linear:
		return base * time.Duration(attempt)
	case blueprint.Exponential:
		return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	case blueprint.Fibonacci:
		return base * time.Duration(fib(attempt))
	default:
		return base
	}
}

func fib(n int) int {
	if n <= 1 {
		return 1
	}
	a, b := 1, 1
	for i := 2; i < n; i++ {
		a, b = b, a+b
	}
	return b
}

// restartSweepLoop is a background safety net that every 5 seconds
// re-applies the child error policy to every device in Failed, whether
// or not a restart is already pending, grounded on
// reconciler.Reconciler's ticker loop.
func (h *Hub) restartSweepLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweepFailedDevices()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) sweepFailedDevices() {
	for _, dev := range h.Devices() {
		if dev.LifecycleState() == blueprint.StateFailed {
			h.handleChildFailed(dev)
		}
	}
}
