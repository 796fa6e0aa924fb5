package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/log"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// ErrDeadlineExceeded is the cause recorded on a Result when a run's
// deadline elapses before the plan finishes (spec.md §4.H "Deadline
// enforcement").
var ErrDeadlineExceeded = errors.New("coordinator: deadline exceeded")

// Config configures a new Coordinator.
type Config struct {
	Hub     HubPort
	Clock   ports.Clock
	Broker  ports.MessageBroker
	Cache   ports.ResultCache
	Tasks   ports.TaskExecutor
	Metrics ports.MetricCollector
}

// Coordinator executes TransactionPlan trees against a Hub with Saga
// compensation, per spec.md §4.H. Grounded on pkg/scheduler and
// pkg/reconciler's periodic-cycle shape for the deadline watchdog.
type Coordinator struct {
	hub     HubPort
	clock   ports.Clock
	broker  ports.MessageBroker
	cache   ports.ResultCache
	tasks   ports.TaskExecutor
	metrics ports.MetricCollector

	signals *signalTable
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetricCollector{}
	}
	return &Coordinator{
		hub:     cfg.Hub,
		clock:   cfg.Clock,
		broker:  cfg.Broker,
		cache:   cfg.Cache,
		tasks:   cfg.Tasks,
		metrics: metrics,
		signals: newSignalTable(),
	}
}

// Signal releases every AwaitSignal node currently waiting on signalID
// across all in-flight runs.
func (c *Coordinator) Signal(signalID string, value meta.Meta) {
	c.signals.Release(signalID, value)
}

// WatchInvalidations subscribes to topic on the broker and invalidates
// every cache entry matching pattern whenever an event arrives, per
// spec.md §4.H "Invalidation on broker events matching patterns".
func (c *Coordinator) WatchInvalidations(ctx context.Context, topic, pattern string) error {
	if c.broker == nil || c.cache == nil {
		return nil
	}
	sub, err := c.broker.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := c.cache.Invalidate(ctx, pattern); err != nil {
					log.WithComponent("coordinator").Error().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Execute runs plan to completion under ec and principal, enforcing
// deadline bounded by both plan.deadline and ec.Deadline (spec.md §4.H
// step 2), then initiates full Saga rollback on failure.
func (c *Coordinator) Execute(ctx context.Context, plan *Plan, ec blueprint.ExecContext, principal ports.Principal, planDeadline Deadline) Result {
	if ec.Correlation == "" {
		ec.Correlation = name.CorrelationID(uuid.New().String())
	}
	deadline := effectiveDeadline(planDeadline, ec)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if deadline.IsSet {
		go c.watchDeadline(runCtx, cancel, deadline)
	}

	r := newRun(ec, principal, deadline)

	logger := log.WithCorrelation(string(ec.Correlation))

	_, err := c.executeNode(runCtx, r, plan)
	if err == nil {
		c.metrics.IncCounter("devicehub_coordinator_runs_total", map[string]string{"outcome": "success"})
		return Result{Outcome: Success, Outputs: snapshotOutputs(r)}
	}

	if runCtx.Err() != nil && deadline.IsSet && c.clock.Now().After(deadline.At) {
		err = fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
	}

	logger.Warn().Err(err).Msg("transaction failed, rolling back")
	c.rollback(ctx, r)

	c.metrics.IncCounter("devicehub_coordinator_runs_total", map[string]string{"outcome": "failure"})
	return Result{Outcome: Failure, Cause: err, Outputs: snapshotOutputs(r)}
}

func effectiveDeadline(planDeadline Deadline, ec blueprint.ExecContext) Deadline {
	d := planDeadline
	if !ec.Deadline.IsZero() {
		if !d.IsSet || ec.Deadline.Before(d.At) {
			d = Deadline{At: ec.Deadline, IsSet: true}
		}
	}
	return d
}

func (c *Coordinator) watchDeadline(ctx context.Context, cancel context.CancelFunc, deadline Deadline) {
	delay := deadline.At.Sub(c.clock.Now())
	if delay <= 0 {
		cancel()
		return
	}
	t := c.clock.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C():
		cancel()
	case <-ctx.Done():
	}
}

func snapshotOutputs(r *run) map[string]meta.Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]meta.Meta, len(r.outputs))
	for k, v := range r.outputs {
		out[k] = v
	}
	return out
}

// rollback pops the compensation stack in LIFO order and executes each
// compensation plan, honoring each failed compensation's
// CompensationPolicy (spec.md §4.H step 5).
func (c *Coordinator) rollback(ctx context.Context, r *run) {
	for _, comp := range r.popCompensations() {
		if _, err := c.executeNode(ctx, r, comp); err != nil {
			switch comp.CompensationPolicy {
			case CompensationContinueAndFlag:
				log.WithCorrelation(string(r.correlation)).Error().Err(err).Msg("compensation failed, continuing")
			case CompensationRetry:
				c.retryCompensation(ctx, r, comp)
			default: // CompensationAbort
				log.WithCorrelation(string(r.correlation)).Error().Err(err).Msg("compensation failed, aborting rollback")
				return
			}
		}
	}
}

func (c *Coordinator) retryCompensation(ctx context.Context, r *run, comp *Plan) {
	policy := comp.Retry
	if policy == nil {
		policy = &RetryPolicy{MaxAttempts: 3, Strategy: BackoffFixed, Base: time.Second}
	}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if !sleepOrCancel(c.clock, backoffDelay(*policy, attempt), ctx.Done()) {
			return
		}
		if _, err := c.executeNode(ctx, r, comp); err == nil {
			return
		}
	}
}

// executeNode dispatches p by Kind, wrapping the attempt with
// idempotency, per-node timeout, and retry per spec.md §4.H step 3.
func (c *Coordinator) executeNode(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	if p == nil {
		return meta.Empty, nil
	}
	if rec, ok := r.lookupIdempotent(p.Key); ok {
		return rec.output, rec.err
	}

	out, err := c.executeWithRetry(ctx, r, p)
	r.recordIdempotent(p.Key, out, err)

	if err == nil {
		r.pushCompensation(p.Compensation)
	}
	return out, err
}

func (c *Coordinator) executeWithRetry(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	policy := p.Retry
	maxAttempts := 1
	if policy != nil {
		maxAttempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := c.executeOnce(ctx, r, p)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return meta.Empty, ctx.Err()
		}
		if policy != nil && attempt < maxAttempts {
			if !sleepOrCancel(c.clock, backoffDelay(*policy, attempt), ctx.Done()) {
				return meta.Empty, ctx.Err()
			}
		}
	}
	return meta.Empty, lastErr
}

func (c *Coordinator) executeOnce(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	nodeCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	switch p.Kind {
	case NodeSequence:
		return c.execSequence(nodeCtx, r, p)
	case NodeParallel:
		return c.execParallel(nodeCtx, r, p)
	case NodeCondition:
		return c.execCondition(nodeCtx, r, p)
	case NodeLoop:
		return c.execLoop(nodeCtx, r, p)
	case NodeDelay:
		return c.execDelay(nodeCtx, p)
	case NodeAwaitPredicate:
		return c.execAwaitPredicate(nodeCtx, r, p)
	case NodeAwaitSignal:
		return c.execAwaitSignal(nodeCtx, p)
	case NodeInvoke:
		return c.execInvoke(nodeCtx, r, p)
	case NodeRunTask:
		return c.execRunTask(nodeCtx, r, p)
	case NodeWriteProperty:
		return c.execWriteProperty(nodeCtx, r, p)
	case NodeAttach:
		return meta.Empty, c.hub.Attach(nodeCtx, p.TargetDevice, blueprint.ID(p.BlueprintID), blueprint.LocalChildConfig{})
	case NodeDetach:
		return meta.Empty, c.hub.Detach(nodeCtx, p.TargetDevice)
	case NodeStart:
		return meta.Empty, c.hub.Start(nodeCtx, p.TargetDevice)
	case NodeStop:
		return meta.Empty, c.hub.Stop(nodeCtx, p.TargetDevice)
	default:
		return meta.Empty, fmt.Errorf("coordinator: unknown node kind %d", p.Kind)
	}
}

func (c *Coordinator) execSequence(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	for _, child := range p.Children {
		if _, err := c.executeNode(ctx, r, child); err != nil {
			return meta.Empty, err
		}
	}
	return meta.Empty, nil
}

func (c *Coordinator) execParallel(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]error, len(p.Children))
	var wg sync.WaitGroup
	for i, child := range p.Children {
		wg.Add(1)
		go func(i int, child *Plan) {
			defer wg.Done()
			_, err := c.executeNode(childCtx, r, child)
			results[i] = err
			if err != nil && p.FailureStrategy == FailFast {
				cancel()
			}
		}(i, child)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	var firstErr error
	for _, err := range results {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			succeeded++
		}
	}

	switch p.FailureStrategy {
	case BestEffort:
		if succeeded == 0 {
			return meta.Empty, firstErr
		}
		return meta.Empty, nil
	default: // FailFast, CollectAll
		if failed > 0 {
			return meta.Empty, firstErr
		}
		return meta.Empty, nil
	}
}

func (c *Coordinator) execCondition(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	val, err := c.hub.ReadProperty(ctx, r.principal, p.PredicateDevice, p.PredicateProperty, r.ctx)
	if err != nil {
		return meta.Empty, err
	}
	if val.Equal(p.ExpectedValue) {
		return c.executeNode(ctx, r, p.Then)
	}
	if p.Else != nil {
		return c.executeNode(ctx, r, p.Else)
	}
	return meta.Empty, nil
}

func (c *Coordinator) execLoop(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	iterable, ok := r.getOutput(p.IterableKey)
	if !ok {
		return meta.Empty, fmt.Errorf("coordinator: loop iterable %q not found in run context", p.IterableKey)
	}
	for _, childName := range iterable.ChildNames() {
		item, _ := iterable.Child(childName)
		r.setOutput(p.LoopVar, item)
		if _, err := c.executeNode(ctx, r, p.Body); err != nil {
			return meta.Empty, err
		}
	}
	return meta.Empty, nil
}

func (c *Coordinator) execDelay(ctx context.Context, p *Plan) (meta.Meta, error) {
	if !sleepOrCancel(c.clock, p.Delay, ctx.Done()) {
		return meta.Empty, ctx.Err()
	}
	return meta.Empty, nil
}

func (c *Coordinator) execAwaitPredicate(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	cel, ok := c.hub.PropertyCell(p.AwaitDevice, p.AwaitProperty)
	if !ok {
		return meta.Empty, fmt.Errorf("coordinator: predicate %s/%s not found", p.AwaitDevice, p.AwaitProperty)
	}
	if b, isBool := cel.Get().Value.BoolValue(); isBool && b {
		return meta.Empty, nil
	}

	matched := make(chan struct{}, 1)
	unsub := cel.Subscribe(func(sv cell.StateValue[meta.Meta]) {
		if b, isBool := sv.Value.BoolValue(); isBool && b {
			select {
			case matched <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	var timeoutCh <-chan time.Time
	if p.AwaitTimeout > 0 {
		t := c.clock.NewTimer(p.AwaitTimeout)
		defer t.Stop()
		timeoutCh = t.C()
	}

	select {
	case <-matched:
		return meta.Empty, nil
	case <-timeoutCh:
		return meta.Empty, fmt.Errorf("coordinator: await predicate %s/%s timed out", p.AwaitDevice, p.AwaitProperty)
	case <-ctx.Done():
		return meta.Empty, ctx.Err()
	}
}

func (c *Coordinator) execAwaitSignal(ctx context.Context, p *Plan) (meta.Meta, error) {
	ch := c.signals.wait(p.SignalID)

	var timeoutCh <-chan time.Time
	if p.AwaitTimeout > 0 {
		t := c.clock.NewTimer(p.AwaitTimeout)
		defer t.Stop()
		timeoutCh = t.C()
	}

	select {
	case v := <-ch:
		return v, nil
	case <-timeoutCh:
		return meta.Empty, fmt.Errorf("coordinator: signal %q timed out", p.SignalID)
	case <-ctx.Done():
		return meta.Empty, ctx.Err()
	}
}

// execInvoke calls the target action, consulting the Coordinator's
// ResultCache first when the action declares a CachePolicy (spec.md
// §4.H "Caching").
func (c *Coordinator) execInvoke(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	policy := c.actionCachePolicy(p.Device, p.Action)

	if policy != nil && c.cache != nil {
		key := cacheKeyFor(p.Device.String()+"/"+p.Action.String(), p.Input, r.principal, policy.Scope)
		if raw, ok := c.cache.Get(ctx, key); ok {
			var cached meta.Meta
			if err := json.Unmarshal(raw, &cached); err == nil {
				r.setOutput(p.OutputKey, cached)
				return cached, nil
			}
		}
	}

	out, err := c.hub.Execute(ctx, r.principal, p.Device, p.Action, p.Input, r.ctx)
	if err != nil {
		return meta.Empty, err
	}
	r.setOutput(p.OutputKey, out)

	if policy != nil && c.cache != nil {
		key := cacheKeyFor(p.Device.String()+"/"+p.Action.String(), p.Input, r.principal, policy.Scope)
		if raw, merr := json.Marshal(out); merr == nil {
			_ = c.cache.Set(ctx, key, raw, policy.TTL)
		}
	}
	return out, nil
}

func (c *Coordinator) actionCachePolicy(dev, action name.Name) *blueprint.CachePolicy {
	spec, ok := c.hub.ActionSpec(dev, action)
	if !ok {
		return nil
	}
	return spec.Cache
}

// execRunTask delegates to the external TaskExecutor port (spec.md §4.H
// "RunTask"), converting to/from the run-scoped Meta representation.
func (c *Coordinator) execRunTask(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	if c.tasks == nil {
		return meta.Empty, fault.Wrap("runTask", fault.KindActionError, fmt.Errorf("no TaskExecutor configured"))
	}
	args, err := metaToArgs(p.TaskInput)
	if err != nil {
		return meta.Empty, err
	}
	result, err := c.tasks.Run(ctx, p.TaskBlueprintID, args)
	if err != nil {
		return meta.Empty, err
	}
	out, err := argsToMeta(result)
	if err != nil {
		return meta.Empty, err
	}
	r.setOutput(p.OutputKey, out)
	return out, nil
}

func (c *Coordinator) execWriteProperty(ctx context.Context, r *run, p *Plan) (meta.Meta, error) {
	if err := c.hub.WriteProperty(ctx, r.principal, p.Device, p.Property, p.Value, r.ctx); err != nil {
		return meta.Empty, err
	}
	return meta.Empty, nil
}

// cacheKeyFor builds a canonical ResultCache key from an action
// invocation (spec.md §4.H "Caching").
func cacheKeyFor(action string, input meta.Meta, principal ports.Principal, scope blueprint.CacheScope) ports.CacheKey {
	b, _ := json.Marshal(input)
	key := ports.CacheKey{Action: action, InputDigest: string(b)}
	if scope == blueprint.ScopePerPrincipal {
		key.PrincipalDigest = principal.Subject
	}
	return key
}
