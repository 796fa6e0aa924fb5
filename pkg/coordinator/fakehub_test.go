package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/internal/clocktest"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// fakeHub is a minimal, in-memory HubPort double driving the Coordinator
// end to end without a real device tree: properties and actions live in
// plain maps, actions are resolved from a caller-installed table.
type fakeHub struct {
	mu         sync.Mutex
	properties map[string]*cell.Cell[meta.Meta]
	actions    map[string]func(ctx context.Context, input meta.Meta) (meta.Meta, error)
	cacheSpecs map[string]blueprint.ActionSpec
	attached   map[string]blueprint.ID
	writes     []string

	failNext map[string]int // key -> remaining failures before success
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		properties: make(map[string]*cell.Cell[meta.Meta]),
		actions:    make(map[string]func(ctx context.Context, input meta.Meta) (meta.Meta, error)),
		cacheSpecs: make(map[string]blueprint.ActionSpec),
		attached:   make(map[string]blueprint.ID),
		failNext:   make(map[string]int),
	}
}

func propKey(n, prop name.Name) string { return n.String() + "#" + prop.String() }

func actionKey(n, action name.Name) string { return n.String() + "#" + action.String() }

func (f *fakeHub) setProperty(clk *clocktest.Clock, n, prop name.Name, v meta.Meta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.properties[propKey(n, prop)] = cell.New[meta.Meta](clk, v)
}

func (f *fakeHub) setAction(n, action name.Name, fn func(ctx context.Context, input meta.Meta) (meta.Meta, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[actionKey(n, action)] = fn
}

func (f *fakeHub) setCachePolicy(n, action name.Name, policy blueprint.CachePolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheSpecs[actionKey(n, action)] = blueprint.ActionSpec{Name: action.String(), Cache: &policy}
}

func (f *fakeHub) failNTimes(n, action name.Name, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[actionKey(n, action)] = count
}

func (f *fakeHub) ReadProperty(ctx context.Context, p ports.Principal, n, prop name.Name, ec blueprint.ExecContext) (meta.Meta, error) {
	f.mu.Lock()
	c, ok := f.properties[propKey(n, prop)]
	f.mu.Unlock()
	if !ok {
		return meta.Empty, fmt.Errorf("fakeHub: property %s/%s not found", n, prop)
	}
	return c.Get().Value, nil
}

func (f *fakeHub) WriteProperty(ctx context.Context, p ports.Principal, n, prop name.Name, value meta.Meta, ec blueprint.ExecContext) error {
	f.mu.Lock()
	c, ok := f.properties[propKey(n, prop)]
	f.writes = append(f.writes, propKey(n, prop))
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("fakeHub: property %s/%s not found", n, prop)
	}
	c.Update(value)
	return nil
}

func (f *fakeHub) Execute(ctx context.Context, p ports.Principal, n, action name.Name, input meta.Meta, ec blueprint.ExecContext) (meta.Meta, error) {
	key := actionKey(n, action)
	f.mu.Lock()
	remaining := f.failNext[key]
	if remaining > 0 {
		f.failNext[key] = remaining - 1
	}
	fn, ok := f.actions[key]
	f.mu.Unlock()

	if remaining > 0 {
		return meta.Empty, fmt.Errorf("fakeHub: simulated failure for %s (%d remaining)", key, remaining-1)
	}
	if !ok {
		return meta.Empty, fmt.Errorf("fakeHub: action %s not found", key)
	}
	return fn(ctx, input)
}

func (f *fakeHub) Attach(ctx context.Context, n name.Name, blueprintID blueprint.ID, cfg blueprint.LocalChildConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[n.String()] = blueprintID
	return nil
}

func (f *fakeHub) Detach(ctx context.Context, n name.Name) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, n.String())
	return nil
}

func (f *fakeHub) Start(ctx context.Context, n name.Name) error { return nil }
func (f *fakeHub) Stop(ctx context.Context, n name.Name) error  { return nil }

func (f *fakeHub) PropertyCell(n, prop name.Name) (*cell.Cell[meta.Meta], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.properties[propKey(n, prop)]
	return c, ok
}

func (f *fakeHub) ActionSpec(n, action name.Name) (blueprint.ActionSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.cacheSpecs[actionKey(n, action)]
	return spec, ok
}

// fakeCache is a minimal in-memory ports.ResultCache.
type fakeCache struct {
	mu   sync.Mutex
	data map[ports.CacheKey][]byte
	gets int
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[ports.CacheKey][]byte)} }

func (c *fakeCache) Get(ctx context.Context, key ports.CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok
}

func (c *fakeCache) Set(ctx context.Context, key ports.CacheKey, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[ports.CacheKey][]byte)
	return nil
}
