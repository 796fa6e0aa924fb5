package blueprint

// Driver fills in a decoded Blueprint's function-valued fields (Read,
// Write, Handle, Derive, lifecycle/operational FSM builders) for the
// concrete backing implementation named by Blueprint.Driver — e.g. an
// in-memory simulator, a containerized process (pkg/adapters/
// containerdriver), or a remote peer proxy.
type Driver func(bp Blueprint) (Blueprint, error)

// Registry resolves a Blueprint's Driver name to a registered Driver
// function, mirroring how a blueprint catalog pairs declarative YAML
// with a named Go implementation.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds an empty driver Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register associates name with a Driver.
func (r *Registry) Register(name string, d Driver) {
	r.drivers[name] = d
}

// Wire looks up bp.Driver and applies it, returning the input blueprint
// unchanged if no Driver name is set.
func (r *Registry) Wire(bp Blueprint) (Blueprint, error) {
	if bp.Driver == "" {
		return bp, nil
	}
	d, ok := r.drivers[bp.Driver]
	if !ok {
		return bp, &ErrUnknownDriver{Name: bp.Driver}
	}
	return d(bp)
}

// ErrUnknownDriver is returned by Wire for an unregistered driver name.
type ErrUnknownDriver struct{ Name string }

func (e *ErrUnknownDriver) Error() string { return "blueprint: unknown driver " + e.Name }
