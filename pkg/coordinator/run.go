package coordinator

import (
	"sync"
	"time"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// Outcome is the terminal status of a TransactionResult (spec.md §4.H
// "TransactionResult").
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Result is the outcome of running a Plan.
type Result struct {
	Outcome Outcome
	Cause   error
	Outputs map[string]meta.Meta
}

// idemRecord is one completed node's remembered outcome, keyed by its
// plan-declared Key, scoped to a single run (spec.md §4.H step 3
// "idempotency check").
type idemRecord struct {
	output meta.Meta
	err    error
}

// run carries everything a single Plan execution threads through the
// tree: the run-scoped output context, the idempotency table, the
// compensation stack, and the deadline.
type run struct {
	ctx         blueprint.ExecContext
	principal   ports.Principal
	correlation name.CorrelationID
	deadline    Deadline

	mu      sync.Mutex
	outputs map[string]meta.Meta
	idem    map[string]idemRecord

	compMu sync.Mutex
	comp   []*Plan

	cancelled bool
}

func newRun(ec blueprint.ExecContext, p ports.Principal, deadline Deadline) *run {
	return &run{
		ctx:         ec,
		principal:   p,
		correlation: ec.Correlation,
		deadline:    deadline,
		outputs:     make(map[string]meta.Meta),
		idem:        make(map[string]idemRecord),
	}
}

func (r *run) setOutput(key string, v meta.Meta) {
	if key == "" {
		return
	}
	r.mu.Lock()
	r.outputs[key] = v
	r.mu.Unlock()
}

func (r *run) getOutput(key string) (meta.Meta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.outputs[key]
	return v, ok
}

func (r *run) recordIdempotent(key string, v meta.Meta, err error) {
	if key == "" {
		return
	}
	r.mu.Lock()
	r.idem[key] = idemRecord{output: v, err: err}
	r.mu.Unlock()
}

func (r *run) lookupIdempotent(key string) (idemRecord, bool) {
	if key == "" {
		return idemRecord{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.idem[key]
	return rec, ok
}

func (r *run) pushCompensation(p *Plan) {
	if p == nil {
		return
	}
	r.compMu.Lock()
	r.comp = append(r.comp, p)
	r.compMu.Unlock()
}

// popCompensations drains the compensation stack in LIFO order.
func (r *run) popCompensations() []*Plan {
	r.compMu.Lock()
	defer r.compMu.Unlock()
	out := make([]*Plan, len(r.comp))
	for i, j := 0, len(r.comp)-1; j >= 0; i, j = i+1, j-1 {
		out[i] = r.comp[j]
	}
	r.comp = nil
	return out
}

func (r *run) remainingDeadline(clk ports.Clock) (time.Duration, bool) {
	if !r.deadline.IsSet {
		return 0, false
	}
	return r.deadline.At.Sub(clk.Now()), true
}
