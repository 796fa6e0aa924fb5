package device

import (
	"sync"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/ports"
)

// derivedScheduler recomputes DERIVED/PREDICATE cells from their source
// cells on a single goroutine per device, coalescing bursts of near-
// simultaneous source changes into one recomputation (spec.md §4.E
// "Derived cell"). Grounded on pkg/health's single-loop poll/evaluate
// shape, repurposed from periodic polling to change-driven coalescing.
type derivedScheduler struct {
	device *Device

	mu      sync.Mutex
	dirty   map[string]struct{}
	pending chan struct{}
	done    chan struct{}
}

func newDerivedScheduler(d *Device) *derivedScheduler {
	return &derivedScheduler{
		device:  d,
		dirty:   make(map[string]struct{}),
		pending: make(chan struct{}, 1),
	}
}

func (s *derivedScheduler) start() {
	s.done = make(chan struct{})
	go s.loop()
	// Every derived/predicate property must be seeded once on attach.
	for propName, spec := range s.device.Blueprint.Properties {
		if spec.Kind == blueprint.KindDerived || spec.Kind == blueprint.KindPredicate {
			s.notify(propName)
		}
	}
}

func (s *derivedScheduler) stop() {
	if s.done != nil {
		close(s.done)
	}
}

// notify marks a source property dirty and schedules a recomputation
// tick; multiple notifies before the tick runs coalesce into one pass
// (spec.md "multiple near-simultaneous changes coalesce").
func (s *derivedScheduler) notify(changedProp string) {
	s.mu.Lock()
	for propName, spec := range s.device.Blueprint.Properties {
		if spec.Kind != blueprint.KindDerived && spec.Kind != blueprint.KindPredicate {
			continue
		}
		for _, dep := range spec.Dependencies {
			if dep == changedProp {
				s.dirty[propName] = struct{}{}
			}
		}
		if propName == changedProp {
			// direct seed call (from start())
			s.dirty[propName] = struct{}{}
		}
	}
	s.mu.Unlock()

	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *derivedScheduler) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.pending:
			s.recomputeDirty()
		}
	}
}

func (s *derivedScheduler) recomputeDirty() {
	s.mu.Lock()
	names := make([]string, 0, len(s.dirty))
	for n := range s.dirty {
		names = append(names, n)
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	for _, propName := range names {
		s.recompute(propName)
	}
}

func (s *derivedScheduler) recompute(propName string) {
	spec, ok := s.device.Blueprint.Properties[propName]
	if !ok || spec.Derive == nil {
		return
	}

	d := s.device
	values := make([]meta.Meta, 0, len(spec.Dependencies))
	qualities := make([]cell.Quality, 0, len(spec.Dependencies))
	var maxOrigin, maxServer = zeroTime(), zeroTime()

	for _, dep := range spec.Dependencies {
		c, ok := d.Cell(dep)
		if !ok {
			continue
		}
		sv := c.Get()
		values = append(values, sv.Value)
		qualities = append(qualities, sv.Quality)
		if sv.OriginTime.After(maxOrigin) {
			maxOrigin = sv.OriginTime
		}
		if sv.ServerTime.After(maxServer) {
			maxServer = sv.ServerTime
		}
	}

	d.mu.RLock()
	target, ok := d.cells[propName]
	d.mu.RUnlock()
	if !ok {
		return
	}

	result, err := spec.Derive(values)
	if err != nil {
		target.UpdateState(cell.StateValue[meta.Meta]{
			Value:      spec.Initial,
			OriginTime: maxOrigin,
			ServerTime: maxServer,
			Quality:    cell.BadQuality("COMPUTE_ERROR"),
		})
		d.Fail(fault.New(fault.KindPropertyError, "COMPUTE_ERROR", err.Error()))
		return
	}

	quality := cell.CombineAll(qualities)
	sv := cell.StateValue[meta.Meta]{Value: result, OriginTime: maxOrigin, ServerTime: maxServer, Quality: quality}
	target.UpdateState(sv)
	d.publishPropertyChanged(propNameOf(propName), sv)

	if spec.Kind == blueprint.KindPredicate {
		b, _ := result.BoolValue()
		d.emit(ports.PredicateChanged{Device: d.Address, Predicate: propNameOf(propName), Value: b, At: d.clock.Now()})
	}
}
