package hub

import (
	"context"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/device"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

// bindingJob is the live realization of one blueprint.PropertyBinding:
// one subscription on the parent's source cell per binding, removed on
// child detach
// (spec.md §4.F "Bindings").
type bindingJob struct {
	unsub func()
}

// applyBindings wires parent -> child bindings at attach time. Const
// writes once; Source/Transformed subscribe to the parent's source cell
// and write the child on every update, in source order
// (spec.md §5 "a binding sees source updates in source order").
func applyBindings(parent, child *device.Device, bindings []blueprint.PropertyBinding) []*bindingJob {
	var jobs []*bindingJob

	for _, b := range bindings {
		b := b
		switch b.Kind {
		case blueprint.BindConst:
			_ = child.WriteProperty(context.Background(), b.Target, b.ConstValue, blueprint.ExecContext{})

		case blueprint.BindSource, blueprint.BindTransformed:
			srcCell, ok := parent.Cell(b.Source.String())
			if !ok {
				continue
			}
			unsub := srcCell.Subscribe(func(sv cell.StateValue[meta.Meta]) {
				value := sv.Value
				if b.Kind == blueprint.BindTransformed && b.Transformer != nil {
					v, err := b.Transformer(sv.Value, b.Params)
					if err != nil {
						return
					}
					value = v
				}
				_ = child.WriteProperty(context.Background(), b.Target, value, blueprint.ExecContext{})
			})
			jobs = append(jobs, &bindingJob{unsub: unsub})
		}
	}

	return jobs
}

func stopBindings(jobs []*bindingJob) {
	for _, j := range jobs {
		j.unsub()
	}
}

// AttachChild attaches a local child device under parent, applying its
// configured bindings (spec.md §4.F).
func (h *Hub) AttachChild(parentName, childName name.Name, childBlueprintID blueprint.ID, cfg blueprint.LocalChildConfig) error {
	ctx := context.Background()
	if err := h.Attach(ctx, childName, childBlueprintID, cfg); err != nil {
		return err
	}

	parent, err := h.FindDevice(parentName)
	if err != nil {
		return err
	}
	child, err := h.FindDevice(childName)
	if err != nil {
		return err
	}

	jobs := applyBindings(parent, child, cfg.Bindings)

	h.mu.Lock()
	h.bindingJobs[childName.String()] = jobs
	h.mu.Unlock()

	return nil
}
