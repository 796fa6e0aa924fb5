package coordinator

import (
	"context"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/cell"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// HubPort is the subset of *hub.Hub the Coordinator drives a plan
// through. Declared locally so the engine can be exercised against a
// fake in tests without importing the concrete Hub.
type HubPort interface {
	ReadProperty(ctx context.Context, p ports.Principal, n, prop name.Name, ec blueprint.ExecContext) (meta.Meta, error)
	WriteProperty(ctx context.Context, p ports.Principal, n, prop name.Name, value meta.Meta, ec blueprint.ExecContext) error
	Execute(ctx context.Context, p ports.Principal, n, action name.Name, input meta.Meta, ec blueprint.ExecContext) (meta.Meta, error)
	Attach(ctx context.Context, n name.Name, blueprintID blueprint.ID, cfg blueprint.LocalChildConfig) error
	Detach(ctx context.Context, n name.Name) error
	Start(ctx context.Context, n name.Name) error
	Stop(ctx context.Context, n name.Name) error
	PropertyCell(n name.Name, prop name.Name) (*cell.Cell[meta.Meta], bool)
	ActionSpec(n name.Name, action name.Name) (blueprint.ActionSpec, bool)
}
