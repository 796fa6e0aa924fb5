package ports

import (
	"context"

	"github.com/cuemby/devicehub/pkg/name"
)

// Principal identifies the caller of a Hub/Device operation, as resolved
// by an AuthorizationService from an inbound credential.
type Principal struct {
	Subject string
	Roles   []string
}

// Capability is the fine-grained permission checked before a property
// write, action invoke, or attach/detach (spec.md §6 "authorization is a
// pluggable concern").
type Capability string

const (
	CapReadProperty  Capability = "property:read"
	CapWriteProperty Capability = "property:write"
	CapInvokeAction  Capability = "action:invoke"
	CapAttachDevice  Capability = "device:attach"
	CapDetachDevice  Capability = "device:detach"
)

// AuthorizationService authorizes a Principal's action against a target
// device address. Returning an error denies the action.
type AuthorizationService interface {
	Authenticate(ctx context.Context, credential string) (Principal, error)
	Authorize(ctx context.Context, p Principal, cap Capability, target name.Address) error
}

// TaskExecutor runs a named, potentially long-lived unit of work on
// behalf of the Coordinator's RunTask plan nodes (spec.md §4.H),
// decoupling the saga engine from how work actually executes.
type TaskExecutor interface {
	Run(ctx context.Context, taskID string, args map[string]any) (map[string]any, error)
}
