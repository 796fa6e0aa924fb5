package ports

import (
	"context"

	"github.com/cuemby/devicehub/pkg/name"
)

// Snapshot is a point-in-time capture of a device's property StateValues,
// keyed by property Name, serialized as Meta trees by the caller before
// being handed to a SnapshotStore.
type Snapshot struct {
	Device  name.Address
	Version uint64
	Data    []byte
}

// SnapshotStore persists device snapshots durably so a Hub restart can
// rehydrate Device instances without replaying full history (spec.md §4.F,
// grounded on pkg/storage.Store's interface/implementation split).
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, device name.Address) (Snapshot, bool, error)
	Delete(ctx context.Context, device name.Address) error
	Close() error
}

// BlueprintRegistry resolves a blueprint identifier to its definition
// bytes (YAML), so a Hub can attach devices by blueprint name rather than
// an inline definition (spec.md §4.F "blueprint catalog").
type BlueprintRegistry interface {
	Get(ctx context.Context, blueprintID string) ([]byte, error)
	Put(ctx context.Context, blueprintID string, definition []byte) error
	List(ctx context.Context) ([]string, error)
}

// AuditLogService records externally-visible lifecycle and security
// events (attach/detach, authorization denials) to a durable audit trail,
// distinct from the operational MessageBroker stream.
type AuditLogService interface {
	Record(ctx context.Context, actor string, action string, target name.Address, detail string) error
}
