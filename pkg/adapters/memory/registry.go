package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// BlueprintRegistry is an in-process, map-backed ports.BlueprintRegistry
// for tests and single-process deployments that don't need durability
// across restarts — pkg/adapters/boltstore provides the durable form.
type BlueprintRegistry struct {
	mu         sync.RWMutex
	blueprints map[string][]byte
}

// NewBlueprintRegistry builds an empty BlueprintRegistry.
func NewBlueprintRegistry() *BlueprintRegistry {
	return &BlueprintRegistry{blueprints: make(map[string][]byte)}
}

func (r *BlueprintRegistry) Get(ctx context.Context, blueprintID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.blueprints[blueprintID]
	if !ok {
		return nil, fmt.Errorf("memory: blueprint %q not found", blueprintID)
	}
	return append([]byte(nil), def...), nil
}

func (r *BlueprintRegistry) Put(ctx context.Context, blueprintID string, definition []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blueprints[blueprintID] = append([]byte(nil), definition...)
	return nil
}

func (r *BlueprintRegistry) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.blueprints))
	for id := range r.blueprints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SnapshotStore is an in-process ports.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]ports.Snapshot
}

// NewSnapshotStore builds an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string]ports.Snapshot)}
}

func (s *SnapshotStore) Save(ctx context.Context, snap ports.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.Device.String()] = snap
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, device name.Address) (ports.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[device.String()]
	return snap, ok, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, device name.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, device.String())
	return nil
}

func (s *SnapshotStore) Close() error { return nil }

// AuditLogService is an in-process ports.AuditLogService that keeps
// every recorded entry in memory, useful for tests asserting on audit trail
// content without a real audit database.
type AuditLogService struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// AuditEntry is one recorded audit record.
type AuditEntry struct {
	Actor  string
	Action string
	Target name.Address
	Detail string
}

// NewAuditLogService builds an empty AuditLogService.
func NewAuditLogService() *AuditLogService {
	return &AuditLogService{}
}

func (a *AuditLogService) Record(ctx context.Context, actor, action string, target name.Address, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, AuditEntry{Actor: actor, Action: action, Target: target, Detail: detail})
	return nil
}

// Entries returns a snapshot copy of every recorded entry, in record
// order.
func (a *AuditLogService) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}
