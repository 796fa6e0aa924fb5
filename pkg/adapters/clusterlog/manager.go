package clusterlog

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/name"
)

// Manager owns one raft.Raft instance replicating a Hub's command log,
// grounded on pkg/manager.Manager's Bootstrap/Join/Apply shape.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *FSM
}

// New builds a Manager around hub's command log, not yet bootstrapped
// or joined to a cluster.
func New(nodeID, bindAddr, dataDir string, hub HubPort) *Manager {
	return &Manager{
		nodeID:   nodeID,
		bindAddr: bindAddr,
		dataDir:  dataDir,
		fsm:      NewFSM(hub),
	}
}

func (m *Manager) newRaft() (*raft.Raft, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("clusterlog: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterlog: tcp transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterlog: snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterlog: log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterlog: stable store: %w", err)
	}

	return raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap initializes a brand-new single-node cluster with this
// Manager as its only voter.
func (m *Manager) Bootstrap() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.bindAddr)},
		},
	}
	return m.raft.BootstrapCluster(configuration).Error()
}

// Join starts this Manager's raft instance without bootstrapping a
// configuration; the caller is expected to be added as a voter by the
// existing leader via AddVoter before log entries start flowing.
func (m *Manager) Join() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds nodeID at address as a voting member, callable only on
// the current leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	return m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes nodeID from the cluster configuration.
func (m *Manager) RemoveServer(nodeID string) error {
	return m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

func (m *Manager) apply(op string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	cmd := Command{Op: op, Data: payload}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return m.raft.Apply(b, 5*time.Second).Error()
}

// Attach replicates an Attach command through the raft log.
func (m *Manager) Attach(n name.Name, blueprintID blueprint.ID, cfg blueprint.LocalChildConfig) error {
	return m.apply(OpAttach, attachPayload{Name: n, BlueprintID: blueprintID, Config: cfg})
}

// Detach replicates a Detach command.
func (m *Manager) Detach(n name.Name) error {
	return m.apply(OpDetach, deviceNamePayload{Name: n})
}

// Start replicates a Start command.
func (m *Manager) Start(n name.Name) error {
	return m.apply(OpStart, deviceNamePayload{Name: n})
}

// Stop replicates a Stop command.
func (m *Manager) Stop(n name.Name) error {
	return m.apply(OpStop, deviceNamePayload{Name: n})
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *Manager) IsLeader() bool { return m.raft.State() == raft.Leader }

// Leader returns the current leader's address, if known.
func (m *Manager) Leader() string { return string(m.raft.Leader()) }

// Shutdown stops the raft instance.
func (m *Manager) Shutdown() error {
	return m.raft.Shutdown().Error()
}
