package ports

import (
	"context"

	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

// PeerConnection is a remote Hub's view of another Hub's exported device
// tree, used to satisfy a blueprint.RemoteChild reference (spec.md §4.F
// "remote children"). Grounded on pkg/client.Client's dial/call shape.
type PeerConnection interface {
	// ReadProperty fetches the current StateValue of a remote property,
	// wire-encoded as Meta.
	ReadProperty(ctx context.Context, addr name.Address, prop name.Name) (meta.Meta, error)

	// WriteProperty pushes a new value to a remote writable property.
	WriteProperty(ctx context.Context, addr name.Address, prop name.Name, value meta.Meta) error

	// Invoke calls a remote action and waits for its result.
	Invoke(ctx context.Context, addr name.Address, action name.Name, args meta.Meta) (meta.Meta, error)

	// Subscribe opens a remote property/lifecycle event stream.
	Subscribe(ctx context.Context, addr name.Address) (Subscription, error)

	Close() error
}

// Port is the minimal request/response conversation with a device's
// backing process or driver (spec.md §4.E "ports"): a raw command/result
// exchange beneath the typed property/action layer.
type Port interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// SynchronousPort extends Port with a blocking call that returns a
// correlated response, for drivers that speak a request/reply protocol.
type SynchronousPort interface {
	Port
	Call(ctx context.Context, payload []byte) ([]byte, error)
}

// StreamPort extends Port with a channel of inbound frames, for drivers
// that push unsolicited data (telemetry, binary transfers).
type StreamPort interface {
	Port
	Frames() <-chan []byte
}
