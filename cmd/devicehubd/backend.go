package main

import (
	"context"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/hub"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// peerBackend adapts a *hub.Hub to grpcpeer.Backend, authorizing every
// remote call under a fixed "peer" principal so a remote hub's own
// AuthorizationService role map decides what another hub may do to this
// one (spec.md §6 "authorization is a pluggable concern").
type peerBackend struct {
	hub    *hub.Hub
	hubID  string
	broker ports.MessageBroker
}

var peerPrincipal = ports.Principal{Subject: "peer", Roles: []string{"peer"}}

func (b *peerBackend) execCtx() blueprint.ExecContext {
	return blueprint.ExecContext{Principal: peerPrincipal.Subject}
}

func (b *peerBackend) ReadProperty(ctx context.Context, addr name.Address, prop name.Name) (meta.Meta, error) {
	return b.hub.ReadProperty(ctx, peerPrincipal, addr.Device, prop, b.execCtx())
}

func (b *peerBackend) WriteProperty(ctx context.Context, addr name.Address, prop name.Name, value meta.Meta) error {
	return b.hub.WriteProperty(ctx, peerPrincipal, addr.Device, prop, value, b.execCtx())
}

func (b *peerBackend) Invoke(ctx context.Context, addr name.Address, action name.Name, args meta.Meta) (meta.Meta, error) {
	return b.hub.Execute(ctx, peerPrincipal, addr.Device, action, args, b.execCtx())
}

func (b *peerBackend) Subscribe(ctx context.Context, addr name.Address) (ports.Subscription, error) {
	topic := "devicehub." + b.hubID + "." + addr.Device.String()
	return b.broker.Subscribe(ctx, topic)
}
