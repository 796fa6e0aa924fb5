package grpcpeer

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// Client is a ports.PeerConnection dialed to another Hub's grpcpeer
// Server, mTLS-secured the way pkg/client.Client dials a manager: a
// caller-supplied *tls.Config carrying its certificate and the peer's
// CA pool, never grpc's insecure credentials.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr, authenticating with tlsConfig.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("grpcpeer: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) ReadProperty(ctx context.Context, addr name.Address, prop name.Name) (meta.Meta, error) {
	req := newStruct()
	addressToFields(addr, req)
	req.Fields[fieldProperty] = structpb.NewStringValue(prop.String())

	resp := newStruct()
	if err := c.conn.Invoke(ctx, "/devicehub.peer.v1.Peer/ReadProperty", req, resp); err != nil {
		return meta.Empty, err
	}
	return metaFromFields(resp)
}

func (c *Client) WriteProperty(ctx context.Context, addr name.Address, prop name.Name, value meta.Meta) error {
	req := newStruct()
	addressToFields(addr, req)
	req.Fields[fieldProperty] = structpb.NewStringValue(prop.String())
	if err := metaToFields(value, req); err != nil {
		return err
	}

	resp := newStruct()
	return c.conn.Invoke(ctx, "/devicehub.peer.v1.Peer/WriteProperty", req, resp)
}

func (c *Client) Invoke(ctx context.Context, addr name.Address, action name.Name, args meta.Meta) (meta.Meta, error) {
	req := newStruct()
	addressToFields(addr, req)
	req.Fields[fieldAction] = structpb.NewStringValue(action.String())
	if err := metaToFields(args, req); err != nil {
		return meta.Empty, err
	}

	resp := newStruct()
	if err := c.conn.Invoke(ctx, "/devicehub.peer.v1.Peer/Invoke", req, resp); err != nil {
		return meta.Empty, err
	}
	return metaFromFields(resp)
}

func (c *Client) Subscribe(ctx context.Context, addr name.Address) (ports.Subscription, error) {
	req := newStruct()
	addressToFields(addr, req)

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}, "/devicehub.peer.v1.Peer/Subscribe")
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	sub := &subscription{
		ch:     make(chan ports.BrokerEvent, 64),
		cancel: cancel,
	}
	go sub.pump(stream)
	return sub, nil
}

func (c *Client) Close() error { return c.conn.Close() }

type subscription struct {
	ch     chan ports.BrokerEvent
	cancel context.CancelFunc
}

func (s *subscription) pump(stream grpc.ClientStream) {
	defer close(s.ch)
	for {
		resp := newStruct()
		if err := stream.RecvMsg(resp); err != nil {
			return
		}
		ev := ports.BrokerEvent{Type: resp.Fields[fieldEventType].GetStringValue()}
		if m, err := metaFromFields(resp); err == nil {
			ev.Payload = m
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (s *subscription) Events() <-chan ports.BrokerEvent { return s.ch }

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
