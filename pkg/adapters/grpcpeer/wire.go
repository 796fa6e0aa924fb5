// Package grpcpeer implements ports.PeerConnection over gRPC with mTLS,
// grounded on pkg/client.Client's dial/call shape and
// pkg/api/interceptor.go's gRPC server conventions. Request/response
// payloads are carried as google.golang.org/protobuf/types/known/
// structpb.Struct values rather than protoc-generated messages, so the
// service is reachable without a .proto build step: a meta.Meta value
// round-trips through its own JSON wire codec, carried as one string
// field inside the Struct.
package grpcpeer

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

const (
	fieldHubID     = "hub_id"
	fieldDevice    = "device"
	fieldProperty  = "property"
	fieldAction    = "action"
	fieldMetaJSON  = "meta_json"
	fieldEventType = "event_type"
)

func addressToFields(addr name.Address, s *structpb.Struct) {
	s.Fields[fieldHubID] = structpb.NewStringValue(addr.HubID)
	s.Fields[fieldDevice] = structpb.NewStringValue(addr.Device.String())
}

func addressFromFields(s *structpb.Struct) name.Address {
	return name.Address{
		HubID:  s.Fields[fieldHubID].GetStringValue(),
		Device: name.Parse(s.Fields[fieldDevice].GetStringValue()),
	}
}

func metaToFields(m meta.Meta, s *structpb.Struct) error {
	b, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("grpcpeer: encode meta: %w", err)
	}
	s.Fields[fieldMetaJSON] = structpb.NewStringValue(string(b))
	return nil
}

func metaFromFields(s *structpb.Struct) (meta.Meta, error) {
	raw := s.Fields[fieldMetaJSON].GetStringValue()
	if raw == "" {
		return meta.Empty, nil
	}
	var m meta.Meta
	if err := m.UnmarshalJSON([]byte(raw)); err != nil {
		return meta.Empty, fmt.Errorf("grpcpeer: decode meta: %w", err)
	}
	return m, nil
}

func newStruct() *structpb.Struct {
	return &structpb.Struct{Fields: make(map[string]*structpb.Value)}
}
