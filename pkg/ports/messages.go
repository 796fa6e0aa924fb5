package ports

import (
	"time"

	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
)

// The device message wire schema (spec.md §6): every message in a
// Device's message flow is one of these; the Hub forwards each onto a
// MessageBroker with its Go type name as the event Type.

// PropertyChanged announces a new StateValue for a physical or logical
// property.
type PropertyChanged struct {
	Device   name.Address       `json:"device"`
	Property name.Name          `json:"property"`
	Value    meta.Meta          `json:"value"`
	Origin   time.Time          `json:"originTime"`
	Server   time.Time          `json:"serverTime"`
	Quality  string             `json:"quality"`
	Code     string             `json:"qualityCode,omitempty"`
	Corr     name.CorrelationID `json:"correlationId,omitempty"`
}

// LifecycleStateChanged announces a device's lifecycle FSM transition.
type LifecycleStateChanged struct {
	Device name.Address `json:"device"`
	From   string       `json:"from"`
	To     string       `json:"to"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

// DeviceError announces a DeviceFault surfaced out-of-band (not tied to a
// single property write or action call).
type DeviceError struct {
	Device  name.Address                    `json:"device"`
	Failure fault.SerializableDeviceFailure `json:"failure"`
	At      time.Time                       `json:"at"`
}

// DeviceAttached announces that a device joined a Hub's tree.
type DeviceAttached struct {
	Device name.Address `json:"device"`
	At     time.Time    `json:"at"`
}

// DeviceDetached announces that a device left a Hub's tree.
type DeviceDetached struct {
	Device name.Address `json:"device"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

// PredicateChanged announces a boolean predicate property's value, emitted
// each time the device recomputes it; it is not debounced by any hold-for
// window (spec.md §4.G).
type PredicateChanged struct {
	Device    name.Address `json:"device"`
	Predicate name.Name    `json:"predicate"`
	Value     bool         `json:"value"`
	At        time.Time    `json:"at"`
}

// BinaryReady announces that a requested binary payload (firmware blob,
// snapshot export) is available for streaming via a StreamPort.
type BinaryReady struct {
	Device name.Address `json:"device"`
	Handle string       `json:"handle"`
	Size   int64        `json:"size"`
	At     time.Time    `json:"at"`
}

// BinaryRequest asks a device/hub to begin producing a binary payload.
type BinaryRequest struct {
	Device name.Address       `json:"device"`
	Handle string             `json:"handle"`
	Corr   name.CorrelationID `json:"correlationId,omitempty"`
}

// TelemetryPacket carries a batch of raw samples outside the normal
// property-change path, for high-rate instruments (spec.md §6).
type TelemetryPacket struct {
	Device  name.Address `json:"device"`
	Channel string       `json:"channel"`
	Samples []meta.Meta  `json:"samples"`
	At      time.Time    `json:"at"`
}
