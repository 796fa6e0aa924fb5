// Package fault defines the error taxonomy shared across the core:
// HubFault for infrastructure/programming failures returned as Go errors,
// and DeviceFault for business-level device failures that are a normal,
// expected result value rather than an error (spec.md §7).
package fault

import "fmt"

// Kind classifies a fault for retry policy and wire serialization purposes.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceNotFound
	KindLifecycleError
	KindPropertyError
	KindActionError
	KindTransactionFailed
	KindTimeout
	KindCancelled
	KindSerializationError
	KindIOError
)

func (k Kind) String() string {
	switch k {
	case KindDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case KindLifecycleError:
		return "LIFECYCLE_ERROR"
	case KindPropertyError:
		return "PROPERTY_ERROR"
	case KindActionError:
		return "ACTION_ERROR"
	case KindTransactionFailed:
		return "TRANSACTION_FAILED"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	case KindSerializationError:
		return "SERIALIZATION_ERROR"
	case KindIOError:
		return "IO_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether a fault of this kind is generally worth
// retrying under the Coordinator's backoff policy (spec.md §4.H).
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindIOError:
		return true
	default:
		return false
	}
}

// HubFault wraps an underlying error with a Kind, returned from Hub/Device
// runtime operations that fail for infrastructure reasons (lock timeout,
// storage I/O, serialization). It is a genuine Go error.
type HubFault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *HubFault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *HubFault) Unwrap() error { return f.Err }

// Retryable reports whether the wrapped Kind is retryable.
func (f *HubFault) Retryable() bool { return f.Kind.Retryable() }

// Wrap builds a HubFault, tagging op with kind and wrapping err.
func Wrap(op string, kind Kind, err error) *HubFault {
	return &HubFault{Kind: kind, Op: op, Err: err}
}

// DeviceFault is a business-level failure surfaced as a normal return
// value from a device operation (e.g. a rejected write, an action that
// failed validation) rather than as a Go error (spec.md §7
// "DeviceFault is data, not control flow"). It carries a Chain of causes
// for diagnostics without behaving like a wrapped error.
type DeviceFault struct {
	Kind    Kind
	Code    string
	Message string
	Cause   *DeviceFault
}

func (f *DeviceFault) Error() string {
	if f.Code == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", f.Kind, f.Code, f.Message)
}

// Chain returns the cause chain from f to its root cause, f first.
func (f *DeviceFault) Chain() []*DeviceFault {
	var chain []*DeviceFault
	for cur := f; cur != nil; cur = cur.Cause {
		chain = append(chain, cur)
	}
	return chain
}

// New builds a root DeviceFault with no cause.
func New(kind Kind, code, message string) *DeviceFault {
	return &DeviceFault{Kind: kind, Code: code, Message: message}
}

// WithCause builds a DeviceFault chained onto an existing cause.
func WithCause(kind Kind, code, message string, cause *DeviceFault) *DeviceFault {
	return &DeviceFault{Kind: kind, Code: code, Message: message, Cause: cause}
}

// SerializableDeviceFailure is the wire-safe projection of a DeviceFault
// used in PropertyChanged/DeviceError messages and action results
// (spec.md §6).
type SerializableDeviceFailure struct {
	Kind    string   `json:"kind"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Causes  []string `json:"causes,omitempty"`
}

// ToSerializable flattens a DeviceFault's chain into its wire form.
func ToSerializable(f *DeviceFault) SerializableDeviceFailure {
	if f == nil {
		return SerializableDeviceFailure{}
	}
	var causes []string
	chain := f.Chain()
	for _, c := range chain[1:] {
		causes = append(causes, c.Error())
	}
	return SerializableDeviceFailure{
		Kind:    f.Kind.String(),
		Code:    f.Code,
		Message: f.Message,
		Causes:  causes,
	}
}
