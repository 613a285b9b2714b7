package driver

import "context"

// Registry discovers and hotplugs Device instances. It is the Go-idiomatic
// narrow boundary for udev-backed discovery, which (like the driver itself)
// is out of scope; the fake driver package backs an in-process Registry
// for tests and local development.
//
// The enumerate-then-create shape is ported from devicemapper.PoolManager's
// EnsurePoolExists (check-then-create, reused on every call rather than
// only at startup) generalized from "ensure one pool" to "enumerate
// however many readers are plugged in".
type Registry interface {
	// Enumerate blocks until the initial device set is known and returns
	// it, matching the Manager's "discover devices at startup (blocking
	// until enumeration completes)" responsibility from spec.md §4.3.
	Enumerate(ctx context.Context) ([]Device, error)

	// Watch returns a channel of hotplug events. The channel is closed
	// when ctx is cancelled.
	Watch(ctx context.Context) (<-chan HotplugEvent, error)
}

// HotplugEvent signals a device arriving or departing.
type HotplugEvent struct {
	Added   bool
	Device  Device
	// DeviceID identifies a departed device when Added is false and the
	// Device value itself is no longer available.
	DeviceID string
}

// StaticRegistry is a Registry over a fixed, pre-constructed device set
// with no hotplug events — the common case for the fake driver in tests
// and for `fprintd --driver=fake`.
type StaticRegistry struct {
	devices []Device
}

// NewStaticRegistry returns a Registry that enumerates exactly devices and
// never emits hotplug events.
func NewStaticRegistry(devices ...Device) *StaticRegistry {
	return &StaticRegistry{devices: devices}
}

func (r *StaticRegistry) Enumerate(ctx context.Context) ([]Device, error) {
	return r.devices, nil
}

func (r *StaticRegistry) Watch(ctx context.Context) (<-chan HotplugEvent, error) {
	ch := make(chan HotplugEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
