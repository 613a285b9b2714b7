package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/device"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/driver/fake"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/store/filestore"
)

// fakeInhibitor is a test double for SleepInhibitor: the test drives
// sleep/wake by writing to events directly, and counts how many times
// the lock was (re)acquired vs released.
type fakeInhibitor struct {
	events chan bool

	mu           sync.Mutex
	acquireCount int
	releaseCount int32
}

func (f *fakeInhibitor) Inhibit(ctx context.Context) (func(), <-chan bool, error) {
	f.mu.Lock()
	f.acquireCount++
	f.mu.Unlock()
	return func() { atomic.AddInt32(&f.releaseCount, 1) }, f.events, nil
}

func (f *fakeInhibitor) acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquireCount
}

// hotplugRegistry is a test-only driver.Registry that starts empty and
// lets the test script Plug/Unplug events through Watch's channel.
type hotplugRegistry struct {
	events chan driver.HotplugEvent
}

func newHotplugRegistry() *hotplugRegistry {
	return &hotplugRegistry{events: make(chan driver.HotplugEvent, 4)}
}

func (r *hotplugRegistry) Enumerate(ctx context.Context) ([]driver.Device, error) {
	return nil, nil
}

func (r *hotplugRegistry) Watch(ctx context.Context) (<-chan driver.HotplugEvent, error) {
	return r.events, nil
}

func (r *hotplugRegistry) Plug(d driver.Device) {
	r.events <- driver.HotplugEvent{Added: true, Device: d}
}

func (r *hotplugRegistry) Unplug(deviceID string) {
	r.events <- driver.HotplugEvent{Added: false, DeviceID: deviceID}
}

type noopSignals struct{}

func (noopSignals) EnrollStatus(deviceID int, result string, done bool)             {}
func (noopSignals) VerifyStatus(deviceID int, result string, done bool)             {}
func (noopSignals) VerifyFingerSelected(deviceID int, finger fingerprint.Finger) {}

func newTestManager(t *testing.T, devices ...driver.Device) *Manager {
	t.Helper()
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(nil, nil), nil)
	reg := driver.NewStaticRegistry(devices...)
	m := New(reg, st, gate, noopSignals{}, nil, Config{}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m
}

func TestStartEnumeratesDevices(t *testing.T) {
	d1 := fake.New(fake.Config{Name: "reader-1", DeviceID: "dev0"})
	d2 := fake.New(fake.Config{Name: "reader-2", DeviceID: "dev1"})
	m := newTestManager(t, d1, d2)

	devs := m.GetDevices()
	if len(devs) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devs))
	}
}

func TestGetDefaultDeviceReturnsLastEnumerated(t *testing.T) {
	d1 := fake.New(fake.Config{Name: "reader-1", DeviceID: "dev0"})
	d2 := fake.New(fake.Config{Name: "reader-2", DeviceID: "dev1"})
	m := newTestManager(t, d1, d2)

	def, err := m.GetDefaultDevice()
	if err != nil {
		t.Fatalf("GetDefaultDevice: %v", err)
	}
	if def.ID != 1 {
		t.Fatalf("expected the last-enumerated device (ID 1), got %d", def.ID)
	}
}

func TestGetDefaultDeviceErrorsWithNoDevices(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.GetDefaultDevice(); err == nil {
		t.Fatal("expected an error when no devices are registered")
	}
}

func TestDeviceListenerFiresOnHotplugAddAndRemove(t *testing.T) {
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(nil, nil), nil)
	hp := newHotplugRegistry()
	m := New(hp, st, gate, noopSignals{}, nil, Config{}, nil)

	var added, removed []int
	var mu sync.Mutex
	m.SetDeviceListener(
		func(id int) { mu.Lock(); added = append(added, id); mu.Unlock() },
		func(id int) { mu.Lock(); removed = append(removed, id); mu.Unlock() },
	)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d := fake.New(fake.Config{Name: "reader-1", DeviceID: "dev0"})
	hp.Plug(d)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(added) == 1 })

	hp.Unplug("dev0")
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(removed) == 1 })
}

func TestSleepHandshakeReleasesOnSleepAndReacquiresOnWake(t *testing.T) {
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(nil, nil), nil)
	reg := driver.NewStaticRegistry(
		fake.New(fake.Config{Name: "reader-1", DeviceID: "dev0"}),
		fake.New(fake.Config{Name: "reader-2", DeviceID: "dev1"}),
	)
	inh := &fakeInhibitor{events: make(chan bool, 1)}
	m := New(reg, st, gate, noopSignals{}, inh, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return inh.acquires() == 1 })

	inh.events <- true
	waitFor(t, func() bool { return atomic.LoadInt32(&inh.releaseCount) == 1 })

	inh.events <- false
	waitFor(t, func() bool { return inh.acquires() == 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIdleTimerFiresWhenUnused(t *testing.T) {
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(nil, nil), nil)
	reg := driver.NewStaticRegistry(fake.New(fake.Config{Name: "reader", DeviceID: "dev0"}))

	fired := make(chan struct{})
	m := New(reg, st, gate, noopSignals{}, nil, Config{
		IdleTimeout: 10 * time.Millisecond,
		OnIdle:      func() { close(fired) },
	}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnIdle to fire once the idle timeout elapsed")
	}
}

func TestIdleTimerDoesNotFireWhileBusy(t *testing.T) {
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(nil, nil), nil)
	drv := fake.New(fake.Config{Name: "reader", DeviceID: "dev0"})
	reg := driver.NewStaticRegistry(drv)

	fired := make(chan struct{})
	m := New(reg, st, gate, noopSignals{}, nil, Config{
		IdleTimeout: 20 * time.Millisecond,
		OnIdle:      func() { close(fired) },
	}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	devs := m.GetDevices()
	if len(devs) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devs))
	}
	if err := devs[0].Claim(context.Background(), "sender1", ""); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	defer devs[0].Release(context.Background(), "sender1")

	select {
	case <-fired:
		t.Fatal("OnIdle fired while the device was claimed")
	case <-time.After(60 * time.Millisecond):
	}
}

var _ device.BusyObserver = (*busyRelay)(nil)
