// Package bussurface exports the Manager and Device objects over D-Bus
// (spec.md §1 "Bus Surface"), using github.com/godbus/dbus/v5 the way
// the retrieved logind-stub and device-manager examples do: conn.Export
// for methods, introspect.Node for introspection, prop.Export for
// read-only properties, conn.Emit for signals.
package bussurface

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/device"
	"github.com/deepin-community/fprintd-go/internal/manager"
)

const (
	managerInterface = "net.reactivated.Fprint.Manager"
	managerPath      = "/net/reactivated/Fprint/Manager"
	busName          = "net.reactivated.Fprint"
)

// Surface owns the system bus connection and every exported object.
type Surface struct {
	conn    *dbus.Conn
	mgr     *manager.Manager
	logger  logrus.FieldLogger
	signals *signalSink

	mu      sync.Mutex
	devices map[int]*busDevice
}

// NewSignalSink returns the device.Signals implementation wired to this
// connection, to be passed into manager.New.
func NewSignalSink(conn *dbus.Conn, logger logrus.FieldLogger) device.Signals {
	return newSignalSink(conn, logger)
}

// Connect dials the system bus and requests the well-known name, without
// exporting anything yet.
func Connect() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bussurface: connect: %w", err)
	}
	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bussurface: request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bussurface: bus name %s already owned", busName)
	}
	return conn, nil
}

// New builds a Surface around an already-connected bus and a running
// Manager, then exports the Manager object itself. Device objects are
// exported lazily via RefreshDevices, once the Manager has enumerated
// the initial device set.
func New(conn *dbus.Conn, mgr *manager.Manager, logger logrus.FieldLogger) (*Surface, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Surface{
		conn:    conn,
		mgr:     mgr,
		logger:  logger.WithField("component", "bussurface"),
		signals: newSignalSink(conn, logger),
		devices: make(map[int]*busDevice),
	}
	if err := s.exportManager(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) exportManager() error {
	node := &introspect.Node{
		Name: managerPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: managerInterface,
				Methods: []introspect.Method{
					{Name: "GetDevices", Args: []introspect.Arg{{Name: "devices", Type: "ao", Direction: "out"}}},
					{Name: "GetDefaultDevice", Args: []introspect.Arg{{Name: "device", Type: "o", Direction: "out"}}},
				},
			},
		},
	}
	if err := s.conn.Export(node, managerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}
	return s.conn.Export((*managerMethods)(s), managerPath, managerInterface)
}

// managerMethods is the thin method receiver exported at managerPath;
// split from Surface so RefreshDevices/watchVanished aren't reachable
// over the bus.
type managerMethods Surface

func (m *managerMethods) GetDevices() ([]dbus.ObjectPath, *dbus.Error) {
	s := (*Surface)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dbus.ObjectPath, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, devicePath(id))
	}
	return out, nil
}

func (m *managerMethods) GetDefaultDevice() (dbus.ObjectPath, *dbus.Error) {
	s := (*Surface)(m)
	dev, err := s.mgr.GetDefaultDevice()
	if err != nil {
		return "", busError(err)
	}
	return devicePath(dev.ID), nil
}

// RefreshDevices exports a busDevice for every device.Device the Manager
// currently knows about that hasn't already been exported. Call after
// Manager.Start and again after any hotplug event.
func (s *Surface) RefreshDevices() {
	for _, dev := range s.mgr.GetDevices() {
		s.mu.Lock()
		_, known := s.devices[dev.ID]
		s.mu.Unlock()
		if known {
			continue
		}
		bd := newBusDevice(s.conn, dev, s.logger)
		if err := bd.export(); err != nil {
			s.logger.WithError(err).WithField("device", dev.ID).Warn("failed to export device object")
			continue
		}
		s.mu.Lock()
		s.devices[dev.ID] = bd
		s.mu.Unlock()
	}
}

// RemoveDevice unexports the bus object for a device the Manager has
// dropped, completing spec.md §4.3's "exporting/unexporting their paths"
// on the remove side of hotplug.
func (s *Surface) RemoveDevice(id int) {
	s.mu.Lock()
	_, known := s.devices[id]
	delete(s.devices, id)
	s.mu.Unlock()
	if !known {
		return
	}
	if err := s.conn.Export(nil, devicePath(id), deviceInterface); err != nil {
		s.logger.WithError(err).WithField("device", id).Warn("failed to unexport device object")
	}
}

// WatchVanished subscribes to NameOwnerChanged and forwards vanished
// unique names to every device's HandleSenderVanished, the bus-level
// equivalent of spec.md §4.2's client-vanished handling.
func (s *Surface) WatchVanished(ctx context.Context) error {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("bussurface: add match: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	s.conn.Signal(ch)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				s.handleNameOwnerChanged(ctx, sig)
			}
		}
	}()
	return nil
}

func (s *Surface) handleNameOwnerChanged(ctx context.Context, sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	_, oldOwnerOK := sig.Body[1].(string)
	newOwner, newOwnerOK := sig.Body[2].(string)
	if !oldOwnerOK || !newOwnerOK || newOwner != "" {
		return // not a disappearance
	}
	for _, dev := range s.mgr.GetDevices() {
		dev.HandleSenderVanished(ctx, name)
	}
}
