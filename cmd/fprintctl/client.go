package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/godbus/dbus/v5"
)

const (
	busName          = "net.reactivated.Fprint"
	managerPath      = "/net/reactivated/Fprint/Manager"
	managerInterface = "net.reactivated.Fprint.Manager"
	deviceInterface  = "net.reactivated.Fprint.Device"
)

// client holds the system bus connection used by every subcommand.
type client struct {
	conn *dbus.Conn
}

func dial() (*client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &client{conn: conn}, nil
}

func (c *client) close() {
	c.conn.Close()
}

// devicePath resolves the flag-selected device, defaulting to
// GetDefaultDevice when n < 0.
func (c *client) devicePath(n int) (dbus.ObjectPath, error) {
	mgr := c.conn.Object(busName, dbus.ObjectPath(managerPath))
	if n < 0 {
		var path dbus.ObjectPath
		if err := mgr.Call(managerInterface+".GetDefaultDevice", 0).Store(&path); err != nil {
			return "", fmt.Errorf("get default device: %w", err)
		}
		return path, nil
	}
	var paths []dbus.ObjectPath
	if err := mgr.Call(managerInterface+".GetDevices", 0).Store(&paths); err != nil {
		return "", fmt.Errorf("get devices: %w", err)
	}
	for _, p := range paths {
		if p == dbus.ObjectPath(fmt.Sprintf("%s/%d", "/net/reactivated/Fprint/Device", n)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no such device: %d", n)
}

func (c *client) device(n int) (dbus.BusObject, error) {
	path, err := c.devicePath(n)
	if err != nil {
		return nil, err
	}
	return c.conn.Object(busName, path), nil
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
