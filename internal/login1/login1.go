// Package login1 implements the sleep-inhibitor handshake with
// systemd-logind (spec.md §4.3), grounded on the retrieved logind-stub's
// org.freedesktop.login1 interface shape: a Manager.Inhibit call
// returning a held-open file descriptor, and a PrepareForSleep signal
// fired around actual suspend/resume.
package login1

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/godbus/dbus/v5"
)

const (
	busName         = "org.freedesktop.login1"
	managerPath     = "/org/freedesktop/login1"
	managerIface    = "org.freedesktop.login1.Manager"
	inhibitMember   = managerIface + ".Inhibit"
	prepareForSleep = managerIface + ".PrepareForSleep"
)

// Inhibitor implements manager.SleepInhibitor against a real logind (or
// the retrieved logind-stub, for local development).
type Inhibitor struct {
	conn *dbus.Conn
	who  string
	why  string

	signalOnce sync.Once
	events     chan bool
}

// New connects to the system bus for sleep-inhibitor purposes. who/why
// populate the Inhibit call's "who" and "why" arguments.
func New(who, why string) (*Inhibitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("login1: connect: %w", err)
	}
	return &Inhibitor{conn: conn, who: who, why: why}, nil
}

// Inhibit takes a "delay" sleep lock and returns a function to release
// it, plus a channel carrying one event per PrepareForSleep signal: true
// when suspend is starting, false when the host has resumed. The lock is
// single-use — once released it must be re-acquired with another call to
// Inhibit for the next sleep cycle (spec.md §4.3 step 3). The PrepareFor-
// Sleep subscription itself is set up once and shared across every
// Inhibit call, so re-acquiring the lock after a wake never leaks a
// second signal listener.
func (i *Inhibitor) Inhibit(ctx context.Context) (release func(), events <-chan bool, err error) {
	var setupErr error
	i.signalOnce.Do(func() {
		if err := i.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(dbus.ObjectPath(managerPath)),
			dbus.WithMatchInterface(managerIface),
			dbus.WithMatchMember("PrepareForSleep"),
		); err != nil {
			setupErr = fmt.Errorf("login1: add match: %w", err)
			return
		}

		raw := make(chan *dbus.Signal, 4)
		i.conn.Signal(raw)
		i.events = make(chan bool, 4)
		go func() {
			for sig := range raw {
				if sig.Name != prepareForSleep || len(sig.Body) != 1 {
					continue
				}
				starting, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				select {
				case i.events <- starting:
				default:
				}
			}
		}()
	})
	if setupErr != nil {
		return nil, nil, setupErr
	}

	obj := i.conn.Object(busName, dbus.ObjectPath(managerPath))
	var fd dbus.UnixFD
	call := obj.CallWithContext(ctx, inhibitMember, 0, "sleep", i.who, i.why, "delay")
	if call.Err != nil {
		return nil, nil, fmt.Errorf("login1: inhibit: %w", call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return nil, nil, fmt.Errorf("login1: inhibit: decode fd: %w", err)
	}

	var closed bool
	release = func() {
		if closed {
			return
		}
		closed = true
		_ = syscall.Close(int(fd))
	}
	return release, i.events, nil
}
