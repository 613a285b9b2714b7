package bussurface

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/device"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/safeguards"
)

const deviceInterface = "net.reactivated.Fprint.Device"
const deviceBasePath = "/net/reactivated/Fprint/Device"

// callTimeout bounds how long an exported method waits on the device's
// command loop before giving up; method calls over the bus must return.
const callTimeout = 30 * time.Second

// busDevice is the exported net.reactivated.Fprint.Device object wrapping
// one internal/device.Device.
type busDevice struct {
	dev    *device.Device
	conn   *dbus.Conn
	logger logrus.FieldLogger
	props  *prop.Properties
}

func newBusDevice(conn *dbus.Conn, dev *device.Device, logger logrus.FieldLogger) *busDevice {
	return &busDevice{dev: dev, conn: conn, logger: logger}
}

func (b *busDevice) export() error {
	path := devicePath(b.dev.ID)

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: deviceInterface,
				Methods: []introspect.Method{
					{Name: "Claim", Args: []introspect.Arg{{Name: "username", Type: "s", Direction: "in"}}},
					{Name: "Release"},
					{Name: "EnrollStart", Args: []introspect.Arg{{Name: "finger_name", Type: "s", Direction: "in"}}},
					{Name: "EnrollStop"},
					{Name: "VerifyStart", Args: []introspect.Arg{{Name: "finger_name", Type: "s", Direction: "in"}}},
					{Name: "VerifyStop"},
					{Name: "ListEnrolledFingers", Args: []introspect.Arg{
						{Name: "username", Type: "s", Direction: "in"},
						{Name: "fingers", Type: "as", Direction: "out"},
					}},
					{Name: "DeleteEnrolledFinger", Args: []introspect.Arg{{Name: "finger_name", Type: "s", Direction: "in"}}},
					{Name: "DeleteEnrolledFingers", Args: []introspect.Arg{{Name: "username", Type: "s", Direction: "in"}}},
					{Name: "DeleteEnrolledFingers2"},
				},
				Signals: []introspect.Signal{
					{Name: "EnrollStatus", Args: []introspect.Arg{{Name: "result", Type: "s"}, {Name: "done", Type: "b"}}},
					{Name: "VerifyStatus", Args: []introspect.Arg{{Name: "result", Type: "s"}, {Name: "done", Type: "b"}}},
					{Name: "VerifyFingerSelected", Args: []introspect.Arg{{Name: "finger_name", Type: "s"}}},
				},
				Properties: []introspect.Property{
					{Name: "name", Type: "s", Access: "read"},
					{Name: "num-enroll-stages", Type: "i", Access: "read"},
					{Name: "scan-type", Type: "s", Access: "read"},
				},
			},
		},
	}

	if err := b.conn.Export(node, path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}
	if err := b.conn.Export(b, path, deviceInterface); err != nil {
		return err
	}

	props, err := prop.Export(b.conn, path, b.propSpec())
	if err != nil {
		return err
	}
	b.props = props
	return nil
}

func (b *busDevice) propSpec() map[string]map[string]*prop.Prop {
	p := b.dev.Properties()
	return map[string]map[string]*prop.Prop{
		deviceInterface: {
			"name":              {Value: p.Name, Writable: false, Emit: prop.EmitFalse},
			"num-enroll-stages": {Value: int32(p.NumEnrollStages), Writable: false, Emit: prop.EmitFalse},
			"scan-type":         {Value: p.ScanType, Writable: false, Emit: prop.EmitFalse},
		},
	}
}

// guarded runs fn with panic recovery, folding a recovered panic into the
// same *dbus.Error path a normal failure would take; godbus's own method
// dispatcher does not recover per-call, so an unguarded panic here would
// take the whole daemon down instead of just failing this one method.
func (b *busDevice) guarded(opName string, fn func() error) *dbus.Error {
	var callErr error
	err := safeguards.RecoverableOperation(b.logger, opName, func() error {
		callErr = fn()
		return nil
	})
	if err != nil {
		return busError(err)
	}
	return busError(callErr)
}

func (b *busDevice) Claim(username string, sender dbus.Sender) *dbus.Error {
	return b.guarded("Claim", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.Claim(ctx, string(sender), username)
	})
}

func (b *busDevice) Release(sender dbus.Sender) *dbus.Error {
	return b.guarded("Release", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.Release(ctx, string(sender))
	})
}

func (b *busDevice) EnrollStart(fingerName string, sender dbus.Sender) *dbus.Error {
	return b.guarded("EnrollStart", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		f, err := fingerprint.ParseFinger(fingerName)
		if err != nil {
			return device.ErrInvalidFingername
		}
		return b.dev.EnrollStart(ctx, string(sender), f)
	})
}

func (b *busDevice) EnrollStop(sender dbus.Sender) *dbus.Error {
	return b.guarded("EnrollStop", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.EnrollStop(ctx, string(sender))
	})
}

func (b *busDevice) VerifyStart(fingerName string, sender dbus.Sender) *dbus.Error {
	return b.guarded("VerifyStart", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		f := fingerprint.Unknown
		if fingerName != "" {
			parsed, err := fingerprint.ParseFinger(fingerName)
			if err != nil {
				return device.ErrInvalidFingername
			}
			f = parsed
		}
		return b.dev.VerifyStart(ctx, string(sender), f)
	})
}

func (b *busDevice) VerifyStop(sender dbus.Sender) *dbus.Error {
	return b.guarded("VerifyStop", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.VerifyStop(ctx, string(sender))
	})
}

func (b *busDevice) ListEnrolledFingers(username string, sender dbus.Sender) ([]string, *dbus.Error) {
	var out []string
	dbusErr := b.guarded("ListEnrolledFingers", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		fingers, err := b.dev.ListEnrolledFingers(ctx, string(sender), username)
		if err != nil {
			return err
		}
		out = make([]string, 0, len(fingers))
		for _, f := range fingers {
			out = append(out, f.String())
		}
		return nil
	})
	if dbusErr != nil {
		return nil, dbusErr
	}
	return out, nil
}

func (b *busDevice) DeleteEnrolledFinger(fingerName string, sender dbus.Sender) *dbus.Error {
	return b.guarded("DeleteEnrolledFinger", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		f, err := fingerprint.ParseFinger(fingerName)
		if err != nil {
			return device.ErrInvalidFingername
		}
		return b.dev.DeleteEnrolledFinger(ctx, string(sender), f)
	})
}

func (b *busDevice) DeleteEnrolledFingers(username string, sender dbus.Sender) *dbus.Error {
	return b.guarded("DeleteEnrolledFingers", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.DeleteEnrolledFingers(ctx, string(sender), username)
	})
}

func (b *busDevice) DeleteEnrolledFingers2(sender dbus.Sender) *dbus.Error {
	return b.guarded("DeleteEnrolledFingers2", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return b.dev.DeleteEnrolledFingers2(ctx, string(sender))
	})
}
