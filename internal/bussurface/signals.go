package bussurface

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// signalSink implements device.Signals by emitting bus signals on the
// object path for a given device ID, mirroring the device-manager
// example's conn.Emit(path, iface+".Signal", args...) idiom.
type signalSink struct {
	conn   *dbus.Conn
	logger logrus.FieldLogger
}

func newSignalSink(conn *dbus.Conn, logger logrus.FieldLogger) *signalSink {
	return &signalSink{conn: conn, logger: logger}
}

func (s *signalSink) EnrollStatus(deviceID int, result string, done bool) {
	s.emit(deviceID, "EnrollStatus", result, done)
}

func (s *signalSink) VerifyStatus(deviceID int, result string, done bool) {
	s.emit(deviceID, "VerifyStatus", result, done)
}

func (s *signalSink) VerifyFingerSelected(deviceID int, finger fingerprint.Finger) {
	s.emit(deviceID, "VerifyFingerSelected", finger.String())
}

func (s *signalSink) emit(deviceID int, signal string, args ...interface{}) {
	path := devicePath(deviceID)
	if err := s.conn.Emit(path, deviceInterface+"."+signal, args...); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"device": deviceID,
			"signal": signal,
		}).Warn("failed to emit signal")
	}
}

func devicePath(id int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/%d", deviceBasePath, id))
}
