package bussurface

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/device"
)

const errPrefix = "net.reactivated.Fprint.Error."

// busError maps the internal sentinel error taxonomy onto bus error
// names, the way logind-stub's handlers return dbus.MakeFailedError for
// every failure path but with named error kinds per spec.md §6 rather
// than a single generic one.
func busError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, authz.ErrPermissionDenied):
		return dbus.NewError(errPrefix+"PermissionDenied", []interface{}{err.Error()})
	case errors.Is(err, authz.ErrClaimDevice):
		return dbus.NewError(errPrefix+"ClaimDevice", []interface{}{err.Error()})
	case errors.Is(err, authz.ErrAlreadyInUse):
		return dbus.NewError(errPrefix+"AlreadyInUse", []interface{}{err.Error()})
	case errors.Is(err, device.ErrNoEnrolledPrints):
		return dbus.NewError(errPrefix+"NoEnrolledPrints", []interface{}{err.Error()})
	case errors.Is(err, device.ErrNoActionInProgress):
		return dbus.NewError(errPrefix+"NoActionInProgress", []interface{}{err.Error()})
	case errors.Is(err, device.ErrInvalidFingername):
		return dbus.NewError(errPrefix+"InvalidFingername", []interface{}{err.Error()})
	case errors.Is(err, device.ErrFingerAlreadyEnrolled):
		return dbus.NewError(errPrefix+"FingerAlreadyEnrolled", []interface{}{err.Error()})
	case errors.Is(err, device.ErrPrintsNotDeletedFromDevice):
		return dbus.NewError(errPrefix+"PrintsNotDeletedFromDevice", []interface{}{err.Error()})
	case errors.Is(err, device.ErrPrintsNotDeleted):
		return dbus.NewError(errPrefix+"PrintsNotDeleted", []interface{}{err.Error()})
	default:
		return dbus.NewError(errPrefix+"Internal", []interface{}{err.Error()})
	}
}
