// Package driver defines the FpDevice hardware boundary (spec.md §1): an
// abstract capability interface providing open/close/suspend/resume,
// enroll, verify, identify, list_prints, delete_print and clear_storage,
// plus a set of capability flags. This is an out-of-scope external
// collaborator; the real driver implementation is never part of this
// tree. Only the contract, a typed error taxonomy, and a scriptable fake
// implementation for tests/dev live here.
//
// The error taxonomy is ported from devicemapper/dm.go's
// DeviceExistsError/PoolFullError/DeviceNotFoundError + Is*Error() idiom,
// generalized from dm-thin pool outcomes to fingerprint-reader outcomes.
package driver

import (
	"context"
	"fmt"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// ScanType describes how the reader expects a finger to be presented.
type ScanType string

const (
	ScanPress ScanType = "press"
	ScanSwipe ScanType = "swipe"
)

// Capabilities describes what a device can do, per spec.md §3.
type Capabilities struct {
	SupportsStorage     bool
	SupportsIdentify    bool
	SupportsListPrints  bool
	ScanType            ScanType
	NumEnrollStages     int
}

// MatchEvent is one callback delivered during Verify/Identify, modeling
// the source's callback-heavy API as a channel-like stream per spec.md §9
// ("Callback-heavy driver API becomes an async operation that yields
// match/progress events via a channel-like stream").
type MatchEvent struct {
	// Matched is non-nil when Identify found a match against a print
	// passed in the caller's gallery: a true duplicate.
	Matched *fingerprint.Print
	// FoundOnDevice is non-nil when Identify found a print resident on
	// the device itself that was not present in the passed gallery — a
	// foreign or stale on-device template distinct from a gallery
	// duplicate. Mutually exclusive with Matched.
	FoundOnDevice *fingerprint.Print
	// Err is non-nil for both retryable (RetryError) and terminal errors.
	Err error
	// Final marks this as the terminal outcome; no further events follow.
	Final bool
}

// EnrollEvent is one callback delivered during Enroll.
type EnrollEvent struct {
	// Stage is the 0-based stage index just completed.
	Stage int
	// Err is non-nil for both retryable and terminal errors.
	Err error
	// Print is set only on the final, successful event.
	Print *fingerprint.Print
	// Final marks this as the terminal outcome.
	Final bool
}

// Device is the hardware boundary the Device object (internal/device)
// drives. Enroll/Verify/Identify return a receive-only channel of events
// rather than taking raw match/progress callbacks, which is the idiomatic
// Go rendering of the source's callback registration pattern.
type Device interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error

	Enroll(ctx context.Context, tmpl fingerprint.Print) (<-chan EnrollEvent, error)
	Verify(ctx context.Context, target fingerprint.Print) (<-chan MatchEvent, error)
	Identify(ctx context.Context, gallery []fingerprint.Print) (<-chan MatchEvent, error)

	ListPrints(ctx context.Context) ([]fingerprint.Print, error)
	DeletePrint(ctx context.Context, p fingerprint.Print) error
	ClearStorage(ctx context.Context) error

	Capabilities() Capabilities
	Name() string
	DeviceID() string
}

// RetryError is a transient, retryable outcome: a bad swipe, finger not
// centered, or similar. The pipeline restarts the same operation.
type RetryError struct {
	Reason string
}

func (e *RetryError) Error() string { return fmt.Sprintf("driver: retry: %s", e.Reason) }

// ProtocolError indicates the reader disconnected or spoke out of
// protocol; surfaces as *-disconnected to the bus.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("driver: protocol error: %s", e.Reason) }

// DataFullError indicates on-device storage is exhausted; the enroll
// pipeline attempts garbage collection and retries once.
type DataFullError struct{}

func (e *DataFullError) Error() string { return "driver: device storage full" }

// DataNotFoundError indicates the requested print is not present
// device-side; triggers local-storage reconciliation.
type DataNotFoundError struct{}

func (e *DataNotFoundError) Error() string { return "driver: print not found on device" }

// IsRetryError reports whether err is a *RetryError.
func IsRetryError(err error) bool {
	_, ok := err.(*RetryError)
	return ok
}

// IsProtocolError reports whether err is a *ProtocolError.
func IsProtocolError(err error) bool {
	_, ok := err.(*ProtocolError)
	return ok
}

// IsDataFullError reports whether err is a *DataFullError.
func IsDataFullError(err error) bool {
	_, ok := err.(*DataFullError)
	return ok
}

// IsDataNotFoundError reports whether err is a *DataNotFoundError.
func IsDataNotFoundError(err error) bool {
	_, ok := err.(*DataNotFoundError)
	return ok
}
