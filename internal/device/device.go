// Package device implements the Device object (spec.md §4.2): the
// per-reader session and operation state machine that is the heart of the
// daemon. One Device exists per discovered reader; it owns the reader
// handle, the claim Session, the current Action, and drives the
// enroll/verify/identify pipelines.
//
// State is serialized through a single command loop per Device — one
// goroutine executing closures submitted by method handlers and by
// background driver-event consumers — the direct generalization of
// spec.md §5's single-threaded cooperative event loop to a per-device
// actor (see SPEC_FULL.md §5). This keeps the "no shared-memory locks
// required" property spec.md describes while letting independent Devices
// make progress concurrently, which spec.md never forbids.
//
// The hand-rolled state machine here (typed Dependencies-like
// constructor, bounded retry behavior, idempotency checks, typed sentinel
// errors) is grounded on the teacher's unpack/fsm.go idiom; the generic
// engine unpack/fsm.go itself depends on is not present in the retrieved
// files, so this package implements the concrete per-device machine
// directly rather than guessing at that engine's API.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/metrics"
	"github.com/deepin-community/fprintd-go/internal/store"
)

// Action enumerates the current operation a Device is performing. At most
// one non-None action is in flight per device at a time (spec.md §3).
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
	ActionEnroll
	ActionVerify
	ActionIdentify
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionEnroll:
		return "enroll"
	case ActionVerify:
		return "verify"
	case ActionIdentify:
		return "identify"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Session is present iff the device is claimed (spec.md §3). Sender and
// Username are immutable once created; refCount lets handlers that yield
// the loop safely observe whether the session that started them is still
// the current one.
type Session struct {
	Sender   string
	Username string

	refCount int32

	mu                   sync.Mutex
	verifyStatusReported bool
	invocationInFlight    bool
}

func newSession(sender, username string) *Session {
	return &Session{Sender: sender, Username: username, refCount: 1}
}

func (s *Session) ref() *Session {
	atomic.AddInt32(&s.refCount, 1)
	return s
}

func (s *Session) unref() {
	atomic.AddInt32(&s.refCount, -1)
}

// markVerifyStatusReported transitions verify-status-reported from false
// to true exactly once, returning whether this call performed the
// transition (spec.md §3's invariant).
func (s *Session) markVerifyStatusReported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifyStatusReported {
		return false
	}
	s.verifyStatusReported = true
	return true
}

func (s *Session) resetVerifyStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyStatusReported = false
}

// Signals is the bus-facing notification sink a Device emits onto. It is
// implemented by internal/bussurface; keeping it as an interface here lets
// the pipelines be tested without a live D-Bus connection, the same
// boundary discipline the teacher applies to its DatabaseManager and
// DeviceManager mock interfaces.
type Signals interface {
	EnrollStatus(deviceID int, result string, done bool)
	VerifyStatus(deviceID int, result string, done bool)
	VerifyFingerSelected(deviceID int, finger fingerprint.Finger)
}

// BusyObserver is notified when a device's busy state changes, feeding the
// Manager's idle timer (spec.md §4.3).
type BusyObserver interface {
	DeviceBusyChanged(deviceID int, busy bool)
}

// Device is the per-reader state machine.
type Device struct {
	ID     int
	driver driver.Device
	store  store.Store
	gate   *authz.Gate
	logger  logrus.FieldLogger
	signals Signals
	busyObs BusyObserver
	metrics *metrics.Metrics

	cmds chan command
	stop chan struct{}

	// Fields below are only ever touched from inside the command loop.
	session          *Session
	action           Action
	cancel           context.CancelFunc
	reconcile        reconciler
	clients          map[string]struct{}
	verifyStopSettle *time.Timer
}

type command struct {
	fn   func()
	done chan struct{}
}

// New constructs a Device bound to a driver instance and a Template
// Store, and starts its command loop goroutine.
func New(id int, drv driver.Device, st store.Store, gate *authz.Gate, signals Signals, busyObs BusyObserver, logger logrus.FieldLogger) *Device {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Device{
		ID:      id,
		driver:  drv,
		store:   st,
		gate:    gate,
		signals: signals,
		busyObs: busyObs,
		logger:  logger.WithField("device", id),
		cmds:    make(chan command, 32),
		stop:    make(chan struct{}),
		clients: make(map[string]struct{}),
	}
	go d.loop()
	return d
}

// WithMetrics attaches a metrics sink; nil-safe, so this is optional.
func (d *Device) WithMetrics(m *metrics.Metrics) *Device {
	d.metrics = m
	return d
}

func (d *Device) loop() {
	for {
		select {
		case c := <-d.cmds:
			c.fn()
			close(c.done)
		case <-d.stop:
			return
		}
	}
}

// Shutdown stops the command loop. No further commands may be submitted
// after Shutdown returns.
func (d *Device) Shutdown() {
	close(d.stop)
}

// Suspend asks the underlying driver to quiesce ahead of host suspend,
// per spec.md §4.3's sleep handshake step 2.
func (d *Device) Suspend(ctx context.Context) error {
	return d.driver.Suspend(ctx)
}

// Resume asks the underlying driver to come back after host wake, per
// spec.md §4.3's sleep handshake step 3.
func (d *Device) Resume(ctx context.Context) error {
	return d.driver.Resume(ctx)
}

// submit runs fn serialized with respect to every other submission on
// this Device and blocks until it completes.
func (d *Device) submit(fn func()) {
	done := make(chan struct{})
	d.cmds <- command{fn: fn, done: done}
	<-done
}

// newToken mints an operation-correlation ID the way the teacher derives
// deterministic identifiers in identity.go, except operation tokens must
// be unique per invocation rather than content-derived, so a ULID (time-
// sortable, collision-resistant, no central counter) is the natural fit.
func newToken() string {
	return ulid.Make().String()
}

// Sentinel errors mapped 1:1 to spec.md §6's error kinds; bussurface
// translates these to the bus error name without reinterpreting them.
var (
	ErrClaimDevice               = authz.ErrClaimDevice
	ErrAlreadyInUse              = authz.ErrAlreadyInUse
	ErrPermissionDenied          = authz.ErrPermissionDenied
	ErrInternal                  = errors.New("fprintd: internal error")
	ErrNoEnrolledPrints          = errors.New("fprintd: no enrolled prints")
	ErrFingerAlreadyEnrolled     = errors.New("fprintd: finger already enrolled")
	ErrNoActionInProgress        = errors.New("fprintd: no action in progress")
	ErrInvalidFingername         = errors.New("fprintd: invalid finger name")
	ErrPrintsNotDeleted          = errors.New("fprintd: prints not deleted")
	ErrPrintsNotDeletedFromDevice = errors.New("fprintd: prints not deleted from device")
)

func (d *Device) setBusy() {
	if d.busyObs != nil {
		d.busyObs.DeviceBusyChanged(d.ID, len(d.clients) > 0)
	}
}

// Claim opens the reader on behalf of username under sender's identity.
// Pre: device is unclaimed, caller is authorized for verify+enroll (any
// permit wins per spec.md §9), and is permitted to act as username.
func (d *Device) Claim(ctx context.Context, sender, username string) error {
	decision, err := d.gate.Check(ctx, authz.Request{
		Sender:            sender,
		RequestedUsername: username,
		RequiredState:     authz.ClaimUnclaimed,
		Permissions:       []authz.Permission{authz.PermissionVerify, authz.PermissionEnroll},
		Claim:             d.claimQuery(),
	})
	if err != nil {
		return err
	}

	var openErr error
	d.submit(func() {
		if d.session != nil {
			openErr = ErrAlreadyInUse
			return
		}
		openErr = d.driver.Open(ctx)
		if openErr != nil {
			return
		}
		d.session = newSession(sender, decision.ActingUser)
		d.clients[sender] = struct{}{}
		d.setBusy()
	})
	if openErr == nil {
		d.resetReconcileLatch()
		d.metrics.SetClaimed(fmt.Sprint(d.ID), true)
	}
	return openErr
}

// Release closes the reader and clears the Session. Idempotent across a
// race with the claimant vanishing (spec.md §9's preserved ambiguity: a
// session that is already gone by the time Release resumes is treated as
// already satisfied).
func (d *Device) Release(ctx context.Context, sender string) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}
	return d.releaseInternal(ctx, sender)
}

// releaseInternal performs the cancel-and-close sequence without an
// authorization check, used both by Release and by client-vanished
// handling.
func (d *Device) releaseInternal(ctx context.Context, sender string) error {
	d.cancelCurrentAction()
	d.waitForActionSettle(ctx)

	var closeErr error
	d.submit(func() {
		if d.session == nil || d.session.Sender != sender {
			// Vanished-session race: nothing to do, short-circuit.
			return
		}
		closeErr = d.driver.Close(ctx)
		delete(d.clients, sender)
		d.session = nil
		d.setBusy()
	})
	d.metrics.SetClaimed(fmt.Sprint(d.ID), false)
	return closeErr
}

func (d *Device) cancelCurrentAction() {
	d.submit(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// waitForActionSettle drives the loop until Action returns to None,
// matching spec.md §4.2's client-vanished handling: "cancel any in-flight
// action and drive the main loop until Action = None is observed".
func (d *Device) waitForActionSettle(ctx context.Context) {
	for {
		var current Action
		d.submit(func() { current = d.action })
		if current == ActionNone {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (d *Device) claimQuery() authz.ClaimQuery {
	var q authz.ClaimQuery
	d.submit(func() {
		if d.session != nil {
			q = authz.ClaimQuery{Claimed: true, ClaimantID: d.session.Sender}
		}
	})
	return q
}

// ListEnrolledFingers returns the enrolled slots for the resolved user.
// Anytime claim-state; fails NoEnrolledPrints if the set is empty.
func (d *Device) ListEnrolledFingers(ctx context.Context, sender, username string) ([]fingerprint.Finger, error) {
	decision, err := d.gate.Check(ctx, authz.Request{
		Sender:            sender,
		RequestedUsername: username,
		RequiredState:     authz.ClaimAnytime,
		Permissions:       []authz.Permission{authz.PermissionVerify},
		Claim:             d.claimQuery(),
	})
	if err != nil {
		return nil, err
	}
	fingers, err := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), decision.ActingUser)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if len(fingers) == 0 {
		return nil, ErrNoEnrolledPrints
	}
	return fingers, nil
}

// DeleteEnrolledFinger removes one (user, finger) from both device
// storage (if supported) and the Template Store. Requires the device be
// claimed by caller.
func (d *Device) DeleteEnrolledFinger(ctx context.Context, sender string, finger fingerprint.Finger) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Permissions:   []authz.Permission{authz.PermissionEnroll},
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}
	var username string
	d.submit(func() {
		if d.session != nil {
			username = d.session.Username
		}
	})
	return d.deleteFinger(ctx, username, finger)
}

func (d *Device) deleteFinger(ctx context.Context, username string, finger fingerprint.Finger) error {
	key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: username, Finger: finger}

	var deviceErr error
	if d.driver.Capabilities().SupportsStorage {
		if p, ok, err := d.store.Load(ctx, key); err == nil && ok {
			deviceErr = d.driver.DeletePrint(ctx, p)
		}
	}
	storeErr := d.store.Delete(ctx, key)

	if deviceErr != nil && storeErr != nil {
		return ErrPrintsNotDeleted
	}
	if deviceErr != nil {
		return ErrPrintsNotDeletedFromDevice
	}
	if storeErr != nil {
		return ErrPrintsNotDeleted
	}
	return nil
}

// DeleteEnrolledFingers deletes every slot for username (the legacy
// variant). Logs a deprecation warning for the caller, matching
// original_source/src/device.c's behavior for this call.
func (d *Device) DeleteEnrolledFingers(ctx context.Context, sender, username string) error {
	d.logger.WithField("method", "DeleteEnrolledFingers").Warn("deprecated method called; use DeleteEnrolledFinger or DeleteEnrolledFingers2")

	decision, err := d.gate.Check(ctx, authz.Request{
		Sender:            sender,
		RequestedUsername: username,
		RequiredState:     authz.ClaimAutoClaim,
		Permissions:       []authz.Permission{authz.PermissionEnroll},
		Claim:             d.claimQuery(),
	})
	if err != nil {
		return err
	}

	alreadyClaimed := d.claimQuery().Claimed
	if !alreadyClaimed {
		if err := d.driver.Open(ctx); err != nil {
			return err
		}
		defer d.driver.Close(ctx)
	}

	fingers, err := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), decision.ActingUser)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	var failed bool
	for _, f := range fingers {
		if err := d.deleteFinger(ctx, decision.ActingUser, f); err != nil {
			failed = true
		}
	}
	if failed {
		return ErrPrintsNotDeleted
	}
	return nil
}

// DeleteEnrolledFingers2 deletes every slot for the claiming session's
// user, requiring an active claim (unlike the legacy AutoClaim variant).
func (d *Device) DeleteEnrolledFingers2(ctx context.Context, sender string) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Permissions:   []authz.Permission{authz.PermissionEnroll},
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}
	var username string
	d.submit(func() {
		if d.session != nil {
			username = d.session.Username
		}
	})
	fingers, err := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), username)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	var failed bool
	for _, f := range fingers {
		if err := d.deleteFinger(ctx, username, f); err != nil {
			failed = true
		}
	}
	if failed {
		return ErrPrintsNotDeleted
	}
	return nil
}

// Properties exposes the read-only bus properties from spec.md §6.
type Properties struct {
	Name            string
	ScanType        string
	NumEnrollStages int
	FingerPresent   bool
	FingerNeeded    bool
}

// Properties returns the device's current read-only property values.
func (d *Device) Properties() Properties {
	caps := d.driver.Capabilities()
	stages := caps.NumEnrollStages
	if caps.SupportsIdentify {
		stages++
	}
	return Properties{
		Name:            d.driver.Name(),
		ScanType:        string(caps.ScanType),
		NumEnrollStages: stages,
	}
}

// HandleSenderVanished implements spec.md §4.2's client-vanished handling
// for sender. If sender is the current claimant, the in-flight action is
// cancelled, the loop is driven until it settles, the device is closed
// and the Session cleared; otherwise this only drops the watch
// bookkeeping.
func (d *Device) HandleSenderVanished(ctx context.Context, sender string) {
	var isClaimant bool
	d.submit(func() {
		isClaimant = d.session != nil && d.session.Sender == sender
	})
	if isClaimant {
		_ = d.releaseInternal(ctx, sender)
		return
	}
	d.submit(func() {
		delete(d.clients, sender)
		d.setBusy()
	})
}
