package device

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/cenkalti/backoff/v4"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/telemetry"
)

// verifyStopSettleWindow bounds how long VerifyStop waits for a final
// status to arrive before forcing cancellation (spec.md §4.2, §5).
const verifyStopSettleWindow = time.Second

// VerifyStart resolves the finger argument per spec.md §4.2's rules,
// emits VerifyFingerSelected synchronously with completion, then starts
// the verify/identify pipeline which reports VerifyStatus signals
// asynchronously.
func (d *Device) VerifyStart(ctx context.Context, sender string, requested fingerprint.Finger) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Permissions:   []authz.Permission{authz.PermissionVerify},
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}

	var noAction bool
	d.submit(func() {
		if d.action != ActionNone {
			noAction = true
		}
	})
	if noAction {
		return ErrAlreadyInUse
	}

	identify, target, selected, err := d.resolveVerifyTarget(ctx, requested)
	if err != nil {
		return err
	}

	var sess *Session
	d.submit(func() {
		if d.session != nil {
			sess = d.session.ref()
		}
	})
	if sess == nil {
		return ErrClaimDevice
	}

	d.signals.VerifyFingerSelected(d.ID, selected)

	opCtx, cancel := context.WithCancel(context.Background())
	d.submit(func() {
		d.action = ActionVerify
		if identify {
			d.action = ActionIdentify
		}
		d.cancel = cancel
		sess.resetVerifyStatus()
	})

	if identify {
		gallery, err := d.hostGallery(ctx, sess.Username)
		if err != nil {
			d.finishAction(sess, cancel)
			return err
		}
		go d.runIdentifyPipeline(opCtx, cancel, sess, gallery)
	} else {
		go d.runVerifyPipeline(opCtx, cancel, sess, target)
	}
	return nil
}

// resolveVerifyTarget implements spec.md §4.2's VerifyStart finger
// resolution table.
func (d *Device) resolveVerifyTarget(ctx context.Context, requested fingerprint.Finger) (identify bool, target fingerprint.Print, selected fingerprint.Finger, err error) {
	var username string
	d.submit(func() {
		if d.session != nil {
			username = d.session.Username
		}
	})

	if requested != fingerprint.Unknown {
		key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: username, Finger: requested}
		p, ok, loadErr := d.store.Load(ctx, key)
		if loadErr != nil {
			return false, fingerprint.Print{}, fingerprint.Unknown, loadErr
		}
		if !ok {
			return false, fingerprint.Print{}, fingerprint.Unknown, ErrNoEnrolledPrints
		}
		return false, p, requested, nil
	}

	fingers, discErr := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), username)
	if discErr != nil {
		return false, fingerprint.Print{}, fingerprint.Unknown, discErr
	}
	switch {
	case len(fingers) == 0:
		return false, fingerprint.Print{}, fingerprint.Unknown, ErrNoEnrolledPrints
	case d.driver.Capabilities().SupportsIdentify && len(fingers) >= 1:
		return true, fingerprint.Print{}, fingerprint.Unknown, nil
	case len(fingers) == 1:
		key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: username, Finger: fingers[0]}
		p, ok, loadErr := d.store.Load(ctx, key)
		if loadErr != nil || !ok {
			return false, fingerprint.Print{}, fingerprint.Unknown, ErrNoEnrolledPrints
		}
		return false, p, fingers[0], nil
	default:
		return false, fingerprint.Print{}, fingerprint.Unknown, ErrNoEnrolledPrints
	}
}

// hostGallery takes an immutable snapshot of the user's full print
// gallery so a concurrent DeleteEnrolledFinger cannot mutate the set this
// identify pass observes mid-operation (see SPEC_FULL.md §3's grounding
// for benbjohnson/immutable).
func (d *Device) hostGallery(ctx context.Context, username string) ([]fingerprint.Print, error) {
	fingers, err := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), username)
	if err != nil {
		return nil, err
	}
	b := immutable.NewMapBuilder[fingerprint.Finger, fingerprint.Print](nil)
	for _, f := range fingers {
		key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: username, Finger: f}
		if p, ok, err := d.store.Load(ctx, key); err == nil && ok {
			b.Set(f, p)
		}
	}
	snapshot := b.Map()
	out := make([]fingerprint.Print, 0, snapshot.Len())
	it := snapshot.Iterator()
	for !it.Done() {
		_, p, _ := it.Next()
		out = append(out, p)
	}
	return out, nil
}

// runVerifyPipeline drives a 1-of-1 match against target, auto-restarting
// on driver RETRY starter failures via an unbounded backoff policy
// (spec.md §4.2 step 4), bounded only by cancellation.
func (d *Device) runVerifyPipeline(ctx context.Context, cancel context.CancelFunc, sess *Session, target fingerprint.Print) {
	defer sess.unref()
	ctx, span := telemetry.StartVerifySpan(ctx, d.ID, telemetry.Driver(d.driver.Name()), telemetry.Username(sess.Username))
	defer span.End()
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(eb, ctx)

	var outcome string
	_ = backoff.Retry(func() error {
		events, err := d.driver.Verify(ctx, target)
		if err != nil {
			if driver.IsRetryError(err) {
				return err
			}
			outcome = verifyErrorName(err)
			d.reportFinal(sess, outcome)
			return nil
		}
		outcome = d.consumeMatchEvents(ctx, sess, events)
		return nil
	}, b)

	d.completeVerifyLike(ctx, sess, cancel, outcome)
}

// runIdentifyPipeline drives a 1-of-N match against gallery.
func (d *Device) runIdentifyPipeline(ctx context.Context, cancel context.CancelFunc, sess *Session, gallery []fingerprint.Print) {
	defer sess.unref()
	ctx, span := telemetry.StartVerifySpan(ctx, d.ID, telemetry.Driver(d.driver.Name()), telemetry.Username(sess.Username))
	defer span.End()
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(eb, ctx)

	var outcome string
	_ = backoff.Retry(func() error {
		events, err := d.driver.Identify(ctx, gallery)
		if err != nil {
			if driver.IsRetryError(err) {
				return err
			}
			outcome = verifyErrorName(err)
			d.reportFinal(sess, outcome)
			return nil
		}
		outcome = d.consumeMatchEvents(ctx, sess, events)
		return nil
	}, b)

	d.completeVerifyLike(ctx, sess, cancel, outcome)
}

// consumeMatchEvents drains one Verify/Identify attempt's event stream,
// reporting retry-vs-final VerifyStatus signals per spec.md §4.2 step 3.
// The starter-level RETRY auto-restart (spec.md §4.2 step 4) is handled by
// the backoff.Retry wrapping this call in runVerifyPipeline/
// runIdentifyPipeline, triggered by d.driver.Verify/Identify's own
// returned error rather than anything observed here.
//
// The returned result name is the same string passed to reportFinal (or
// "" if the stream ended without one), and lets the caller decide whether
// this completion qualifies for local-storage reconciliation.
func (d *Device) consumeMatchEvents(ctx context.Context, sess *Session, events <-chan driver.MatchEvent) string {
	outcome := ""
	for {
		select {
		case <-ctx.Done():
			d.reportFinal(sess, "verify-no-match")
			if outcome == "" {
				outcome = "verify-no-match"
			}
			return outcome
		case ev, ok := <-events:
			if !ok {
				return outcome
			}
			switch {
			case ev.Err != nil && driver.IsRetryError(ev.Err):
				d.reportRetry(sess, retryStatusName(ev.Err))
			case ev.Err != nil:
				outcome = verifyErrorName(ev.Err)
				d.reportFinal(sess, outcome)
			case ev.Matched != nil:
				d.reportFinal(sess, "verify-match")
				outcome = "verify-match"
			}
			if ev.Final {
				if outcome == "" {
					outcome = "verify-no-match"
					d.reportFinal(sess, outcome)
				}
				return outcome
			}
		}
	}
}

func retryStatusName(err error) string {
	if re, ok := err.(*driver.RetryError); ok {
		switch re.Reason {
		case "swipe too short":
			return "verify-swipe-too-short"
		case "finger not centered":
			return "verify-finger-not-centered"
		case "remove and retry":
			return "verify-remove-and-retry"
		}
	}
	return "verify-retry-scan"
}

func verifyErrorName(err error) string {
	switch {
	case driver.IsProtocolError(err):
		return "verify-disconnected"
	case driver.IsDataNotFoundError(err):
		return "verify-no-match"
	case errors.Is(err, context.Canceled):
		return "verify-no-match"
	case err == nil:
		return "verify-no-match"
	default:
		return "verify-unknown-error"
	}
}

func (d *Device) reportRetry(sess *Session, name string) {
	d.signals.VerifyStatus(d.ID, name, false)
}

func (d *Device) reportFinal(sess *Session, name string) {
	if sess.markVerifyStatusReported() {
		d.signals.VerifyStatus(d.ID, name, true)
		d.metrics.RecordVerify(name)
	}
}

// completeVerifyLike runs local-storage reconciliation when this
// completion's outcome was a no-match or a data-not-found (both map to
// the "verify-no-match" result name; see verifyErrorName), then clears
// the in-flight action, matching pipeline step 5. A successful match
// never reconciles, mirroring the original's check_local_storage, which
// returns immediately when found_match is true.
func (d *Device) completeVerifyLike(ctx context.Context, sess *Session, cancel context.CancelFunc, outcome string) {
	if outcome == "verify-no-match" {
		d.reconcileIfNeeded(ctx, sess.Username)
	}
	d.finishAction(sess, cancel)
}

func (d *Device) finishAction(sess *Session, cancel context.CancelFunc) {
	d.submit(func() {
		d.action = ActionNone
		d.cancel = nil
	})
	_ = cancel
}

// VerifyStop cancels an in-flight Verify/Identify action, honoring the
// bounded settle window from spec.md §4.2/§5: if a final status has
// already been reported but the hardware side has not settled, wait up
// to verifyStopSettleWindow for natural settlement before forcing
// cancellation.
func (d *Device) VerifyStop(ctx context.Context, sender string) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}

	var action Action
	var sess *Session
	d.submit(func() {
		action = d.action
		if d.session != nil {
			sess = d.session
		}
	})
	if action != ActionVerify && action != ActionIdentify {
		return ErrNoActionInProgress
	}
	if sess == nil {
		return ErrClaimDevice
	}

	reported := func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.verifyStatusReported
	}()

	if reported {
		deadline := time.Now().Add(verifyStopSettleWindow)
		for time.Now().Before(deadline) {
			var settled bool
			d.submit(func() { settled = d.action == ActionNone })
			if settled {
				return nil
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	d.cancelCurrentAction()
	d.waitForActionSettle(ctx)
	return nil
}
