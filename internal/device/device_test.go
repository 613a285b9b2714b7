package device

import (
	"context"
	"testing"
	"time"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/driver/fake"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/store/filestore"
)

type recordingSignals struct {
	enrollEvents []string
	verifyEvents []string
}

func (r *recordingSignals) EnrollStatus(deviceID int, result string, done bool) {
	r.enrollEvents = append(r.enrollEvents, result)
}
func (r *recordingSignals) VerifyStatus(deviceID int, result string, done bool) {
	r.verifyEvents = append(r.verifyEvents, result)
}
func (r *recordingSignals) VerifyFingerSelected(deviceID int, finger fingerprint.Finger) {}

type recordingBusy struct {
	busy []bool
}

func (r *recordingBusy) DeviceBusyChanged(deviceID int, busy bool) {
	r.busy = append(r.busy, busy)
}

func newTestDevice(t *testing.T, caps driver.Capabilities) (*Device, *fake.Device, *recordingSignals) {
	t.Helper()
	st, err := filestore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	gate := authz.New(authz.NewLocalPolicy(map[string]bool{"sender1": true}, nil), nil)
	drv := fake.New(fake.Config{Name: "fake", DeviceID: "dev0", Capabilities: caps, Capacity: 3})
	signals := &recordingSignals{}
	busy := &recordingBusy{}
	dev := New(1, drv, st, gate, signals, busy, nil)
	t.Cleanup(dev.Shutdown)
	return dev, drv, signals
}

func TestClaimAndRelease(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{})
	ctx := context.Background()

	if err := dev.Claim(ctx, "sender1", ""); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := dev.Claim(ctx, "sender2", ""); err == nil {
		t.Fatal("expected second claim to fail while already claimed")
	}
	if err := dev.Release(ctx, "sender1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := dev.Claim(ctx, "sender2", ""); err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
}

func TestReleaseWithoutClaimIsRejected(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{})
	if err := dev.Release(context.Background(), "sender1"); err == nil {
		t.Fatal("expected Release on an unclaimed device to fail")
	}
}

func TestVerifyMatchReportsOnce(t *testing.T) {
	caps := driver.Capabilities{SupportsStorage: true, NumEnrollStages: 1}
	dev, _, signals := newTestDevice(t, caps)
	ctx := context.Background()

	if err := dev.Claim(ctx, "sender1", ""); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	defer dev.Release(ctx, "sender1")

	var actingUser string
	dev.submit(func() { actingUser = dev.session.Username })
	p := fingerprint.New("fake", "dev0", actingUser, fingerprint.RightIndex)
	if err := dev.store.Save(ctx, p); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if err := dev.VerifyStart(ctx, "sender1", fingerprint.RightIndex); err != nil {
		t.Fatalf("VerifyStart: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(signals.verifyEvents) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a verify status signal")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(signals.verifyEvents) != 1 || signals.verifyEvents[0] != "verify-match" {
		t.Fatalf("expected exactly one verify-match, got %v", signals.verifyEvents)
	}
}

func TestEnrollStartRejectsSecondActionInProgress(t *testing.T) {
	caps := driver.Capabilities{SupportsStorage: true, NumEnrollStages: 1}
	dev, _, _ := newTestDevice(t, caps)
	ctx := context.Background()

	if err := dev.Claim(ctx, "sender1", ""); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	defer dev.Release(ctx, "sender1")

	if err := dev.EnrollStart(ctx, "sender1", fingerprint.LeftThumb); err != nil {
		t.Fatalf("EnrollStart: %v", err)
	}
	if err := dev.EnrollStart(ctx, "sender1", fingerprint.RightThumb); err == nil {
		t.Fatal("expected a second EnrollStart while one is already in progress to fail")
	}
	dev.EnrollStop(ctx, "sender1")
}

func TestDeleteEnrolledFingerRequiresClaim(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{})
	if err := dev.DeleteEnrolledFinger(context.Background(), "sender1", fingerprint.LeftThumb); err == nil {
		t.Fatal("expected DeleteEnrolledFinger on an unclaimed device to fail")
	}
}
