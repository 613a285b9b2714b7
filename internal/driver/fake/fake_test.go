package fake

import (
	"context"
	"testing"

	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func drainEnroll(t *testing.T, ch <-chan driver.EnrollEvent) []driver.EnrollEvent {
	t.Helper()
	var out []driver.EnrollEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestEnrollSucceedsByDefault(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0", Capabilities: driver.Capabilities{NumEnrollStages: 3}})
	ch, err := d.Enroll(context.Background(), fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	events := drainEnroll(t, ch)
	if len(events) == 0 || events[len(events)-1].Print == nil {
		t.Fatalf("expected a final event carrying the completed print, got %+v", events)
	}
}

func TestEnrollScriptedDataFull(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0", Capabilities: driver.Capabilities{NumEnrollStages: 1}})
	d.Script(OutcomeDataFull)

	ch, err := d.Enroll(context.Background(), fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	events := drainEnroll(t, ch)
	last := events[len(events)-1]
	if !driver.IsDataFullError(last.Err) {
		t.Fatalf("expected a DataFullError, got %+v", last)
	}
}

func TestEnrollRespectsCapacity(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0", Capabilities: driver.Capabilities{NumEnrollStages: 1}, Capacity: 1})
	ctx := context.Background()

	first, _ := d.Enroll(ctx, fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb))
	drainEnroll(t, first)

	second, _ := d.Enroll(ctx, fingerprint.New("fake", "dev0", "alice", fingerprint.RightThumb))
	events := drainEnroll(t, second)
	last := events[len(events)-1]
	if !driver.IsDataFullError(last.Err) {
		t.Fatalf("expected capacity exhaustion to report DataFullError, got %+v", last)
	}
}

func TestVerifyMatchesTarget(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0"})
	target := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)

	ch, err := d.Verify(context.Background(), target)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	var matched bool
	for ev := range ch {
		if ev.Matched != nil && ev.Matched.Equal(target) {
			matched = true
		}
	}
	if !matched {
		t.Fatal("expected the default scripted outcome to match the target")
	}
}

func TestVerifyScriptedNoMatch(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0"})
	d.Script(OutcomeNoMatch)
	target := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)

	ch, err := d.Verify(context.Background(), target)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	for ev := range ch {
		if ev.Matched != nil {
			t.Fatal("expected no match for the scripted no-match outcome")
		}
	}
}

func TestListPrintsAndDeletePrint(t *testing.T) {
	d := New(Config{Name: "fake", DeviceID: "dev0", Capabilities: driver.Capabilities{NumEnrollStages: 1}})
	ctx := context.Background()
	tmpl := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	drainEnroll(t, func() <-chan driver.EnrollEvent { ch, _ := d.Enroll(ctx, tmpl); return ch }())

	prints, err := d.ListPrints(ctx)
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	if len(prints) != 1 {
		t.Fatalf("expected 1 resident print, got %d", len(prints))
	}

	if err := d.DeletePrint(ctx, prints[0]); err != nil {
		t.Fatalf("DeletePrint: %v", err)
	}
	prints, err = d.ListPrints(ctx)
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	if len(prints) != 0 {
		t.Fatalf("expected 0 resident prints after delete, got %d", len(prints))
	}
}
