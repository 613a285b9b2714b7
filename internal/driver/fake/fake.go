// Package fake provides a scriptable software stand-in for the
// out-of-scope hardware driver layer, used by tests and by
// `fprintd --driver=fake` for development without real hardware.
//
// Its shape (constructor New(), SetLogger, typed capability/error fields)
// is ported from devicemapper.Client in the teacher repo, which plays the
// same "narrow boundary to a resource fprintd never implements itself"
// role there that driver.Device plays here.
package fake

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// Outcome scripts one step of a Verify/Identify/Enroll sequence.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomeProtocolError
	OutcomeDataFull
	OutcomeDataNotFound
	OutcomeNoMatch
	// OutcomeFoundOnDevice scripts an Identify call that matches a print
	// resident on the device but absent from the passed gallery, rather
	// than a true gallery duplicate.
	OutcomeFoundOnDevice
)

// Device is a fully in-memory, scriptable implementation of driver.Device.
type Device struct {
	mu sync.Mutex

	name     string
	deviceID string
	caps     driver.Capabilities
	logger   logrus.FieldLogger

	open bool

	// stored holds this device's own resident prints (separate from the
	// host Template Store), modeling on-device storage capacity.
	stored   []fingerprint.Print
	capacity int

	// script, if non-empty, is consumed one Outcome per Verify/Identify/
	// Enroll call; once exhausted, calls succeed.
	script []Outcome
}

// Config parametrizes a fake device.
type Config struct {
	Name         string
	DeviceID     string
	Capabilities driver.Capabilities
	Capacity     int
	Logger       logrus.FieldLogger
}

// New constructs a fake device with the given capabilities. Capacity <= 0
// means unlimited on-device storage.
func New(cfg Config) *Device {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Device{
		name:     cfg.Name,
		deviceID: cfg.DeviceID,
		caps:     cfg.Capabilities,
		capacity: cfg.Capacity,
		logger:   cfg.Logger.WithField("component", "fake-driver"),
	}
}

// Script queues outcomes to be returned by subsequent Verify/Identify/
// Enroll calls, one per call, FIFO.
func (d *Device) Script(outcomes ...Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, outcomes...)
}

func (d *Device) nextOutcome() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return OutcomeSuccess
	}
	o := d.script[0]
	d.script = d.script[1:]
	return o
}

func (d *Device) Name() string           { return d.name }
func (d *Device) DeviceID() string       { return d.deviceID }
func (d *Device) Capabilities() driver.Capabilities { return d.caps }

func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *Device) Suspend(ctx context.Context) error { return nil }
func (d *Device) Resume(ctx context.Context) error  { return nil }

// Verify runs a single-print match against target, driven by the scripted
// outcome queue.
func (d *Device) Verify(ctx context.Context, target fingerprint.Print) (<-chan driver.MatchEvent, error) {
	ch := make(chan driver.MatchEvent, 4)
	go func() {
		defer close(ch)
		d.emitMatch(ch, target)
	}()
	return ch, nil
}

// Identify runs a 1-of-N match against gallery.
func (d *Device) Identify(ctx context.Context, gallery []fingerprint.Print) (<-chan driver.MatchEvent, error) {
	ch := make(chan driver.MatchEvent, 4)
	go func() {
		defer close(ch)
		var best *fingerprint.Print
		if len(gallery) > 0 {
			p := gallery[0]
			best = &p
		}
		d.emitIdentify(ch, best)
	}()
	return ch, nil
}

func (d *Device) emitMatch(ch chan<- driver.MatchEvent, target fingerprint.Print) {
	switch d.nextOutcome() {
	case OutcomeRetry:
		ch <- driver.MatchEvent{Err: &driver.RetryError{Reason: "swipe too short"}}
		ch <- driver.MatchEvent{Final: true}
	case OutcomeProtocolError:
		ch <- driver.MatchEvent{Err: &driver.ProtocolError{Reason: "reader unplugged"}, Final: true}
	case OutcomeDataNotFound:
		ch <- driver.MatchEvent{Err: &driver.DataNotFoundError{}, Final: true}
	case OutcomeNoMatch:
		ch <- driver.MatchEvent{Final: true}
	default:
		t := target
		ch <- driver.MatchEvent{Matched: &t, Final: true}
	}
}

func (d *Device) emitIdentify(ch chan<- driver.MatchEvent, best *fingerprint.Print) {
	switch d.nextOutcome() {
	case OutcomeRetry:
		ch <- driver.MatchEvent{Err: &driver.RetryError{Reason: "finger not centered"}}
		ch <- driver.MatchEvent{Final: true}
	case OutcomeProtocolError:
		ch <- driver.MatchEvent{Err: &driver.ProtocolError{Reason: "reader unplugged"}, Final: true}
	case OutcomeDataNotFound:
		ch <- driver.MatchEvent{Err: &driver.DataNotFoundError{}, Final: true}
	case OutcomeNoMatch:
		ch <- driver.MatchEvent{Final: true}
	case OutcomeFoundOnDevice:
		found := d.deviceResidentPrint()
		ch <- driver.MatchEvent{FoundOnDevice: found, Final: true}
	default:
		ch <- driver.MatchEvent{Matched: best, Final: true}
	}
}

// deviceResidentPrint returns a stored print for the OutcomeFoundOnDevice
// script step, modeling a print the device holds outside the identify
// gallery.
func (d *Device) deviceResidentPrint() *fingerprint.Print {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stored) == 0 {
		return nil
	}
	p := d.stored[0]
	return &p
}

// Enroll runs a multi-stage capture, driven by the scripted outcome queue
// and the configured NumEnrollStages.
func (d *Device) Enroll(ctx context.Context, tmpl fingerprint.Print) (<-chan driver.EnrollEvent, error) {
	ch := make(chan driver.EnrollEvent, d.caps.NumEnrollStages+2)
	go func() {
		defer close(ch)
		switch d.nextOutcome() {
		case OutcomeRetry:
			ch <- driver.EnrollEvent{Err: &driver.RetryError{Reason: "remove and retry"}}
			ch <- driver.EnrollEvent{Final: true}
			return
		case OutcomeProtocolError:
			ch <- driver.EnrollEvent{Err: &driver.ProtocolError{Reason: "reader unplugged"}, Final: true}
			return
		case OutcomeDataFull:
			ch <- driver.EnrollEvent{Err: &driver.DataFullError{}, Final: true}
			return
		}

		for stage := 0; stage < d.caps.NumEnrollStages; stage++ {
			ch <- driver.EnrollEvent{Stage: stage}
		}

		d.mu.Lock()
		if d.capacity > 0 && len(d.stored) >= d.capacity {
			d.mu.Unlock()
			ch <- driver.EnrollEvent{Err: &driver.DataFullError{}, Final: true}
			return
		}
		d.stored = append(d.stored, tmpl)
		d.mu.Unlock()

		p := tmpl
		ch <- driver.EnrollEvent{Print: &p, Final: true}
	}()
	return ch, nil
}

func (d *Device) ListPrints(ctx context.Context) ([]fingerprint.Print, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]fingerprint.Print, len(d.stored))
	copy(out, d.stored)
	return out, nil
}

func (d *Device) DeletePrint(ctx context.Context, p fingerprint.Print) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, stored := range d.stored {
		if stored.Key() == p.Key() {
			d.stored = append(d.stored[:i], d.stored[i+1:]...)
			return nil
		}
	}
	return nil
}

func (d *Device) ClearStorage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stored = nil
	return nil
}

// OldestPrint returns the device's resident print with the earliest
// EnrollDate, used by internal/device's garbage collector test harness.
func (d *Device) OldestPrint() (fingerprint.Print, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stored) == 0 {
		return fingerprint.Print{}, false
	}
	sorted := make([]fingerprint.Print, len(d.stored))
	copy(sorted, d.stored)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EnrollDate.Before(sorted[j].EnrollDate) })
	return sorted[0], true
}
