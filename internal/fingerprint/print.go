package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Print is an opaque serializable blob plus the metadata the core treats
// as authoritative: the data itself is driver-defined and never inspected
// by this package.
type Print struct {
	Driver     string    `json:"driver"`
	DeviceID   string    `json:"device_id"`
	Username   string    `json:"username"`
	Finger     Finger    `json:"finger"`
	EnrollDate time.Time `json:"enroll_date"`
	Data       []byte    `json:"data"`
}

// Key identifies a print independent of its serialized contents.
type Key struct {
	Driver   string
	DeviceID string
	Username string
	Finger   Finger
}

// Key returns the identity tuple used to address this print in a store.
func (p Print) Key() Key {
	return Key{Driver: p.Driver, DeviceID: p.DeviceID, Username: p.Username, Finger: p.Finger}
}

// Equal reports whether two prints share the same identity tuple. The core
// never compares the opaque Data payload; driver equality is the driver's
// business, not the store's.
func (p Print) Equal(other Print) bool {
	return p.Key() == other.Key()
}

// Marshal serializes a Print deterministically, mirroring types.go's
// explicit Marshal/Unmarshal pair rather than relying on callers to
// remember to call json.Marshal directly.
func (p Print) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("fingerprint: marshal print: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Print previously produced by Marshal and validates
// that the decoded identity is internally consistent.
func Unmarshal(data []byte) (Print, error) {
	var p Print
	if err := json.Unmarshal(data, &p); err != nil {
		return Print{}, fmt.Errorf("fingerprint: unmarshal print: %w", err)
	}
	if p.Username == "" {
		return Print{}, fmt.Errorf("fingerprint: decoded print has empty username")
	}
	return p, nil
}

// New builds a fresh template for an enrollment attempt, stamping today's
// date the way the reference daemon records enroll_date at capture start.
func New(driver, deviceID, username string, finger Finger) Print {
	now := time.Now()
	return Print{
		Driver:     driver,
		DeviceID:   deviceID,
		Username:   username,
		Finger:     finger,
		EnrollDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}
}
