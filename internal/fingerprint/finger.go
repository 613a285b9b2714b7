// Package fingerprint defines the finger-slot enumeration and the print
// template type shared by the store, driver, and device packages.
//
// Serialization follows types.go's pattern in the teacher repo: plain
// JSON-tagged structs with explicit Marshal/Unmarshal helpers rather than a
// reflection-heavy codec, and identifiers derived deterministically the way
// identity.go derives image IDs.
package fingerprint

import "fmt"

// Finger is the small fixed enumeration of anatomical scan positions plus
// the Unknown sentinel meaning "any/unspecified".
type Finger int

const (
	Unknown Finger = iota
	LeftThumb
	LeftIndex
	LeftMiddle
	LeftRing
	LeftLittle
	RightThumb
	RightIndex
	RightMiddle
	RightRing
	RightLittle
)

var fingerNames = map[Finger]string{
	Unknown:     "any",
	LeftThumb:   "left-thumb",
	LeftIndex:   "left-index-finger",
	LeftMiddle:  "left-middle-finger",
	LeftRing:    "left-ring-finger",
	LeftLittle:  "left-little-finger",
	RightThumb:  "right-thumb",
	RightIndex:  "right-index-finger",
	RightMiddle: "right-middle-finger",
	RightRing:   "right-ring-finger",
	RightLittle: "right-little-finger",
}

var namesToFinger = func() map[string]Finger {
	m := make(map[string]Finger, len(fingerNames))
	for f, name := range fingerNames {
		m[name] = f
	}
	return m
}()

// String returns the lowercase-hyphenated bus name for the slot.
func (f Finger) String() string {
	if name, ok := fingerNames[f]; ok {
		return name
	}
	return "any"
}

// HexDigit returns the single lower-hex-digit filename component used by
// the reference store backend to name a print file within a leaf directory.
func (f Finger) HexDigit() string {
	return fmt.Sprintf("%x", int(f))
}

// ParseFinger resolves a bus-facing finger name back to its enum value.
func ParseFinger(name string) (Finger, error) {
	if f, ok := namesToFinger[name]; ok {
		return f, nil
	}
	return Unknown, fmt.Errorf("fingerprint: invalid finger name %q", name)
}

// ParseFingerHexDigit resolves a single hex-digit filename component back
// to its enum value, validating it is one of the eleven known slots.
func ParseFingerHexDigit(digit string) (Finger, error) {
	var n int
	if _, err := fmt.Sscanf(digit, "%x", &n); err != nil {
		return Unknown, fmt.Errorf("fingerprint: invalid finger digit %q: %w", digit, err)
	}
	if n < int(Unknown) || n > int(RightLittle) {
		return Unknown, fmt.Errorf("fingerprint: finger digit %q out of range", digit)
	}
	return Finger(n), nil
}

// AllSlots returns the ten real anatomical slots, excluding Unknown, in
// enumeration order.
func AllSlots() []Finger {
	return []Finger{
		LeftThumb, LeftIndex, LeftMiddle, LeftRing, LeftLittle,
		RightThumb, RightIndex, RightMiddle, RightRing, RightLittle,
	}
}
