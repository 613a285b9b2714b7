package fingerprint

import "testing"

func TestParseFingerRoundTrip(t *testing.T) {
	for _, f := range AllSlots() {
		name := f.String()
		got, err := ParseFinger(name)
		if err != nil {
			t.Fatalf("ParseFinger(%q): %v", name, err)
		}
		if got != f {
			t.Fatalf("ParseFinger(%q) = %v, want %v", name, got, f)
		}
	}
}

func TestParseFingerInvalidName(t *testing.T) {
	if _, err := ParseFinger("not-a-finger"); err == nil {
		t.Fatal("expected error for invalid finger name")
	}
}

func TestParseFingerHexDigitRoundTrip(t *testing.T) {
	for _, f := range AllSlots() {
		digit := f.HexDigit()
		got, err := ParseFingerHexDigit(digit)
		if err != nil {
			t.Fatalf("ParseFingerHexDigit(%q): %v", digit, err)
		}
		if got != f {
			t.Fatalf("ParseFingerHexDigit(%q) = %v, want %v", digit, got, f)
		}
	}
}

func TestParseFingerHexDigitOutOfRange(t *testing.T) {
	if _, err := ParseFingerHexDigit("ff"); err == nil {
		t.Fatal("expected error for out-of-range hex digit")
	}
}

func TestUnknownStringIsAny(t *testing.T) {
	if Unknown.String() != "any" {
		t.Fatalf("expected Unknown.String() == \"any\", got %q", Unknown.String())
	}
}
