package driver

import "testing"

func TestErrorKindPredicates(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"retry", &RetryError{Reason: "swipe too short"}, IsRetryError},
		{"protocol", &ProtocolError{Reason: "unplugged"}, IsProtocolError},
		{"data-full", &DataFullError{}, IsDataFullError},
		{"data-not-found", &DataNotFoundError{}, IsDataNotFoundError},
	}
	for _, tc := range cases {
		if !tc.is(tc.err) {
			t.Errorf("%s: expected predicate to report true for its own error type", tc.name)
		}
	}
}

func TestErrorKindPredicatesAreExclusive(t *testing.T) {
	var err error = &RetryError{Reason: "x"}
	if IsProtocolError(err) || IsDataFullError(err) || IsDataNotFoundError(err) {
		t.Fatal("expected a RetryError to fail every other kind's predicate")
	}
}
