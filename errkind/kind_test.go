package errkind

import (
	"errors"
	"testing"
)

func TestBareKindIsError(t *testing.T) {
	var err error = NotFound
	if err.Error() != "NOT_FOUND" {
		t.Fatalf("Error() = %q, want NOT_FOUND", err.Error())
	}
}

func TestWithMessagePreservesKind(t *testing.T) {
	err := InvalidName.WithMessage("name too long")
	if !errors.Is(err, InvalidName) {
		t.Fatal("expected errors.Is to match InvalidName")
	}
	k, ok := Of(err)
	if !ok || k != InvalidName {
		t.Fatalf("Of(err) = %v, %v", k, ok)
	}
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("short read")
	err := Timeout.Wrap(cause)
	if !errors.Is(err, Timeout) {
		t.Fatal("expected errors.Is to match Timeout")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to unwrap to cause")
	}
}
