package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := NotFound("session %s not found", "term-build")
	if KindOf(err) != KindNotFound {
		t.Errorf("expected kind %q, got %q", KindNotFound, KindOf(err))
	}
	if err.Error() != "session term-build not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("bind: address already in use")
	err := fmt.Errorf("allocate display: %w", Wrap(KindResourceBusy, cause, "VNC port 5900 is in use"))

	if !IsKind(err, KindResourceBusy) {
		t.Errorf("expected resource_busy through wrapping, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to survive errors.Is")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error should have no kind")
	}
}
