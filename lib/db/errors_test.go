package db

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrConflict("k", "1-a"))

	if !IsConflict(wrapped) {
		t.Error("IsConflict must see through wrapping")
	}
	if IsNotFound(wrapped) {
		t.Error("a conflict is not a missing document")
	}
	if !IsTransient(wrapped) {
		t.Error("conflicts are transient")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("plain errors are internal")
	}
	if IsTransient(ErrNotFound("k")) || IsTransient(nil) {
		t.Error("not found and nil are not transient")
	}
	if WrapError(CodeInvalid, nil, "nothing") != nil {
		t.Error("WrapError of nil must be nil")
	}

	cause := errors.New("disk full")
	err := WrapError(CodeUnavailable, cause, "write %s", "k")
	if !errors.Is(err, cause) {
		t.Error("WrapError must keep the cause")
	}
	if CodeOf(err) != CodeUnavailable || !IsTransient(err) {
		t.Errorf("unexpected code %s", CodeOf(err))
	}
}
