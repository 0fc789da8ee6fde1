package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(NotFound, "file %s not found", "abc")
	wrapped := fmt.Errorf("reading: %w", base)
	if KindOf(wrapped) != NotFound {
		t.Errorf("KindOf(wrapped) = %v, want not_found", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Error("plain errors should be internal")
	}
	if !Is(wrapped, NotFound) || Is(nil, NotFound) {
		t.Error("Is mismatch")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(Unavailable, cause, "storage service unavailable")
	if !errors.Is(err, cause) {
		t.Error("Wrap should keep the cause in the chain")
	}
	if err.Error() != "storage service unavailable: dial tcp: refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMessage(t *testing.T) {
	if got := Message(New(Invalid, "no file uploaded")); got != "no file uploaded" {
		t.Errorf("Message = %q", got)
	}
	if got := Message(errors.New("sql: secret detail")); got != "internal server error" {
		t.Errorf("Message(internal) = %q", got)
	}
	if got := Message(Wrap(Internal, errors.New("x"), "boom")); got != "internal server error" {
		t.Errorf("Message(Internal kind) = %q", got)
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		Internal: "internal", Invalid: "invalid", NotFound: "not_found",
		ContentMissing: "content_missing", Unavailable: "unavailable",
	}
	for k, want := range tests {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}
