package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfSentinel(t *testing.T) {
	if got := CodeOf(ErrAtCapacity); got != CodeAtCapacity {
		t.Fatalf("CodeOf(ErrAtCapacity) = %q, want %q", got, CodeAtCapacity)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", ErrAlreadyAssigned)
	if got := CodeOf(wrapped); got != CodeAlreadyAssigned {
		t.Fatalf("CodeOf(wrapped) = %q, want %q", got, CodeAlreadyAssigned)
	}
	if !errors.Is(wrapped, ErrAlreadyAssigned) {
		t.Fatal("expected errors.Is to match through %w wrapping")
	}
}

func TestCodeOfUnknown(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeServerError {
		t.Fatalf("CodeOf(unknown) = %q, want %q", got, CodeServerError)
	}
}

func TestMessageOfUnknown(t *testing.T) {
	if got := MessageOf(errors.New("boom")); got != "internal server error" {
		t.Fatalf("MessageOf(unknown) = %q", got)
	}
}
