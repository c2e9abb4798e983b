package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		permanent bool
		temporary bool
		notFound  bool
		invalid   bool
		retryable bool
	}{
		{"permanent", NewPermanent("bad payload", cause), true, false, false, false, false},
		{"temporary", NewTemporary("redis down", cause), false, true, false, false, true},
		{"not found", NewNotFound("Player", "p1"), false, false, true, false, true},
		{"invalid input", NewInvalidInput("action", "unknown"), false, false, false, true, false},
		{"plain", cause, false, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := IsTemporary(tt.err); got != tt.temporary {
				t.Errorf("IsTemporary = %v, want %v", got, tt.temporary)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsInvalidInput(tt.err); got != tt.invalid {
				t.Errorf("IsInvalidInput = %v, want %v", got, tt.invalid)
			}
			if got := Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestRetryableNil(t *testing.T) {
	if Retryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestWrapPreservesCategory(t *testing.T) {
	base := NewTemporary("redis down", nil)
	wrapped := Wrap(base, "enqueue failed")
	if !IsTemporary(wrapped) {
		t.Fatalf("expected temporary, got %v", wrapped)
	}
	if wrapped.Error() != "enqueue failed: redis down" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}

	nf := Wrap(NewNotFound("Map", "m1"), "load m1")
	var nfe *NotFoundError
	if !As(nf, &nfe) {
		t.Fatalf("expected NotFoundError, got %T", nf)
	}
	if nfe.Resource() != "Map" || nfe.ID() != "m1" {
		t.Errorf("lost resource/id: %s/%s", nfe.Resource(), nfe.ID())
	}

	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) must return nil")
	}

	if !IsPermanent(Wrap(errors.New("boom"), "unclassified")) {
		t.Error("unclassified errors should wrap as permanent")
	}
}

func TestCircuitOpen(t *testing.T) {
	err := fmt.Errorf("cache get: %w", ErrCircuitOpen)
	if !IsCircuitOpen(err) {
		t.Error("expected IsCircuitOpen to see through wrapping")
	}
	if IsCircuitOpen(NewTemporary("other", nil)) {
		t.Error("unrelated error reported as circuit open")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{nil, CategoryUnknown},
		{errors.New("plain"), CategoryUnknown},
		{NewTemporary("redis down", nil), CategoryTemporary},
		{fmt.Errorf("outer: %w", NewPermanent("bad payload", nil)), CategoryPermanent},
		{NewPermanent("outer", NewTemporary("inner", nil)), CategoryPermanent},
		{NewNotFound("Player", "p1"), CategoryNotFound},
		{NewInvalidInput("entity_type", "unknown"), CategoryInvalidInput},
	}

	for _, tt := range tests {
		if got := CategoryOf(tt.err); got != tt.want {
			t.Errorf("CategoryOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestWrapInvalidInputKeepsField(t *testing.T) {
	err := Wrap(NewInvalidInput("entity_type", "unknown type"), "decode job")
	var iie *InvalidInputError
	if !As(err, &iie) {
		t.Fatalf("expected InvalidInputError, got %T", err)
	}
	if iie.Field() != "entity_type" {
		t.Errorf("Field() = %q, want entity_type", iie.Field())
	}
	if Retryable(err) {
		t.Error("wrapped invalid input must not be retryable")
	}
}
