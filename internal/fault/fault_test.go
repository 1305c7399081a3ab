package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Newf(KindCodeMismatch, "order %s", "abc123")
	if !errors.Is(err, ErrCodeMismatch) {
		t.Fatal("expected errors.Is to match by kind")
	}
	if errors.Is(err, ErrMalformedCode) {
		t.Fatal("different kinds must not match")
	}
}

func TestKindOfWrappedChain(t *testing.T) {
	base := Wrap(KindNetworkFailure, "fetch live orders", errors.New("connection refused"))
	wrapped := fmt.Errorf("refresh: %w", base)

	if got := KindOf(wrapped); got != KindNetworkFailure {
		t.Fatalf("expected %s, got %s", KindNetworkFailure, got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindServerRejected, "complete order", errors.New("order cancelled"))
	if err.Error() != "complete order: order cancelled" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if errors.Unwrap(err).Error() != "order cancelled" {
		t.Fatal("Unwrap should expose the cause")
	}
}

func TestKindClassification(t *testing.T) {
	if !KindNetworkFailure.Retryable() {
		t.Fatal("network failures are retryable")
	}
	if KindServerRejected.Retryable() {
		t.Fatal("server rejections are not retryable")
	}
	for _, k := range []Kind{KindMalformedCode, KindCodeMismatch, KindInvalidTransition} {
		if !k.UserCorrectable() {
			t.Fatalf("%s should be user correctable", k)
		}
	}
	if KindAlreadyCompleted.UserCorrectable() {
		t.Fatal("already completed is not a validation failure")
	}
}
