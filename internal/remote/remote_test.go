package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&Error{Op: "put", Path: "results/results_QA.csv", Status: 409, Kind: ErrConflict, Err: cause})

	if !errors.Is(err, ErrConflict) || !errors.Is(err, cause) {
		t.Fatalf("expected error to match kind and cause")
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("did not expect ErrAuth")
	}

	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.Status != 409 {
		t.Fatalf("expected *Error with status, got %v", err)
	}

	msg := err.Error()
	for _, part := range []string{"put", "results_QA.csv", "409", "version conflict", "boom"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("expected %q in %q", part, msg)
		}
	}
}

func TestKindFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		expect error
	}{
		{status: 200, expect: nil},
		{status: 400, expect: nil},
		{status: 401, expect: ErrAuth},
		{status: 403, expect: ErrAuth},
		{status: 404, expect: ErrNotFound},
		{status: 408, expect: ErrTransient},
		{status: 409, expect: ErrConflict},
		{status: 412, expect: ErrConflict},
		{status: 429, expect: ErrTransient},
		{status: 502, expect: ErrTransient},
	}

	for _, tt := range tests {
		if got := KindFromStatus(tt.status); got != tt.expect {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.expect, got)
		}
	}
}

func TestKindOfAndRetryable(t *testing.T) {
	t.Parallel()

	wrapped := &Error{Op: "get", Kind: ErrTransient}
	if KindOf(wrapped) != ErrTransient || !IsRetryable(wrapped) {
		t.Fatalf("transient errors must be retryable")
	}
	if IsRetryable(&Error{Op: "put", Kind: ErrAuth}) {
		t.Fatalf("auth errors must not be retryable")
	}
	if KindOf(errors.New("other")) != nil {
		t.Fatalf("expected nil kind for foreign errors")
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := TransportError(context.Background(), "get", "a.csv", errors.New("dial tcp: refused"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := TransportError(ctx, "get", "a.csv", errors.New("canceled")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
