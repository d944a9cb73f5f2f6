package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryAfterSecRoundsUp(t *testing.T) {
	err := fmt.Errorf("check comment: %w", &RateLimitedError{RetryAfter: 59*time.Second + 200*time.Millisecond})

	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limited error")
	}
	if rl.RetryAfterSec() != 60 {
		t.Fatalf("unexpected retry_after: %d", rl.RetryAfterSec())
	}

	zero := &FarmingError{}
	if zero.RetryAfterSec() != 1 {
		t.Fatalf("retry_after must be at least one second, got %d", zero.RetryAfterSec())
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	err := fmt.Errorf("insert activity: %w", Unavailable(context.DeadlineExceeded))

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable kind")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be preserved")
	}
	if Unavailable(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestKindHelpersRejectOtherErrors(t *testing.T) {
	if _, ok := IsBlocked(ErrNotFound); ok {
		t.Fatalf("not found must not match blocked")
	}
	if _, ok := IsFarming(&BlockedError{Reason: "ip_blacklisted"}); ok {
		t.Fatalf("blocked must not match farming")
	}
}
