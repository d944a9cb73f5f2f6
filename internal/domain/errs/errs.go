package errs

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

type RateLimitedError struct {
	Subject    string
	ActionType string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "rate limited"
}

// RetryAfterSec never reports less than one second.
func (e *RateLimitedError) RetryAfterSec() int64 {
	return ceilSeconds(e.RetryAfter)
}

type BlockedError struct {
	Reason   string
	Severity string
}

func (e *BlockedError) Error() string {
	return "blocked: " + e.Reason
}

type FarmingError struct {
	Reason     string
	Count      int
	RetryAfter time.Duration
}

func (e *FarmingError) Error() string {
	return "reputation farming detected: " + e.Reason
}

func (e *FarmingError) RetryAfterSec() int64 {
	return ceilSeconds(e.RetryAfter)
}

func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func IsBlocked(err error) (*BlockedError, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

func IsFarming(err error) (*FarmingError, bool) {
	var farming *FarmingError
	if errors.As(err, &farming) {
		return farming, true
	}
	return nil, false
}

// Unavailable marks err as an infrastructure failure while keeping the cause.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{cause: err}
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrStoreUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.cause}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
