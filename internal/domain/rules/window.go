package rules

import "time"

// Running activity counters keep one bucket per minute for at most a day.
const (
	CounterBucket    = time.Minute
	MaxCounterWindow = 24 * time.Hour
)

// WindowStart aligns now to the start of its fixed window, counted from the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	now = now.UTC()
	if window <= 0 {
		return now
	}
	size := window.Nanoseconds()
	offset := now.UnixNano() % size
	if offset < 0 {
		offset += size
	}
	return time.Unix(0, now.UnixNano()-offset).UTC()
}

func NextWindowAt(now time.Time, window time.Duration) time.Time {
	return WindowStart(now, window).Add(window)
}

func WindowDuration(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}
