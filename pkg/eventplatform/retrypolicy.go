package eventplatform

import "time"

// MaxRetryAttempts is the attempt cap enforced by the retry scheduler
// (spec §4.4 Retry policy). Past this cap a FAILED_RETRYABLE event is
// driven to FAILED_TERMINAL instead of QUEUED.
const MaxRetryAttempts = 5

// NextRetryDelay returns the delay before attempt n (n >= 1) should be
// re-enqueued: min(2^n, 60) seconds.
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := 1 << uint(attempt)
	if attempt > 30 { // guard against overflow for pathological attempt counts
		seconds = 1 << 30
	}
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
