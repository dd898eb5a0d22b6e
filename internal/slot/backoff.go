package slot

import "time"

// RetryDelay returns the backoff delay to wait after the given failed
// attempt (1-based): base, 2*base, 4*base, ... Kept free of any sleeping or
// I/O so retry timing can be asserted without real clocks.
func RetryDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << uint(attempt-1)
}
