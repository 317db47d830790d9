package transport

import "time"

// backoffDelay computes the reconnect delay for the given attempt:
// base doubled per attempt, capped at max, plus jitter of up to half
// the capped delay. rnd must return values in [0, 1).
func backoffDelay(attempt int, base, max time.Duration, rnd func() float64) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rnd() * float64(d) / 2)
	return d + jitter
}
