package realtime

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 0)) {
		return b.Max
	}
	return time.Duration(delay)
}
