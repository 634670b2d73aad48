package classify

import (
	"math"
	"time"
)

// BackoffConfig defines exponential backoff behavior for retryable failures.
type BackoffConfig struct {
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultBackoff is the canonical policy: 5 minute base doubling up to a
// 1 hour cap. An earlier revision of the system used 1h/24h; 5m/1h was chosen
// because most transient failures here clear within minutes.
var DefaultBackoff = BackoffConfig{
	BaseDelay:       5 * time.Minute,
	MaxDelay:        time.Hour,
	BackoffMultiple: 2.0,
}

// NextRetry returns the earliest time the next attempt should run, given the
// number of retries already spent. The delay grows as base*multiple^count,
// capped at MaxDelay.
func (c BackoffConfig) NextRetry(now time.Time, retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffMultiple, float64(retryCount))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return now.Add(time.Duration(delay))
}
