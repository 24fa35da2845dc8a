// Package backoff computes retry delays for failed delivery attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Config bounds the exponential backoff curve.
type Config struct {
	BaseDelay time.Duration // delay after the first failed attempt
	MaxDelay  time.Duration // ceiling for the exponential growth
}

// Default returns the gateway delivery backoff bounds.
func Default() Config {
	return Config{
		BaseDelay: 10 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

// Delay computes the delay before retrying after the given attempt using
// exponential backoff with full jitter. attempt is 1-based (1 => BaseDelay).
func Delay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	// exponential: base * 2^(attempt-1), capped to avoid overflow on shift
	delay := cfg.BaseDelay
	for i := 1; i < attempt && delay < cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	// full jitter: random in [0, delay]
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(rng.Int63n(int64(delay) + 1))
}

// NextRetryAt returns the wall-clock time of the next attempt.
func NextRetryAt(now time.Time, attempt int, cfg Config, rng *rand.Rand) time.Time {
	return now.Add(Delay(cfg, attempt, rng)).UTC()
}
