package uplink

import (
	"fmt"
	"time"
)

// RetryPolicy computes backoff delays and attempt-admission decisions for
// failed deliveries. It is immutable once validated; the core copies it
// as part of Config.
type RetryPolicy struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `yaml:"max_delay"`
	// MaxAttempts bounds the total number of delivery attempts, including
	// the first send. 0 means unlimited.
	MaxAttempts uint16 `yaml:"max_attempts"`
	// JitterPercent spreads each delay uniformly over
	// [delay*(1-p/100), delay*(1+p/100)]. Valid range is 0..100.
	JitterPercent uint8 `yaml:"jitter_percent"`
}

// Validate checks the policy for internal consistency.
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidArgument)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("%w: retry max delay below base delay", ErrInvalidArgument)
	}
	if p.JitterPercent > 100 {
		return fmt.Errorf("%w: jitter percent above 100", ErrInvalidArgument)
	}
	return nil
}

// AttemptAllowed reports whether the given attempt may proceed. Attempt
// numbers are 1-based and include the first send.
func (p RetryPolicy) AttemptAllowed(nextAttempt uint16) bool {
	if p.MaxAttempts == 0 {
		return true
	}
	return nextAttempt <= p.MaxAttempts
}

// Delay computes the backoff before the attempt following the given one.
// random feeds the jitter draw; passing the same value yields the same
// delay, which keeps the computation a pure function.
//
// The base delay doubles per attempt and is clamped to MaxDelay at every
// step, so large attempt numbers cannot overflow.
func (p RetryPolicy) Delay(attempt uint16, random uint32) time.Duration {
	if attempt == 0 {
		attempt = 1
	}

	delayMS := uint64(p.BaseDelay / time.Millisecond)
	maxMS := uint64(p.MaxDelay / time.Millisecond)
	for i := uint16(1); i < attempt; i++ {
		if delayMS >= maxMS {
			delayMS = maxMS
			break
		}
		if delayMS > maxMS/2 {
			delayMS = maxMS
		} else {
			delayMS *= 2
		}
	}

	if p.JitterPercent == 0 {
		return time.Duration(delayMS) * time.Millisecond
	}

	jitterMS := delayMS * uint64(p.JitterPercent) / 100
	if jitterMS > delayMS {
		jitterMS = delayMS
	}
	if jitterMS == 0 {
		return time.Duration(delayMS) * time.Millisecond
	}

	// Uniform draw over [delay-jitter, delay+jitter].
	span := 2*jitterMS + 1
	result := delayMS - jitterMS + uint64(random)%span
	if result > maxMS {
		result = maxMS
	}
	return time.Duration(result) * time.Millisecond
}
