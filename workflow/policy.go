package workflow

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"time"
)

// seededRNG returns a deterministic *rand.Rand derived from executionID, so
// replaying the same execution reproduces the same jitter sequence. Nodes
// that need randomness (retry jitter, sampling in a GenericHandler) should
// thread this through rather than calling the global math/rand source.
func seededRNG(executionID string) *rand.Rand {
	hash := sha256.Sum256([]byte(executionID))
	seed := int64(binary.BigEndian.Uint64(hash[:8]))
	return rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic replay, not security
}

// RetryPolicy configures exponential-backoff retry for a node or plan step.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// computeBackoff returns the delay before retry attempt N (0-based),
// exponential in attempt with jitter in [0, BaseDelay), capped at MaxDelay.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * time.Duration(int64(1)<<uint(attempt))
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}
	var jitter time.Duration
	if base > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(base)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter, not security
		}
	}
	return delay + jitter
}

func (p *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if p == nil || err == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}
