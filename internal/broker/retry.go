package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"
)

// RetryPolicy bounds the retry behavior for rate-limited requests. It is
// injected into the client so tests can run without real sleeps.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Sleep is overridable in tests; defaults to a context-aware time.After wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries rate-limited calls up to 3 times with
// exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("canceled during backoff: %w", ctx.Err())
	}
}

// nextBackoff doubles the backoff, caps it, and adds up to 25% jitter.
func (p RetryPolicy) nextBackoff(current time.Duration) time.Duration {
	backoff := current * 2
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}
