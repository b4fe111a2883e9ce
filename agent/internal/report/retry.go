package report

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

const (
	retryInitial    = 500 * time.Millisecond
	retryMax        = 8 * time.Second
	retryMultiplier = 2.0
	retryAttempts   = 3
)

// statusError is a webhook response outside the 2xx/3xx range.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.code)
}

// isPermanentError reports whether retrying the delivery cannot help: the
// target rejected the payload itself.
func isPermanentError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

// retry runs send up to attempts times, waiting with backoff between tries.
// Permanent errors and context cancellation stop it early.
func retry(ctx context.Context, attempts int, bo *backoff, send func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = send(); err == nil || isPermanentError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(bo.next())
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * retryMultiplier)
	if b.current > retryMax {
		b.current = retryMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
