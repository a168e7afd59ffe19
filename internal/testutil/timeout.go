package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for engine operations.
const (
	// DefaultRequestTimeout covers a single engine request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultJobTimeout covers submitting a job and polling it to a
	// terminal state.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultTestBuffer is subtracted from the test deadline to leave time
	// for cleanup.
	DefaultTestBuffer = 10 * time.Second
)

// ContextWithTestDeadline returns a context ending DefaultTestBuffer before
// the test deadline, or after fallback when the test has none.
//
//	ctx, cancel := testutil.ContextWithTestDeadline(t, time.Minute)
//	defer cancel()
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer is ContextWithTestDeadline with a custom
// buffer. A deadline already within the buffer falls back to fallback.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if time.Until(adjusted) > 0 {
			t.Logf("Using test deadline: %v (buffer: %v)", time.Until(adjusted).Round(time.Second), buffer)
			return context.WithDeadline(context.Background(), adjusted)
		}
	}

	t.Logf("Using fallback timeout: %v", fallback)
	return context.WithTimeout(context.Background(), fallback)
}

// ContextWithTimeout returns a context with timeout, logging it.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	t.Logf("Context timeout: %v", timeout)
	return context.WithTimeout(context.Background(), timeout)
}

// JobContext bounds a submit-and-poll cycle.
func JobContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultJobTimeout)
}

// RequestContext bounds a single request such as a health check.
func RequestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultRequestTimeout)
}
