package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing(code int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return 0, &StatusError{StatusCode: code} }
}

func ok(context.Context) (int, error) { return 1, nil }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("gateway", threshold, time.Minute)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2)
	ctx := context.Background()

	_, _ = Call(ctx, b, failing(503))
	assert.Equal(t, BreakerClosed, b.State())
	_, _ = Call(ctx, b, failing(503))
	assert.Equal(t, BreakerOpen, b.State())

	_, err := Call(ctx, b, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1)
	_, err := Call(context.Background(), b, failing(404))
	require.Error(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	ctx := context.Background()

	_, _ = Call(ctx, b, failing(500))
	require.Equal(t, BreakerOpen, b.State())

	clock.advance(time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())

	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = Call(ctx, b, failing(502))
	}
	clock.advance(2 * time.Minute)

	_, _ = Call(ctx, b, failing(502))
	assert.Equal(t, BreakerOpen, b.State())
	_, err := Call(ctx, b, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_Nil(t *testing.T) {
	t.Parallel()

	v, err := Call(context.Background(), nil, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
