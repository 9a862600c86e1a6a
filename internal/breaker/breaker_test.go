package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func testConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func fail() (int, error) { return 0, errBackend }

func TestBreaker_TripsAndRecovers(t *testing.T) {
	b := New[int](testConfig("test-trip"), nil, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Execute(fail)
		require.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(stateGauge.WithLabelValues("test-trip")))

	_, err := b.Execute(func() (int, error) { return 1, nil })
	require.Error(t, err)
	assert.True(t, IsOpen(err))

	time.Sleep(80 * time.Millisecond)

	v, err := b.Execute(func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(stateGauge.WithLabelValues("test-trip")))
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	errInput := errors.New("bad input")
	b := New[int](testConfig("test-ignore"), nil, func(err error) bool {
		return errors.Is(err, errInput)
	})

	for i := 0; i < 5; i++ {
		_, err := b.Execute(func() (int, error) { return 0, errInput })
		require.ErrorIs(t, err, errInput)
		_, err = b.Execute(func() (int, error) { return 0, context.Canceled })
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(ErrOpen))
	assert.True(t, IsOpen(ErrTooManyRequests))
	assert.False(t, IsOpen(errBackend))
	assert.False(t, IsOpen(nil))
}
